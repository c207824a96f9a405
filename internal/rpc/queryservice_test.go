package rpc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

func TestObjectMapStructRoundTrip(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	m := map[uuid.UUID][]byte{
		id1: []byte(`{"a":1}`),
		id2: []byte(`{"b":2}`),
	}

	s, err := objectMapToStruct(m)
	require.NoError(t, err)

	decoded, err := structToObjectMap(s)
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestTimeseriesPointsRoundTrip(t *testing.T) {
	points := []cdl.TimeseriesPoint{
		{Timestamp: 1000, Data: []byte(`{"v":1}`)},
		{Timestamp: 2000, Data: []byte(`{"v":2}`)},
	}

	s, err := newStruct(map[string]any{"points": timeseriesPointsToValue(points)})
	require.NoError(t, err)

	decoded, err := structToTimeseriesPoints(getList(s, "points"))
	require.NoError(t, err)
	require.Equal(t, points, decoded)
}
