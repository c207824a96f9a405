package rpc

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

func TestMaterializedViewStructRoundTrip(t *testing.T) {
	objID := uuid.New()
	view := cdl.MaterializedView{
		ViewID:  uuid.New(),
		Options: json.RawMessage(`{"foo":"bar"}`),
		Rows: []cdl.RowDefinition{
			{
				ObjectIDs: map[uuid.UUID]struct{}{objID: {}},
				Fields:    map[string]json.RawMessage{"name": json.RawMessage(`"widget"`)},
			},
		},
	}

	s, err := materializedViewToStruct(view)
	require.NoError(t, err)

	decoded, err := structToMaterializedView(s)
	require.NoError(t, err)

	require.Equal(t, view.ViewID, decoded.ViewID)
	require.JSONEq(t, string(view.Options), string(decoded.Options))
	require.Len(t, decoded.Rows, 1)
	require.Contains(t, decoded.Rows[0].ObjectIDs, objID)
	require.JSONEq(t, `"widget"`, string(decoded.Rows[0].Fields["name"]))
}
