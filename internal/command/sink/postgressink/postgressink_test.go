package postgressink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// TestSinkRejectsMalformedPayload verifies the JSON-shape guard runs
// before any driver call, matching the limited testability the other
// sinks exercise without a live backend connection.
func TestSinkRejectsMalformedPayload(t *testing.T) {
	s := New(nil, "widgets")
	resolution := s.Handle(context.Background(), cdl.BorrowedInsertMessage{
		ObjectID: uuid.New(),
		SchemaID: uuid.New(),
		Data:     json.RawMessage(`not json`),
	})

	failure, ok := resolution.(cdl.UserFailure)
	require.True(t, ok, "malformed payload must produce a UserFailure, not panic or reach the driver")
	require.Equal(t, "postgressink:widgets", failure.Context)
}

func TestSinkName(t *testing.T) {
	s := New(nil, "widgets")
	require.Equal(t, "postgressink:widgets", s.Name())
}
