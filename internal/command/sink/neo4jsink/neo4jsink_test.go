package neo4jsink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// TestSinkRejectsMalformedPayload verifies the JSON-shape guard runs
// before any driver call, the same way the teacher's repo tests verify
// construction without exercising a live Neo4j connection.
func TestSinkRejectsMalformedPayload(t *testing.T) {
	s := New(nil, "Widget")
	resolution := s.Handle(context.Background(), cdl.BorrowedInsertMessage{
		ObjectID: uuid.New(),
		SchemaID: uuid.New(),
		Data:     json.RawMessage(`not json`),
	})

	failure, ok := resolution.(cdl.UserFailure)
	require.True(t, ok, "malformed payload must produce a UserFailure, not panic or reach the driver")
	require.Equal(t, "neo4jsink:Widget", failure.Context)
}

func TestSinkName(t *testing.T) {
	s := New(nil, "Widget")
	require.Equal(t, "neo4jsink:Widget", s.Name())
}
