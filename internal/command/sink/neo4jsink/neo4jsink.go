// Package neo4jsink is an OutputPlugin storing objects as Neo4j nodes,
// grounded on the teacher's generic pkg/repo.Neo4jRepo and
// engine/graph.GraphStore's session-per-call style.
package neo4jsink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// Sink writes BorrowedInsertMessages as nodes carrying the one label
// given to New, whatever their schema, upserting by object_id with a timestamp guard so a redelivery of an
// older message never clobbers a newer write — the command service's
// at-least-once idempotency mechanism for this backend.
type Sink struct {
	driver neo4j.DriverWithContext
	label  string
}

// New creates a Sink writing nodes labeled label.
func New(driver neo4j.DriverWithContext, label string) *Sink {
	return &Sink{driver: driver, label: label}
}

func (s *Sink) Name() string { return "neo4jsink:" + s.label }

// upsertCypher merges a node by object_id and only overwrites its
// properties when the incoming timestamp is not older than the stored
// one, implementing the idempotent-upsert-by-object_id-with-timestamp-
// guard contract every sink must honor.
const upsertCypher = `
MERGE (n:` + "%s" + ` {object_id: $object_id})
ON CREATE SET n.data = $data, n.timestamp = $timestamp, n.schema_id = $schema_id
ON MATCH SET n.data = CASE WHEN $timestamp >= n.timestamp THEN $data ELSE n.data END,
             n.timestamp = CASE WHEN $timestamp >= n.timestamp THEN $timestamp ELSE n.timestamp END
RETURN n.timestamp AS applied_timestamp
`

func (s *Sink) Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution {
	var probe any
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return cdl.UserFailure{
			Description: fmt.Sprintf("neo4jsink: payload is not valid JSON: %v", err),
			ObjectID:    msg.ObjectID,
			Context:     s.Name(),
		}
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(upsertCypher, s.label)
	result, err := sess.Run(ctx, cypher, map[string]any{
		"object_id": msg.ObjectID.String(),
		"schema_id": msg.SchemaID.String(),
		"data":      string(msg.Data),
		"timestamp": msg.Timestamp,
	})
	if err == nil {
		// Run streams lazily; Consume forces the write and surfaces any
		// server-side error before we report Success.
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return cdl.StorageLayerFailure{
			Description: fmt.Sprintf("neo4jsink: upsert failed: %v", err),
			ObjectID:    msg.ObjectID,
		}
	}

	return cdl.Success{}
}
