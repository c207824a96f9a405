// Package postgressink is an OutputPlugin storing objects as JSONB
// documents, grounded on axonops-axonops-schema-registry's
// database/sql + lib/pq ON CONFLICT upsert style.
package postgressink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// Sink writes BorrowedInsertMessages into a documents table with a
// composite (schema_id, object_id) key, upserting the JSONB payload only
// when the incoming timestamp is not older than the stored one.
type Sink struct {
	db    *sql.DB
	table string
}

// New creates a Sink writing into table, which must have columns
// (schema_id uuid, object_id uuid, data jsonb, ts bigint,
// primary key (schema_id, object_id)).
func New(db *sql.DB, table string) *Sink {
	return &Sink{db: db, table: table}
}

func (s *Sink) Name() string { return "postgressink:" + s.table }

func (s *Sink) Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution {
	var probe any
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return cdl.UserFailure{
			Description: fmt.Sprintf("postgressink: payload is not valid JSON: %v", err),
			ObjectID:    msg.ObjectID,
			Context:     s.Name(),
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (schema_id, object_id, data, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schema_id, object_id) DO UPDATE SET
			data = CASE WHEN EXCLUDED.ts >= %s.ts THEN EXCLUDED.data ELSE %s.data END,
			ts   = CASE WHEN EXCLUDED.ts >= %s.ts THEN EXCLUDED.ts ELSE %s.ts END
	`, s.table, s.table, s.table, s.table, s.table)

	_, err := s.db.ExecContext(ctx, stmt, msg.SchemaID, msg.ObjectID, []byte(msg.Data), msg.Timestamp)
	if err != nil {
		return cdl.StorageLayerFailure{
			Description: fmt.Sprintf("postgressink: upsert failed: %v", err),
			ObjectID:    msg.ObjectID,
		}
	}
	return cdl.Success{}
}

// QueryByID reads a single stored document.
func (s *Sink) QueryByID(ctx context.Context, schemaID, objectID string) ([]byte, error) {
	var data []byte
	stmt := fmt.Sprintf(`SELECT data FROM %s WHERE schema_id = $1 AND object_id = $2`, s.table)
	err := s.db.QueryRowContext(ctx, stmt, schemaID, objectID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgressink: query by id: %w", err)
	}
	return data, nil
}

// QueryBySchema reads every document for a schema_id.
func (s *Sink) QueryBySchema(ctx context.Context, schemaID string) (map[string][]byte, error) {
	stmt := fmt.Sprintf(`SELECT object_id, data FROM %s WHERE schema_id = $1`, s.table)
	rows, err := s.db.QueryContext(ctx, stmt, schemaID)
	if err != nil {
		return nil, fmt.Errorf("postgressink: query by schema: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var objectID string
		var data []byte
		if err := rows.Scan(&objectID, &data); err != nil {
			return nil, fmt.Errorf("postgressink: scan: %w", err)
		}
		out[objectID] = data
	}
	return out, rows.Err()
}
