// Package cassandrasink is an OutputPlugin storing Timeseries schema
// objects as wide rows keyed by (schema_id, object_id), clustered by
// timestamp, grounded on axonops-axonops-schema-registry's
// gocql.Session query style.
package cassandrasink

import (
	"context"
	"fmt"

	gocql "github.com/apache/cassandra-gocql-driver/v2"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// Sink writes BorrowedInsertMessages into a Cassandra table partitioned
// by (schema_id, object_id) and clustered by timestamp. Writes are
// naturally idempotent: re-inserting the same (object_id, timestamp)
// row overwrites identically, satisfying the idempotent-upsert contract
// without a separate guard.
type Sink struct {
	session  *gocql.Session
	keyspace string
	table    string
}

// New creates a Sink writing into keyspace.table.
func New(session *gocql.Session, keyspace, table string) *Sink {
	return &Sink{session: session, keyspace: keyspace, table: table}
}

func (s *Sink) Name() string { return "cassandrasink:" + s.table }

func (s *Sink) Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution {
	stmt := fmt.Sprintf(
		`INSERT INTO %s.%s (schema_id, object_id, ts, data) VALUES (?, ?, ?, ?)`,
		s.keyspace, s.table,
	)
	err := s.session.Query(stmt, msg.SchemaID.String(), msg.ObjectID.String(), msg.Timestamp, []byte(msg.Data)).
		WithContext(ctx).
		Exec()
	if err != nil {
		return cdl.StorageLayerFailure{
			Description: fmt.Sprintf("cassandrasink: insert failed: %v", err),
			ObjectID:    msg.ObjectID,
		}
	}
	return cdl.Success{}
}

// QueryByRange reads the points for a single object between from and to
// (inclusive), stepping by step milliseconds. Backs
// internal/rpc.QueryServiceClient.QueryByRange for Timeseries schemas.
func (s *Sink) QueryByRange(ctx context.Context, schemaID, objectID string, from, to, step int64) ([]cdl.TimeseriesPoint, error) {
	stmt := fmt.Sprintf(
		`SELECT ts, data FROM %s.%s WHERE schema_id = ? AND object_id = ? AND ts >= ? AND ts <= ?`,
		s.keyspace, s.table,
	)
	iter := s.session.Query(stmt, schemaID, objectID, from, to).WithContext(ctx).Iter()

	var points []cdl.TimeseriesPoint
	var ts int64
	var data []byte
	lastStepped := from - step - 1
	for iter.Scan(&ts, &data) {
		if step > 0 && ts-lastStepped < step {
			continue
		}
		points = append(points, cdl.TimeseriesPoint{Timestamp: ts, Data: append([]byte(nil), data...)})
		lastStepped = ts
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandrasink: range query: %w", err)
	}
	return points, nil
}
