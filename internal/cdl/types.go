// Package cdl defines the Common Data Layer's core domain types: insert
// messages, schema metadata, view definitions, and the recursive field,
// computation, relation and tree types the materialization pipeline walks.
package cdl

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InsertMessage is the immutable wire shape of a single routed insert.
type InsertMessage struct {
	ObjectID      uuid.UUID       `json:"object_id"`
	SchemaID      uuid.UUID       `json:"schema_id"`
	OrderGroupID  *uuid.UUID      `json:"order_group_id,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// RouterOptions carries per-insert routing overrides.
type RouterOptions struct {
	RepositoryID *uuid.UUID `json:"repository_id,omitempty"`
}

// DataRouterInsert is the payload shape the Data Router accepts, singly or
// batched as a JSON array.
type DataRouterInsert struct {
	ObjectID     uuid.UUID       `json:"object_id"`
	SchemaID     uuid.UUID       `json:"schema_id"`
	OrderGroupID *uuid.UUID      `json:"order_group_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	Options      RouterOptions   `json:"options"`
}

// BorrowedInsertMessage is what the router republishes downstream.
type BorrowedInsertMessage struct {
	ObjectID  uuid.UUID       `json:"object_id"`
	SchemaID  uuid.UUID       `json:"schema_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NowMillis is the router's clock; a var so tests can stub it.
var NowMillis = func() int64 { return time.Now().UnixMilli() }

// SchemaType distinguishes storage semantics for a schema's insert destination.
type SchemaType string

const (
	SchemaTypeDocumentStorage SchemaType = "DocumentStorage"
	SchemaTypeTimeseries      SchemaType = "Timeseries"
)

// SchemaMetadata is the registry's cached answer for a schema_id.
type SchemaMetadata struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	InsertDestination string     `json:"insert_destination"`
	QueryAddress      string     `json:"query_address"`
	SchemaType        SchemaType `json:"schema_type"`
}

// TimeseriesPoint is a single sample returned by a range query.
type TimeseriesPoint struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ObjectKey identifies a single object by its owning schema and its id.
type ObjectKey struct {
	SchemaID uuid.UUID
	ObjectID uuid.UUID
}
