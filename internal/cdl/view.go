package cdl

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ViewDefinition describes one materialized view: its base schema, the
// relation tree reachable from it, and the fields each emitted row carries.
type ViewDefinition struct {
	ID                  uuid.UUID
	BaseSchemaID        uuid.UUID
	MaterializerAddress string
	MaterializerOptions json.RawMessage
	Fields              map[string]FieldDef
	Relations           []Relation
}

// RowDefinition is one fully materialized output row.
type RowDefinition struct {
	ObjectIDs map[uuid.UUID]struct{}    `json:"-"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

type rowDefinitionWire struct {
	ObjectIDs []uuid.UUID                `json:"object_ids"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

// MarshalJSON renders ObjectIDs as a plain array for the wire.
func (r RowDefinition) MarshalJSON() ([]byte, error) {
	ids := make([]uuid.UUID, 0, len(r.ObjectIDs))
	for id := range r.ObjectIDs {
		ids = append(ids, id)
	}
	return json.Marshal(rowDefinitionWire{ObjectIDs: ids, Fields: r.Fields})
}

// UnmarshalJSON rebuilds the ObjectIDs set from the wire array.
func (r *RowDefinition) UnmarshalJSON(data []byte) error {
	var wire rowDefinitionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Fields = wire.Fields
	r.ObjectIDs = make(map[uuid.UUID]struct{}, len(wire.ObjectIDs))
	for _, id := range wire.ObjectIDs {
		r.ObjectIDs[id] = struct{}{}
	}
	return nil
}

// MaterializedView is one chunk streamed to the materializer sink.
type MaterializedView struct {
	ViewID  uuid.UUID       `json:"view_id"`
	Options json.RawMessage `json:"options"`
	Rows    []RowDefinition `json:"rows"`
}
