package cdl

import "encoding/json"

// Computation is a recursive expression evaluated against a completed row's
// objects to produce one field's value.
type Computation interface {
	computation()
}

// RawValueComputation yields a literal JSON value, ignoring the row.
type RawValueComputation struct {
	Value json.RawMessage
}

func (RawValueComputation) computation() {}

// FieldValueComputation projects a dotted field path out of the object
// identified by SchemaID (a view-local handle: BaseLocalID for the row's
// root object, otherwise a relation's LocalID).
type FieldValueComputation struct {
	SchemaID  LocalID
	FieldPath string
}

func (FieldValueComputation) computation() {}

// EqualsComputation evaluates both sides and yields a boolean JSON value.
type EqualsComputation struct {
	LHS Computation
	RHS Computation
}

func (EqualsComputation) computation() {}

// FieldType names the declared JSON shape of a field (informational; the
// row builder does not coerce, it only fails on shape mismatch).
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBool    FieldType = "bool"
	FieldTypeObject  FieldType = "object"
	FieldTypeArray   FieldType = "array"
)
