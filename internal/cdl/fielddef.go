package cdl

// FieldDef is a recursive description of how to compute one named field of
// a materialized row.
type FieldDef interface {
	fieldDef()
}

// SimpleField projects a field straight out of the row's base object.
type SimpleField struct {
	SourceFieldName string
	FieldType       FieldType
}

func (SimpleField) fieldDef() {}

// ComputedField evaluates a Computation expression.
type ComputedField struct {
	Computation Computation
	FieldType   FieldType
}

func (ComputedField) fieldDef() {}

// ArrayField produces one inner row per object reached through relation
// Base (children if that relation searches children, else the parent),
// each evaluated against the nested field map.
type ArrayField struct {
	Base   LocalID
	Fields map[string]FieldDef
}

func (ArrayField) fieldDef() {}
