package rowbuilder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/materialize/objectbuffer"
	"github.com/commondatalayer/cdl/internal/materialize/viewplan"
)

func TestBuildSimpleField(t *testing.T) {
	view := cdl.ViewDefinition{
		Fields: map[string]cdl.FieldDef{
			"name": cdl.SimpleField{SourceFieldName: "name"},
		},
	}
	row := objectbuffer.CompletedRow{
		Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{"name":"widget"}`)},
	}

	out, err := Build(row, view)
	require.NoError(t, err)
	require.JSONEq(t, `"widget"`, string(out.Fields["name"]))
}

func TestBuildComputedEqualsField(t *testing.T) {
	view := cdl.ViewDefinition{
		Fields: map[string]cdl.FieldDef{
			"is_match": cdl.ComputedField{
				Computation: cdl.EqualsComputation{
					LHS: cdl.FieldValueComputation{SchemaID: cdl.BaseLocalID, FieldPath: "name"},
					RHS: cdl.RawValueComputation{Value: json.RawMessage(`"widget"`)},
				},
			},
		},
	}
	row := objectbuffer.CompletedRow{
		Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{"name":"widget"}`)},
	}

	out, err := Build(row, view)
	require.NoError(t, err)
	require.JSONEq(t, `true`, string(out.Fields["is_match"]))
}

func TestBuildComputedFieldDottedPath(t *testing.T) {
	view := cdl.ViewDefinition{
		Fields: map[string]cdl.FieldDef{
			"city": cdl.ComputedField{
				Computation: cdl.FieldValueComputation{SchemaID: cdl.BaseLocalID, FieldPath: "address.city"},
			},
		},
	}
	row := objectbuffer.CompletedRow{
		Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{"address":{"city":"Austin"}}`)},
	}

	out, err := Build(row, view)
	require.NoError(t, err)
	require.JSONEq(t, `"Austin"`, string(out.Fields["city"]))
}

func TestBuildSimpleFieldFailsOnAbsentField(t *testing.T) {
	view := cdl.ViewDefinition{
		Fields: map[string]cdl.FieldDef{
			"missing": cdl.SimpleField{SourceFieldName: "missing"},
		},
	}
	row := objectbuffer.CompletedRow{
		Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{}`)},
	}

	_, err := Build(row, view)
	require.Error(t, err)
}

func TestBuildArrayFieldProducesJSONArray(t *testing.T) {
	view := cdl.ViewDefinition{
		Fields: map[string]cdl.FieldDef{
			"children": cdl.ArrayField{
				Base: 1,
				Fields: map[string]cdl.FieldDef{
					"name": cdl.SimpleField{SourceFieldName: "name"},
				},
			},
		},
	}
	row := objectbuffer.CompletedRow{
		Objects: map[cdl.LocalID]json.RawMessage{},
		Arrays: map[string]*viewplan.ArrayGroup{
			"children": {
				Elements: []*viewplan.ArrayElement{
					{Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{"name":"a"}`)}},
					{Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: json.RawMessage(`{"name":"b"}`)}},
				},
			},
		},
	}

	out, err := Build(row, view)
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"a"},{"name":"b"}]`, string(out.Fields["children"]))
}
