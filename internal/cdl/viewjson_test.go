package cdl

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestViewDefinitionJSONRoundTrip(t *testing.T) {
	view := ViewDefinition{
		ID:                  uuid.New(),
		BaseSchemaID:        uuid.New(),
		MaterializerAddress: "localhost:9100",
		Fields: map[string]FieldDef{
			"name": SimpleField{SourceFieldName: "name", FieldType: FieldTypeString},
			"is_active": ComputedField{
				FieldType: FieldTypeBool,
				Computation: EqualsComputation{
					LHS: FieldValueComputation{SchemaID: BaseLocalID, FieldPath: "status"},
					RHS: RawValueComputation{Value: json.RawMessage(`"active"`)},
				},
			},
			"tags": ArrayField{
				Base: LocalID(1),
				Fields: map[string]FieldDef{
					"label": SimpleField{SourceFieldName: "label"},
				},
			},
		},
		Relations: []Relation{
			{GlobalID: uuid.New(), LocalID: LocalID(1), SearchFor: SearchChildren},
		},
	}

	encoded, err := json.Marshal(view)
	require.NoError(t, err)

	var decoded ViewDefinition
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	require.Equal(t, view.ID, decoded.ID)
	require.Equal(t, view.BaseSchemaID, decoded.BaseSchemaID)
	require.Equal(t, view.Relations, decoded.Relations)
	require.Equal(t, view.Fields["name"], decoded.Fields["name"])

	array, ok := decoded.Fields["tags"].(ArrayField)
	require.True(t, ok)
	require.Equal(t, LocalID(1), array.Base)
	require.Equal(t, SimpleField{SourceFieldName: "label"}, array.Fields["label"])

	computed, ok := decoded.Fields["is_active"].(ComputedField)
	require.True(t, ok)
	eq, ok := computed.Computation.(EqualsComputation)
	require.True(t, ok)
	require.Equal(t, FieldValueComputation{SchemaID: BaseLocalID, FieldPath: "status"}, eq.LHS)
}

func TestUnmarshalFieldDefRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalFieldDef(json.RawMessage(`{"kind":"bogus"}`))
	require.Error(t, err)
}
