package cdl

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Package-external storage of view definitions (internal/objectbuilder's
// ViewStore) needs FieldDef/Computation to round-trip through JSON even
// though both are marker-method interfaces with no natural encoding —
// the same tagged-envelope approach internal/rpc already uses for
// TreeQuery/TreeResponse over structpb, applied here to plain JSON.

type fieldDefEnvelope struct {
	Kind            string                     `json:"kind"`
	SourceFieldName string                     `json:"source_field_name,omitempty"`
	FieldType       FieldType                  `json:"field_type,omitempty"`
	Computation     json.RawMessage            `json:"computation,omitempty"`
	Base            LocalID                    `json:"base,omitempty"`
	Fields          map[string]json.RawMessage `json:"fields,omitempty"`
}

// MarshalFieldDef renders fd as a tagged JSON envelope.
func MarshalFieldDef(fd FieldDef) (json.RawMessage, error) {
	switch v := fd.(type) {
	case SimpleField:
		return json.Marshal(fieldDefEnvelope{Kind: "simple", SourceFieldName: v.SourceFieldName, FieldType: v.FieldType})

	case ComputedField:
		comp, err := MarshalComputation(v.Computation)
		if err != nil {
			return nil, err
		}
		return json.Marshal(fieldDefEnvelope{Kind: "computed", Computation: comp, FieldType: v.FieldType})

	case ArrayField:
		fields, err := marshalFieldMap(v.Fields)
		if err != nil {
			return nil, err
		}
		return json.Marshal(fieldDefEnvelope{Kind: "array", Base: v.Base, Fields: fields})

	default:
		return nil, fmt.Errorf("cdl: unknown field definition type %T", fd)
	}
}

// UnmarshalFieldDef parses a tagged JSON envelope produced by MarshalFieldDef.
func UnmarshalFieldDef(raw json.RawMessage) (FieldDef, error) {
	var env fieldDefEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cdl: invalid field definition: %w", err)
	}

	switch env.Kind {
	case "simple":
		return SimpleField{SourceFieldName: env.SourceFieldName, FieldType: env.FieldType}, nil

	case "computed":
		comp, err := UnmarshalComputation(env.Computation)
		if err != nil {
			return nil, err
		}
		return ComputedField{Computation: comp, FieldType: env.FieldType}, nil

	case "array":
		fields, err := unmarshalFieldMap(env.Fields)
		if err != nil {
			return nil, err
		}
		return ArrayField{Base: env.Base, Fields: fields}, nil

	default:
		return nil, fmt.Errorf("cdl: unknown field definition kind %q", env.Kind)
	}
}

func marshalFieldMap(fields map[string]FieldDef) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for name, fd := range fields {
		raw, err := MarshalFieldDef(fd)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

func unmarshalFieldMap(fields map[string]json.RawMessage) (map[string]FieldDef, error) {
	out := make(map[string]FieldDef, len(fields))
	for name, raw := range fields {
		fd, err := UnmarshalFieldDef(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = fd
	}
	return out, nil
}

type computationEnvelope struct {
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value,omitempty"`
	SchemaID  LocalID         `json:"schema_id,omitempty"`
	FieldPath string          `json:"field_path,omitempty"`
	LHS       json.RawMessage `json:"lhs,omitempty"`
	RHS       json.RawMessage `json:"rhs,omitempty"`
}

// MarshalComputation renders c as a tagged JSON envelope.
func MarshalComputation(c Computation) (json.RawMessage, error) {
	switch v := c.(type) {
	case RawValueComputation:
		return json.Marshal(computationEnvelope{Kind: "raw_value", Value: v.Value})

	case FieldValueComputation:
		return json.Marshal(computationEnvelope{Kind: "field_value", SchemaID: v.SchemaID, FieldPath: v.FieldPath})

	case EqualsComputation:
		lhs, err := MarshalComputation(v.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := MarshalComputation(v.RHS)
		if err != nil {
			return nil, err
		}
		return json.Marshal(computationEnvelope{Kind: "equals", LHS: lhs, RHS: rhs})

	default:
		return nil, fmt.Errorf("cdl: unknown computation type %T", c)
	}
}

// UnmarshalComputation parses a tagged JSON envelope produced by
// MarshalComputation.
func UnmarshalComputation(raw json.RawMessage) (Computation, error) {
	var env computationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cdl: invalid computation: %w", err)
	}

	switch env.Kind {
	case "raw_value":
		return RawValueComputation{Value: env.Value}, nil

	case "field_value":
		return FieldValueComputation{SchemaID: env.SchemaID, FieldPath: env.FieldPath}, nil

	case "equals":
		lhs, err := UnmarshalComputation(env.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := UnmarshalComputation(env.RHS)
		if err != nil {
			return nil, err
		}
		return EqualsComputation{LHS: lhs, RHS: rhs}, nil

	default:
		return nil, fmt.Errorf("cdl: unknown computation kind %q", env.Kind)
	}
}

type viewDefinitionWire struct {
	ID                  uuid.UUID                  `json:"id"`
	BaseSchemaID        uuid.UUID                  `json:"base_schema_id"`
	MaterializerAddress string                     `json:"materializer_address"`
	MaterializerOptions json.RawMessage            `json:"materializer_options,omitempty"`
	Fields              map[string]json.RawMessage `json:"fields"`
	Relations           []Relation                 `json:"relations"`
}

// MarshalJSON renders ViewDefinition with each FieldDef tagged, since
// the plain encoding/json package cannot dispatch on the FieldDef
// interface by itself.
func (v ViewDefinition) MarshalJSON() ([]byte, error) {
	fields, err := marshalFieldMap(v.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(viewDefinitionWire{
		ID:                  v.ID,
		BaseSchemaID:        v.BaseSchemaID,
		MaterializerAddress: v.MaterializerAddress,
		MaterializerOptions: v.MaterializerOptions,
		Fields:              fields,
		Relations:           v.Relations,
	})
}

// UnmarshalJSON rebuilds a ViewDefinition from the tagged wire form.
func (v *ViewDefinition) UnmarshalJSON(data []byte) error {
	var wire viewDefinitionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	fields, err := unmarshalFieldMap(wire.Fields)
	if err != nil {
		return err
	}
	v.ID = wire.ID
	v.BaseSchemaID = wire.BaseSchemaID
	v.MaterializerAddress = wire.MaterializerAddress
	v.MaterializerOptions = wire.MaterializerOptions
	v.Fields = fields
	v.Relations = wire.Relations
	return nil
}
