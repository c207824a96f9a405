// Package rowbuilder evaluates a completed row's fields into a
// cdl.RowDefinition, per spec.md §4.I. Fields are independent of one
// another, so Build evaluates them with internal/fn.ParMapResult
// (bounded concurrency, the teacher's fn.ParMap idiom) and internal/fn.Result
// to collect the first failure; a single failing field fails the whole
// row rather than emitting a partially-built one.
package rowbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/fn"
	"github.com/commondatalayer/cdl/internal/materialize/objectbuffer"
	"github.com/commondatalayer/cdl/internal/materialize/viewplan"
)

// fieldEvalWorkers bounds how many of a view's fields evaluate
// concurrently; views rarely carry more than a handful of fields, so this
// just caps the pathological case of a view with hundreds of them.
const fieldEvalWorkers = 8

type namedField struct {
	name string
	def  cdl.FieldDef
}

// Build evaluates every field in view.Fields against row and assembles
// the output RowDefinition.
func Build(row objectbuffer.CompletedRow, view cdl.ViewDefinition) (cdl.RowDefinition, error) {
	out := cdl.RowDefinition{
		ObjectIDs: make(map[uuid.UUID]struct{}),
		Fields:    make(map[string]json.RawMessage),
	}
	collectObjectIDs(row.Objects, out.ObjectIDs)

	fields := make([]namedField, 0, len(view.Fields))
	for name, fd := range view.Fields {
		fields = append(fields, namedField{name: name, def: fd})
	}

	results := fn.ParMapResult(fields, fieldEvalWorkers, func(nf namedField) fn.Result[json.RawMessage] {
		val, err := evalField(nf.name, nf.def, row)
		if err != nil {
			return fn.Errf[json.RawMessage]("field %q: %w", nf.name, err)
		}
		return fn.Ok(val)
	})

	for i, r := range results {
		val, err := r.Unwrap()
		if err != nil {
			return cdl.RowDefinition{}, fmt.Errorf("rowbuilder: %w", err)
		}
		out.Fields[fields[i].name] = val
	}
	return out, nil
}

func collectObjectIDs(objects map[cdl.LocalID]json.RawMessage, into map[uuid.UUID]struct{}) {
	for _, raw := range objects {
		var withID struct {
			ObjectID uuid.UUID `json:"object_id"`
		}
		if json.Unmarshal(raw, &withID) == nil && withID.ObjectID != uuid.Nil {
			into[withID.ObjectID] = struct{}{}
		}
	}
}

func evalField(name string, fd cdl.FieldDef, row objectbuffer.CompletedRow) (json.RawMessage, error) {
	switch v := fd.(type) {
	case cdl.SimpleField:
		base, ok := row.Objects[cdl.BaseLocalID]
		if !ok {
			return nil, fmt.Errorf("base object missing")
		}
		return projectField(base, v.SourceFieldName)

	case cdl.ComputedField:
		return evalComputation(v.Computation, row.Objects)

	case cdl.ArrayField:
		return evalArrayField(name, v, row)

	default:
		return nil, fmt.Errorf("unknown field definition type %T", fd)
	}
}

// evalArrayField looks up the view plan's ArrayGroup for this field by
// name — viewplan.Build keys row.Arrays identically to view.Fields, so
// the same map key that selected v also selects its resolved group.
func evalArrayField(name string, v cdl.ArrayField, row objectbuffer.CompletedRow) (json.RawMessage, error) {
	group, ok := row.Arrays[name]
	if !ok {
		return json.RawMessage("[]"), nil
	}
	elems := make([]json.RawMessage, 0, len(group.Elements))
	for _, elem := range group.Elements {
		elemRow := objectbuffer.CompletedRow{Objects: elem.Objects, Arrays: elem.Arrays}
		fields := make(map[string]json.RawMessage, len(v.Fields))
		for innerName, inner := range v.Fields {
			val, err := evalField(innerName, inner, elemRow)
			if err != nil {
				return nil, fmt.Errorf("array element field %q: %w", innerName, err)
			}
			fields[innerName] = val
		}
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode array element: %w", err)
		}
		elems = append(elems, encoded)
	}
	return json.Marshal(elems)
}

func evalComputation(c cdl.Computation, objects map[cdl.LocalID]json.RawMessage) (json.RawMessage, error) {
	switch v := c.(type) {
	case cdl.RawValueComputation:
		return v.Value, nil

	case cdl.FieldValueComputation:
		obj, ok := objects[v.SchemaID]
		if !ok {
			return nil, fmt.Errorf("object for local_id %d missing", v.SchemaID)
		}
		return projectPath(obj, v.FieldPath)

	case cdl.EqualsComputation:
		lhs, err := evalComputation(v.LHS, objects)
		if err != nil {
			return nil, err
		}
		rhs, err := evalComputation(v.RHS, objects)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonEqual(lhs, rhs))

	default:
		return nil, fmt.Errorf("unknown computation type %T", c)
	}
}

// projectField reads a single top-level field from a JSON object.
func projectField(obj json.RawMessage, fieldName string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	val, ok := m[fieldName]
	if !ok {
		return nil, fmt.Errorf("field %q absent", fieldName)
	}
	return val, nil
}

// projectPath walks a dotted field path through nested JSON objects.
func projectPath(obj json.RawMessage, path string) (json.RawMessage, error) {
	cur := obj
	for _, part := range strings.Split(path, ".") {
		next, err := projectField(cur, part)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
		cur = next
	}
	return cur, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	aEnc, _ := json.Marshal(av)
	bEnc, _ := json.Marshal(bv)
	return string(aEnc) == string(bEnc)
}
