// Package viewplan builds the join plan a materialization request needs:
// one or more unfinished rows per base object, each listing every object it still
// requires before the object buffer can emit it. Grounded on spec.md
// §4.G and the teacher's engine/graph.go recursive relation-tree walk,
// generalized from a single-hop parent/child lookup to the view's full
// recursive Relation/FieldDef tree.
package viewplan

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// maxDepth bounds the recursive walk so a malformed (non-DAG) tree handed
// back by the edge registry client cannot recurse forever, per spec.md
// §9's cyclic-reference defensive note.
const maxDepth = 64

// PathStep descends one level into a Row's nested Array groups.
type PathStep struct {
	ArrayField string
	ElemIndex  int
}

// Requirement names where a resolved object must be written once it
// arrives: the row, the array-group path within it, and the LocalID slot.
type Requirement struct {
	RowIndex int
	Path     []PathStep
	LocalID  cdl.LocalID
}

// ArrayGroup is one Array field's element rows, each an independent join
// scope rooted at the companion object reached through the relation.
type ArrayGroup struct {
	Fields   map[string]cdl.FieldDef
	Elements []*ArrayElement
}

// ArrayElement is one inner row of an Array field.
type ArrayElement struct {
	BaseKey cdl.ObjectKey
	Objects map[cdl.LocalID]json.RawMessage
	Arrays  map[string]*ArrayGroup
}

// Row is one unfinished output row: the base object plus every other
// object referenced by the view's fields, resolved as they arrive.
type Row struct {
	RootKey cdl.ObjectKey
	Objects map[cdl.LocalID]json.RawMessage
	Arrays  map[string]*ArrayGroup
	Missing int
}

// Plan is the View Plan Builder's output: one or more Rows per base object
// (more when a field references a relation with several companions), and a
// Missing index from (schema_id, object_id) to every row slot awaiting it.
type Plan struct {
	Rows    []*Row
	Missing map[cdl.ObjectKey][]Requirement
}

func (p *Plan) require(key cdl.ObjectKey, rowIndex int, path []PathStep, localID cdl.LocalID) {
	p.Missing[key] = append(p.Missing[key], Requirement{RowIndex: rowIndex, Path: path, LocalID: localID})
}

// Build transforms a view definition, its base objects, and the edge
// registry's resolved relation tree into a Plan. edges is keyed by the
// view-scoped relation LocalID; edges[L] is every companion object
// reachable through relation L from any base object or nested relation
// companion, disambiguated by TreeObject.ParentObjectID.
func Build(view cdl.ViewDefinition, baseObjects []uuid.UUID, edges map[cdl.LocalID]cdl.TreeResponse) (*Plan, error) {
	relByLocalID := flattenRelations(view.Relations)

	plan := &Plan{Missing: make(map[cdl.ObjectKey][]Requirement)}
	for _, objID := range baseObjects {
		if err := buildRowsForBase(plan, view, objID, edges, relByLocalID); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func flattenRelations(relations []cdl.Relation) map[cdl.LocalID]cdl.Relation {
	out := make(map[cdl.LocalID]cdl.Relation)
	var walk func([]cdl.Relation)
	walk = func(rs []cdl.Relation) {
		for _, r := range rs {
			out[r.LocalID] = r
			walk(r.Relations)
		}
	}
	walk(relations)
	return out
}

// buildRowsForBase produces one or more Rows for a single base object:
// more than one only when a direct (non-Array) field reference resolves
// to a relation with multiple companions, per spec.md §4.G's Cartesian
// expansion tie-break.
func buildRowsForBase(plan *Plan, view cdl.ViewDefinition, baseObjectID uuid.UUID, edges map[cdl.LocalID]cdl.TreeResponse, relByLocalID map[cdl.LocalID]cdl.Relation) error {
	rootKey := cdl.ObjectKey{SchemaID: view.BaseSchemaID, ObjectID: baseObjectID}

	directRefs := directRelationRefs(view.Fields)
	pinnings := []map[cdl.LocalID]cdl.TreeObject{{}}
	for _, localID := range directRefs {
		candidates := companionsOf(edges, localID, baseObjectID)
		if len(candidates) <= 1 {
			next := make([]map[cdl.LocalID]cdl.TreeObject, 0, len(pinnings))
			for _, p := range pinnings {
				clone := clonePins(p)
				if len(candidates) == 1 {
					clone[localID] = candidates[0]
				}
				next = append(next, clone)
			}
			pinnings = next
			continue
		}
		next := make([]map[cdl.LocalID]cdl.TreeObject, 0, len(pinnings)*len(candidates))
		for _, p := range pinnings {
			for _, c := range candidates {
				clone := clonePins(p)
				clone[localID] = c
				next = append(next, clone)
			}
		}
		pinnings = next
	}

	for _, pins := range pinnings {
		row := &Row{RootKey: rootKey, Objects: make(map[cdl.LocalID]json.RawMessage), Arrays: make(map[string]*ArrayGroup)}
		rowIndex := len(plan.Rows)
		plan.Rows = append(plan.Rows, row)

		plan.require(rootKey, rowIndex, nil, cdl.BaseLocalID)
		row.Missing++

		for localID, obj := range pins {
			rel, ok := relByLocalID[localID]
			if !ok {
				return fmt.Errorf("viewplan: field references unknown relation local_id %d", localID)
			}
			key := companionKey(rel, obj)
			plan.require(key, rowIndex, nil, localID)
			row.Missing++
		}

		if err := buildArrays(plan, rowIndex, nil, row.Arrays, &row.Missing, view.Fields, baseObjectID, edges, relByLocalID, 0); err != nil {
			return err
		}
	}
	return nil
}

// buildArrays walks fields for ArrayField entries only; direct FieldValue
// references were already pinned by buildRowsForBase (top level) or are
// resolved via the first matching companion at deeper nesting, a
// documented simplification of the Cartesian tie-break to row granularity.
func buildArrays(plan *Plan, rowIndex int, path []PathStep, arrays map[string]*ArrayGroup, missing *int, fields map[string]cdl.FieldDef, scopeObjectID uuid.UUID, edges map[cdl.LocalID]cdl.TreeResponse, relByLocalID map[cdl.LocalID]cdl.Relation, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("viewplan: relation tree exceeds max depth %d, likely cyclic", maxDepth)
	}

	for name, fd := range fields {
		arr, ok := fd.(cdl.ArrayField)
		if !ok {
			continue
		}
		rel, ok := relByLocalID[arr.Base]
		if !ok {
			return fmt.Errorf("viewplan: array field %q references unknown relation local_id %d", name, arr.Base)
		}

		group := &ArrayGroup{Fields: arr.Fields}
		arrays[name] = group

		companions := companionsOf(edges, arr.Base, scopeObjectID)
		for i, companion := range companions {
			elemPath := append(append([]PathStep{}, path...), PathStep{ArrayField: name, ElemIndex: i})
			elem := &ArrayElement{
				BaseKey: companionKey(rel, companion),
				Objects: make(map[cdl.LocalID]json.RawMessage),
				Arrays:  make(map[string]*ArrayGroup),
			}
			group.Elements = append(group.Elements, elem)

			plan.require(elem.BaseKey, rowIndex, elemPath, cdl.BaseLocalID)
			*missing++

			// Nested direct FieldValue references resolve to the first
			// matching companion at this depth; only the array's own
			// Base relation gets full per-element enumeration.
			for _, localID := range directRelationRefs(arr.Fields) {
				nestedCandidates := companionsOf(edges, localID, companion.ObjectID)
				if len(nestedCandidates) == 0 {
					continue
				}
				nestedRel, ok := relByLocalID[localID]
				if !ok {
					return fmt.Errorf("viewplan: nested field references unknown relation local_id %d", localID)
				}
				key := companionKey(nestedRel, nestedCandidates[0])
				plan.require(key, rowIndex, elemPath, localID)
				*missing++
			}

			if err := buildArrays(plan, rowIndex, elemPath, elem.Arrays, missing, arr.Fields, companion.ObjectID, edges, relByLocalID, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// companionsOf returns every TreeObject edges[localID] reaches from
// scopeObjectID, in stable order.
func companionsOf(edges map[cdl.LocalID]cdl.TreeResponse, localID cdl.LocalID, scopeObjectID uuid.UUID) []cdl.TreeObject {
	var out []cdl.TreeObject
	for _, obj := range edges[localID] {
		if obj.ParentObjectID == scopeObjectID {
			out = append(out, obj)
		}
	}
	return out
}

// companionKey derives the ObjectKey of a companion reached through rel:
// its schema_id is whichever side of the edge rel.SearchFor walks
// towards (the child schema when searching children, else the parent).
func companionKey(rel cdl.Relation, obj cdl.TreeObject) cdl.ObjectKey {
	if rel.SearchFor == cdl.SearchChildren {
		return cdl.ObjectKey{SchemaID: obj.Relation.ChildSchemaID, ObjectID: obj.ObjectID}
	}
	return cdl.ObjectKey{SchemaID: obj.Relation.ParentSchemaID, ObjectID: obj.ObjectID}
}

func clonePins(p map[cdl.LocalID]cdl.TreeObject) map[cdl.LocalID]cdl.TreeObject {
	clone := make(map[cdl.LocalID]cdl.TreeObject, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}

// directRelationRefs collects every relation LocalID referenced by a
// plain (non-Array) FieldValue computation at this field-map level —
// Array.Base is excluded since arrays handle multiplicity themselves.
func directRelationRefs(fields map[string]cdl.FieldDef) []cdl.LocalID {
	seen := make(map[cdl.LocalID]bool)
	var out []cdl.LocalID
	add := func(id cdl.LocalID) {
		if id == cdl.BaseLocalID || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	var walkComputation func(cdl.Computation)
	walkComputation = func(c cdl.Computation) {
		switch v := c.(type) {
		case cdl.FieldValueComputation:
			add(v.SchemaID)
		case cdl.EqualsComputation:
			walkComputation(v.LHS)
			walkComputation(v.RHS)
		}
	}

	for _, fd := range fields {
		if cf, ok := fd.(cdl.ComputedField); ok {
			walkComputation(cf.Computation)
		}
	}
	return out
}
