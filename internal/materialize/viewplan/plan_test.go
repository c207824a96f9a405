package viewplan

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

func TestBuildNoRelationsSingleRequirement(t *testing.T) {
	baseSchema := uuid.New()
	view := cdl.ViewDefinition{
		BaseSchemaID: baseSchema,
		Fields: map[string]cdl.FieldDef{
			"name": cdl.SimpleField{SourceFieldName: "name"},
		},
	}
	objID := uuid.New()

	plan, err := Build(view, []uuid.UUID{objID}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Rows, 1)
	require.Equal(t, 1, plan.Rows[0].Missing)

	key := cdl.ObjectKey{SchemaID: baseSchema, ObjectID: objID}
	reqs, ok := plan.Missing[key]
	require.True(t, ok)
	require.Len(t, reqs, 1)
	require.Equal(t, cdl.BaseLocalID, reqs[0].LocalID)
}

func TestBuildComputedFieldRequiresRelationObject(t *testing.T) {
	baseSchema := uuid.New()
	childSchema := uuid.New()
	relGlobal := uuid.New()
	const childLocalID cdl.LocalID = 1

	view := cdl.ViewDefinition{
		BaseSchemaID: baseSchema,
		Relations: []cdl.Relation{
			{GlobalID: relGlobal, LocalID: childLocalID, SearchFor: cdl.SearchChildren},
		},
		Fields: map[string]cdl.FieldDef{
			"child_name": cdl.ComputedField{
				Computation: cdl.FieldValueComputation{SchemaID: childLocalID, FieldPath: "name"},
			},
		},
	}

	rootID := uuid.New()
	childID := uuid.New()
	edges := map[cdl.LocalID]cdl.TreeResponse{
		childLocalID: {
			{
				ObjectID:       childID,
				ParentObjectID: rootID,
				Relation:       cdl.RelationEdge{ParentSchemaID: baseSchema, ChildSchemaID: childSchema},
			},
		},
	}

	plan, err := Build(view, []uuid.UUID{rootID}, edges)
	require.NoError(t, err)
	require.Len(t, plan.Rows, 1)
	require.Equal(t, 2, plan.Rows[0].Missing)

	childKey := cdl.ObjectKey{SchemaID: childSchema, ObjectID: childID}
	reqs, ok := plan.Missing[childKey]
	require.True(t, ok)
	require.Equal(t, childLocalID, reqs[0].LocalID)
}

func TestBuildCartesianExpandsMultipleCompanions(t *testing.T) {
	baseSchema := uuid.New()
	childSchema := uuid.New()
	const childLocalID cdl.LocalID = 1

	view := cdl.ViewDefinition{
		BaseSchemaID: baseSchema,
		Relations: []cdl.Relation{
			{GlobalID: uuid.New(), LocalID: childLocalID, SearchFor: cdl.SearchChildren},
		},
		Fields: map[string]cdl.FieldDef{
			"child_name": cdl.ComputedField{
				Computation: cdl.FieldValueComputation{SchemaID: childLocalID, FieldPath: "name"},
			},
		},
	}

	rootID := uuid.New()
	edges := map[cdl.LocalID]cdl.TreeResponse{
		childLocalID: {
			{ObjectID: uuid.New(), ParentObjectID: rootID, Relation: cdl.RelationEdge{ParentSchemaID: baseSchema, ChildSchemaID: childSchema}},
			{ObjectID: uuid.New(), ParentObjectID: rootID, Relation: cdl.RelationEdge{ParentSchemaID: baseSchema, ChildSchemaID: childSchema}},
		},
	}

	plan, err := Build(view, []uuid.UUID{rootID}, edges)
	require.NoError(t, err)
	require.Len(t, plan.Rows, 2, "two companions must Cartesian-expand into two rows")
}

func TestBuildArrayFieldProducesElementPerCompanion(t *testing.T) {
	baseSchema := uuid.New()
	childSchema := uuid.New()
	const childLocalID cdl.LocalID = 1

	view := cdl.ViewDefinition{
		BaseSchemaID: baseSchema,
		Relations: []cdl.Relation{
			{GlobalID: uuid.New(), LocalID: childLocalID, SearchFor: cdl.SearchChildren},
		},
		Fields: map[string]cdl.FieldDef{
			"children": cdl.ArrayField{
				Base: childLocalID,
				Fields: map[string]cdl.FieldDef{
					"name": cdl.SimpleField{SourceFieldName: "name"},
				},
			},
		},
	}

	rootID := uuid.New()
	c1, c2 := uuid.New(), uuid.New()
	edges := map[cdl.LocalID]cdl.TreeResponse{
		childLocalID: {
			{ObjectID: c1, ParentObjectID: rootID, Relation: cdl.RelationEdge{ParentSchemaID: baseSchema, ChildSchemaID: childSchema}},
			{ObjectID: c2, ParentObjectID: rootID, Relation: cdl.RelationEdge{ParentSchemaID: baseSchema, ChildSchemaID: childSchema}},
		},
	}

	plan, err := Build(view, []uuid.UUID{rootID}, edges)
	require.NoError(t, err)
	require.Len(t, plan.Rows, 1, "array fields never Cartesian-expand the outer row")

	row := plan.Rows[0]
	group, ok := row.Arrays["children"]
	require.True(t, ok)
	require.Len(t, group.Elements, 2)
	// root requirement + one per array element
	require.Equal(t, 3, row.Missing)
}
