package rpc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

func TestTreeQueriesRoundTrip(t *testing.T) {
	queries := []cdl.TreeQuery{
		{
			RelationID: uuid.New(),
			SearchFor:  cdl.SearchChildren,
			Relations: []cdl.TreeQuery{
				{RelationID: uuid.New(), SearchFor: cdl.SearchParents, Relations: []cdl.TreeQuery{}},
			},
		},
	}

	s, err := newStruct(map[string]any{"relations": treeQueriesToValue(queries)})
	require.NoError(t, err)

	decoded, err := structToTreeQueries(getList(s, "relations"))
	require.NoError(t, err)
	require.Equal(t, queries, decoded)
}

func TestTreeResponseRoundTrip(t *testing.T) {
	parentObj, childObj := uuid.New(), uuid.New()
	relID := uuid.New()
	parentSchema, childSchema := uuid.New(), uuid.New()

	leafObj := uuid.New()
	resp := cdl.TreeResponse{
		{
			ObjectID:       childObj,
			ParentObjectID: parentObj,
			RelationID:     relID,
			Relation:       cdl.RelationEdge{ParentSchemaID: parentSchema, ChildSchemaID: childSchema},
			Children:       []uuid.UUID{uuid.New()},
			Subtrees: []cdl.TreeResponse{
				{
					{
						ObjectID:       leafObj,
						ParentObjectID: childObj,
						RelationID:     uuid.New(),
						Relation:       cdl.RelationEdge{ParentSchemaID: childSchema, ChildSchemaID: uuid.New()},
						Children:       []uuid.UUID{},
						Subtrees:       []cdl.TreeResponse{},
					},
				},
			},
		},
	}

	s, err := newStruct(map[string]any{"objects": treeResponseToValue(resp)})
	require.NoError(t, err)

	decoded, err := structToTreeResponse(getList(s, "objects"))
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}
