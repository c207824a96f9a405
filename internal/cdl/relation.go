package cdl

import "github.com/google/uuid"

// LocalID is a view-scoped handle for a relation (1..=255). 0 means "the
// base object" and never appears as a Relation.LocalID.
type LocalID uint8

// BaseLocalID is the reserved LocalID meaning the view's base object.
const BaseLocalID LocalID = 0

// SearchFor selects which side of a relation edge a view walks towards.
type SearchFor int

const (
	SearchParents SearchFor = iota
	SearchChildren
)

// Relation is a directed edge type between two schemas, scoped into a view
// by LocalID and identified registry-wide by GlobalID. Relations nest
// recursively to describe multi-hop joins.
type Relation struct {
	GlobalID  uuid.UUID
	LocalID   LocalID
	SearchFor SearchFor
	Relations []Relation
}

// RelationEdge names the two schemas a relation connects.
type RelationEdge struct {
	ParentSchemaID uuid.UUID
	ChildSchemaID  uuid.UUID
}

// TreeObject is one node of the edge registry's resolved relation tree: an
// object reached via a relation, together with its own children and the
// subtrees reached through any nested relations. ParentObjectID is the
// object (a view's base row, or an enclosing relation's companion) this
// node was reached from — the view plan builder joins a TreeResponse back
// to the row it belongs to by matching on this field.
type TreeObject struct {
	ObjectID       uuid.UUID
	ParentObjectID uuid.UUID
	RelationID     uuid.UUID
	Relation       RelationEdge
	Children       []uuid.UUID
	Subtrees       []TreeResponse
}

// TreeResponse is the edge registry's answer for one relation: every
// TreeObject reachable from the view's base objects through that relation.
type TreeResponse []TreeObject

// TreeQuery is the recursive request shape sent to the edge registry.
type TreeQuery struct {
	RelationID uuid.UUID
	SearchFor  SearchFor
	Relations  []TreeQuery
}
