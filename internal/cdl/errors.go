package cdl

import "errors"

// Sentinel errors naming the failure kinds of the pipeline. The router,
// view plan builder and row builder report these conditions with their
// own error text and do not wrap these values, so errors.Is does not
// match them against errors those packages return.
var (
	// ErrUnknownSchema names a registry lookup for an unrecognized schema_id.
	ErrUnknownSchema = errors.New("cdl: unknown schema_id")
	// ErrUnknownRepository names an options.repository_id with no static route.
	ErrUnknownRepository = errors.New("cdl: unknown repository_id")
	// ErrMalformedPayload names an insert payload that fails to parse.
	ErrMalformedPayload = errors.New("cdl: malformed payload")
	// ErrUnknownLocalID names a FieldDef reference to a LocalID the view
	// has no matching relation for.
	ErrUnknownLocalID = errors.New("cdl: unknown local_id")
	// ErrMissingTreeObject names an edge registry tree that is missing a
	// schema pair required to resolve a relation.
	ErrMissingTreeObject = errors.New("cdl: missing tree object")
	// ErrFieldShape names a row object that doesn't have the shape a
	// field definition expects.
	ErrFieldShape = errors.New("cdl: unexpected field shape")
	// ErrCyclicRelationTree names a relation tree whose recursion depth
	// exceeds the defensive bound.
	ErrCyclicRelationTree = errors.New("cdl: relation tree exceeds max depth")
)
