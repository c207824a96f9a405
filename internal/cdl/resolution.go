package cdl

import "github.com/google/uuid"

// Resolution is the tri-state (plus internal-error) outcome of a sink write.
// Every OutputPlugin.Handle call produces exactly one variant.
type Resolution interface {
	resolution()
}

// Success indicates the write completed and the object is durable.
type Success struct{}

func (Success) resolution() {}

// StorageLayerFailure indicates a retriable failure in the storage backend
// itself (connection reset, timeout, unavailable).
type StorageLayerFailure struct {
	Description string
	ObjectID    uuid.UUID
}

func (StorageLayerFailure) resolution() {}

// UserFailure indicates the payload itself was malformed or violated the
// sink's expectations; retrying an identical payload will fail identically.
type UserFailure struct {
	Description string
	ObjectID    uuid.UUID
	Context     string
}

func (UserFailure) resolution() {}

// CommandServiceFailure indicates an internal error in the command service
// harness unrelated to the payload or the backend (e.g. a plugin panic
// recovered by the caller).
type CommandServiceFailure struct {
	ObjectID uuid.UUID
}

func (CommandServiceFailure) resolution() {}

// IsSuccess reports whether r is the Success variant.
func IsSuccess(r Resolution) bool {
	_, ok := r.(Success)
	return ok
}
