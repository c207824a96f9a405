// Package command implements the Command Service Core: a pluggable
// pipeline where one or more parallel consumers feed a MessageRouter that
// calls into an OutputPlugin and reports non-Success resolutions.
package command

import (
	"context"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// OutputPlugin writes a borrowed insert message to a storage backend and
// reports the outcome. Implementations must be idempotent with respect
// to (object_id, timestamp) pairs: a redelivery must not corrupt the
// store.
type OutputPlugin interface {
	Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution
	// Name identifies the plugin for metrics and reports.
	Name() string
}
