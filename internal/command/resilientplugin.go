package command

import (
	"context"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/resilience"
)

// ResilientPlugin wraps an OutputPlugin with a circuit breaker and rate
// limiter, both per spec.md §9's backpressure requirements: a sink that
// is failing or overloaded must shed load before it takes the whole
// order-group queue down with it.
type ResilientPlugin struct {
	inner   OutputPlugin
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// NewResilientPlugin wraps inner. limiter may be nil to skip rate
// limiting (some sinks, like the in-process ones, don't need it).
func NewResilientPlugin(inner OutputPlugin, breaker *resilience.Breaker, limiter *resilience.Limiter) *ResilientPlugin {
	return &ResilientPlugin{inner: inner, breaker: breaker, limiter: limiter}
}

func (p *ResilientPlugin) Name() string { return p.inner.Name() }

func (p *ResilientPlugin) Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution {
	var resolution cdl.Resolution

	call := func(ctx context.Context) error {
		resolution = p.inner.Handle(ctx, msg)
		if sf, ok := resolution.(cdl.StorageLayerFailure); ok {
			return storageFailureErr{sf}
		}
		return nil
	}

	var err error
	if p.limiter != nil {
		err = p.limiter.CallWait(ctx, func(ctx context.Context) error {
			return p.breaker.Call(ctx, call)
		})
	} else {
		err = p.breaker.Call(ctx, call)
	}

	if err == resilience.ErrCircuitOpen {
		return cdl.StorageLayerFailure{
			Description: p.inner.Name() + ": circuit breaker open, rejecting write",
			ObjectID:    msg.ObjectID,
		}
	}
	if err != nil && resolution == nil {
		// Rate limiter wait was cancelled before the call ran.
		return cdl.StorageLayerFailure{Description: err.Error(), ObjectID: msg.ObjectID}
	}
	return resolution
}

// storageFailureErr adapts a StorageLayerFailure resolution into an error
// so the breaker counts it as a failed call; every other resolution
// (including UserFailure, which is not the backend's fault) leaves the
// breaker's state untouched.
type storageFailureErr struct {
	cdl.StorageLayerFailure
}

func (e storageFailureErr) Error() string { return e.Description }
