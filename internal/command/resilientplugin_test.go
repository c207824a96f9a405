package command

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/resilience"
)

func TestResilientPluginPassesThroughSuccess(t *testing.T) {
	inner := &fakePlugin{name: "fake", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution { return cdl.Success{} }}
	p := NewResilientPlugin(inner, resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2}), nil)

	res := p.Handle(context.Background(), cdl.BorrowedInsertMessage{ObjectID: uuid.New()})
	require.True(t, cdl.IsSuccess(res))
	require.Equal(t, "fake", p.Name())
}

func TestResilientPluginTripsBreakerOnStorageFailure(t *testing.T) {
	objID := uuid.New()
	inner := &fakePlugin{
		name: "fake",
		resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution {
			return cdl.StorageLayerFailure{Description: "boom", ObjectID: objID}
		},
	}
	breaker := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	p := NewResilientPlugin(inner, breaker, nil)

	first := p.Handle(context.Background(), cdl.BorrowedInsertMessage{ObjectID: objID})
	require.IsType(t, cdl.StorageLayerFailure{}, first)

	second := p.Handle(context.Background(), cdl.BorrowedInsertMessage{ObjectID: objID})
	sf, ok := second.(cdl.StorageLayerFailure)
	require.True(t, ok)
	require.Contains(t, sf.Description, "circuit breaker open")
	require.Equal(t, int32(1), atomic.LoadInt32(&inner.handled))
}

func TestResilientPluginDoesNotTripOnUserFailure(t *testing.T) {
	objID := uuid.New()
	inner := &fakePlugin{
		name: "fake",
		resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution {
			return cdl.UserFailure{Description: "bad payload", ObjectID: objID}
		},
	}
	breaker := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1})
	p := NewResilientPlugin(inner, breaker, nil)

	res := p.Handle(context.Background(), cdl.BorrowedInsertMessage{ObjectID: objID})
	require.IsType(t, cdl.UserFailure{}, res)
	require.Equal(t, resilience.StateClosed, breaker.State())
}
