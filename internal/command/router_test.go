package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/transport"
)

type fakePlugin struct {
	name     string
	resolve  func(cdl.BorrowedInsertMessage) cdl.Resolution
	panicOn  bool
	handled  int32
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Handle(_ context.Context, ins cdl.BorrowedInsertMessage) cdl.Resolution {
	atomic.AddInt32(&p.handled, 1)
	if p.panicOn {
		panic("plugin exploded")
	}
	return p.resolve(ins)
}

type recordingReporter struct {
	reports []Report
	failErr error
}

func (r *recordingReporter) Report(_ context.Context, rep Report) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.reports = append(r.reports, rep)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAckNackMessage(t *testing.T, ins cdl.BorrowedInsertMessage) (transport.Message, *bool, *bool) {
	t.Helper()
	data, err := json.Marshal(ins)
	require.NoError(t, err)

	acked, nacked := new(bool), new(bool)
	msg := transport.NewMessage("k1", data, time.Now(),
		func(context.Context) error { *acked = true; return nil },
		func(context.Context) error { *nacked = true; return nil },
	)
	return msg, acked, nacked
}

func TestMessageRouterAcksOnSuccess(t *testing.T) {
	plugin := &fakePlugin{name: "p", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution { return cdl.Success{} }}
	reporter := &recordingReporter{}
	mr := New(plugin, reporter, ordergate.New(), false, testLogger())

	msg, acked, _ := newAckNackMessage(t, cdl.BorrowedInsertMessage{ObjectID: uuid.New(), SchemaID: uuid.New(), Data: json.RawMessage(`{}`)})

	err := mr.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked)
	require.Empty(t, reporter.reports)
}

func TestMessageRouterReportsNonSuccessButStillAcks(t *testing.T) {
	objID := uuid.New()
	plugin := &fakePlugin{name: "p", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution {
		return cdl.StorageLayerFailure{Description: "boom", ObjectID: objID}
	}}
	reporter := &recordingReporter{}
	mr := New(plugin, reporter, ordergate.New(), false, testLogger())

	msg, acked, _ := newAckNackMessage(t, cdl.BorrowedInsertMessage{ObjectID: objID, SchemaID: uuid.New(), Data: json.RawMessage(`{}`)})

	err := mr.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked)
	require.Len(t, reporter.reports, 1)
	require.Equal(t, "boom", reporter.reports[0].Description)
	require.Equal(t, objID, reporter.reports[0].ObjectID)
}

func TestMessageRouterReporterFailureSurfacesError(t *testing.T) {
	plugin := &fakePlugin{name: "p", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution {
		return cdl.UserFailure{Description: "bad payload", Context: "p"}
	}}
	reporter := &recordingReporter{failErr: errors.New("publish down")}
	mr := New(plugin, reporter, ordergate.New(), false, testLogger())

	msg, acked, _ := newAckNackMessage(t, cdl.BorrowedInsertMessage{ObjectID: uuid.New(), SchemaID: uuid.New(), Data: json.RawMessage(`{}`)})

	err := mr.Handle(context.Background(), msg)
	require.Error(t, err)
	require.False(t, *acked, "message must not be acked when the reporter fails, so it redelivers")
}

func TestMessageRouterPluginPanicIsRecoveredAndNotAcked(t *testing.T) {
	plugin := &fakePlugin{name: "p", panicOn: true}
	reporter := &recordingReporter{}
	mr := New(plugin, reporter, ordergate.New(), false, testLogger())

	msg, acked, _ := newAckNackMessage(t, cdl.BorrowedInsertMessage{ObjectID: uuid.New(), SchemaID: uuid.New(), Data: json.RawMessage(`{}`)})

	err := mr.Handle(context.Background(), msg)
	require.Error(t, err)
	require.False(t, *acked)
}

func TestMessageRouterMalformedPayloadAcksWithoutCallingPlugin(t *testing.T) {
	plugin := &fakePlugin{name: "p", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution { return cdl.Success{} }}
	reporter := &recordingReporter{}
	mr := New(plugin, reporter, ordergate.New(), false, testLogger())

	acked := new(bool)
	msg := transport.NewMessage("k1", []byte(`not json`), time.Now(),
		func(context.Context) error { *acked = true; return nil },
		func(context.Context) error { return nil },
	)

	err := mr.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked)
	require.Equal(t, int32(0), atomic.LoadInt32(&plugin.handled))
}

func TestMessageRouterOrderedHandlesAndAcksThroughGate(t *testing.T) {
	plugin := &fakePlugin{name: "p", resolve: func(cdl.BorrowedInsertMessage) cdl.Resolution { return cdl.Success{} }}
	reporter := &recordingReporter{}
	gate := ordergate.New()
	mr := New(plugin, reporter, gate, true, testLogger())

	msg, acked, _ := newAckNackMessage(t, cdl.BorrowedInsertMessage{ObjectID: uuid.New(), SchemaID: uuid.New(), Data: json.RawMessage(`{}`)})

	err := mr.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked)
}
