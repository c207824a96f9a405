package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/transport"
)

// Report is the structured JSON notification a Full reporter publishes
// for any non-Success resolution, per spec.md §4.F.
type Report struct {
	Application string          `json:"application"`
	Context     string          `json:"context"`
	Description string          `json:"description"`
	SchemaID    uuid.UUID       `json:"schema_id"`
	ObjectID    uuid.UUID       `json:"object_id"`
	Payload     json.RawMessage `json:"payload"`
}

// Reporter publishes Reports, or discards them if disabled.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// DisabledReporter is a no-op Reporter.
type DisabledReporter struct{}

func (DisabledReporter) Report(context.Context, Report) error { return nil }

// FullReporter publishes a JSON notification per report to a configured
// transport destination, keyed "<application>.status".
type FullReporter struct {
	Application string
	Destination string
	Publisher   transport.Publisher
}

// NewFullReporter creates a FullReporter.
func NewFullReporter(application, destination string, publisher transport.Publisher) *FullReporter {
	return &FullReporter{Application: application, Destination: destination, Publisher: publisher}
}

func (r *FullReporter) Report(ctx context.Context, rep Report) error {
	rep.Application = r.Application
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("command: marshal report: %w", err)
	}
	if err := r.Publisher.Publish(ctx, r.Destination, r.Application+".status", data); err != nil {
		return fmt.Errorf("command: publish report: %w", err)
	}
	return nil
}
