package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/scribe/pkg/contextkeys"
)

// Logger is the interface for audit sinks. Sinks are an independent failure
// domain: a Log error must never undo the mutation it describes.
type Logger interface {
	// Log writes event. The sink assigns ID and Timestamp when unset.
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Searcher reads audit events back, newest first.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// NewNoOpLogger returns a logger that discards events.
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	prepare(ctx, event)
	return nil
}

func (noOpLogger) Close() error {
	return nil
}

// prepare fills the write-once identity fields of event.
func prepare(ctx context.Context, event *AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
}
