// Package audit records the append-only audit trail of every state change
// and decision.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

// Refs are the optional entity references of an event.
type Refs struct {
	PrincipalID string
	ActionID    string
	DecisionID  string
}

// Sink persists audit events.
type Sink interface {
	Append(ctx context.Context, ev contracts.AuditEvent) error
}

// Recorder records audit events.
type Recorder interface {
	Record(ctx context.Context, eventType contracts.AuditEventType, metadata map[string]any, refs Refs) error
}

type recorder struct {
	sink  Sink
	now   func() time.Time
	newID func() string
}

// NewRecorder creates a Recorder stamping events with a UUID and the current
// time before handing them to sink.
func NewRecorder(sink Sink) Recorder {
	return &recorder{sink: sink, now: time.Now, newID: uuid.NewString}
}

func (r *recorder) Record(ctx context.Context, eventType contracts.AuditEventType, metadata map[string]any, refs Refs) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	ev := contracts.AuditEvent{
		EventID:     r.newID(),
		Timestamp:   crypto.FormatTimestamp(r.now()),
		EventType:   eventType,
		PrincipalID: optional(refs.PrincipalID),
		ActionID:    optional(refs.ActionID),
		DecisionID:  optional(refs.DecisionID),
		Metadata:    metadata,
	}
	return r.sink.Append(ctx, ev)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type bestEffort struct {
	next   Recorder
	logger *slog.Logger
}

// BestEffort wraps a Recorder so failures are logged at WARN and never
// returned. Decisions must not depend on audit availability.
func BestEffort(next Recorder, logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &bestEffort{next: next, logger: logger}
}

func (b *bestEffort) Record(ctx context.Context, eventType contracts.AuditEventType, metadata map[string]any, refs Refs) error {
	if err := b.next.Record(ctx, eventType, metadata, refs); err != nil {
		b.logger.WarnContext(ctx, "audit write failed", "event_type", eventType, "error", err)
	}
	return nil
}

// Nop discards every event.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, contracts.AuditEventType, map[string]any, Refs) error {
	return nil
}
