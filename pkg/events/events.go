package events

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Names emitted by the authorization server core.
const (
	NameGrantEnabled           = "grant.enabled"
	NameTokenIssued            = "token.issued"
	NameTokenGrantDeferred     = "token.grant_deferred"
	NameIntrospectionResponded = "introspection.responded"
)

type Event struct {
	ID         string
	Name       string
	OccurredAt time.Time
	Fields     map[string]any
}

func New(name string, fields map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Fields:     fields,
	}
}

// Sink receives audit/telemetry events. Implementations must be safe for
// concurrent use; the core never depends on subscriber behavior.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NopSink struct{}

func (NopSink) Emit(ctx context.Context, event Event) {}

type logrSink struct {
	logger logr.Logger
}

// Logr returns a sink that writes events through the given logger at V(1).
func Logr(logger logr.Logger) Sink {
	return &logrSink{logger: logger}
}

func (s *logrSink) Emit(ctx context.Context, event Event) {
	keysAndValues := []any{"event_id", event.ID, "occurred_at", event.OccurredAt}
	for key, value := range event.Fields {
		keysAndValues = append(keysAndValues, key, value)
	}
	s.logger.V(1).Info(event.Name, keysAndValues...)
}
