// Package notify is the fan-out hook the lifecycle engine fires on every
// state transition. Emitting is fire-and-forget: a failed emit never rolls
// back the transition that produced it.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/taskhub/escrow/internal/model"
)

type Emitter interface {
	Emit(ctx context.Context, event model.Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, model.Event) error { return nil }

// LogEmitter writes events to the structured log. Useful in development and
// as a fallback when no queue is configured.
type LogEmitter struct {
	Log zerolog.Logger
}

func (l LogEmitter) Emit(_ context.Context, event model.Event) error {
	l.Log.Info().
		Str("event", string(event.Type)).
		Str("entity_kind", event.EntityKind).
		Str("entity_id", event.EntityID.String()).
		Msg("domain event")
	return nil
}
