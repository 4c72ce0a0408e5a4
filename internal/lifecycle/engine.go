// Package lifecycle implements the state machines for projects, proposals,
// contracts, milestones and transactions, and the cross-entity cascades
// between them. The engine is stateless: every operation re-reads current
// entity state from the store, validates the full cascade, and applies it as
// one atomic batch.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/notify"
	"github.com/taskhub/escrow/internal/store"
)

const defaultWriteRetries = 3

type Config struct {
	// WriteRetries bounds how often an operation is replayed from a fresh
	// read after an optimistic-concurrency conflict.
	WriteRetries int
}

type Engine struct {
	store    store.Store
	notifier notify.Emitter
	log      zerolog.Logger
	cfg      Config
	now      func() time.Time
}

func NewEngine(st store.Store, notifier notify.Emitter, log zerolog.Logger, cfg Config) *Engine {
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = defaultWriteRetries
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Engine{
		store:    st,
		notifier: notifier,
		log:      log.With().Str("component", "lifecycle").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the engine's timestamp source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// withRetry replays fn from scratch on a stale write. fn must re-read every
// entity it touches on each attempt.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < e.cfg.WriteRetries; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, store.ErrStaleWrite) {
			return err
		}
		e.log.Debug().Int("attempt", attempt+1).Msg("stale write, retrying from fresh read")
	}
	return err
}

// emit publishes a domain event after a committed transition. Failures are
// logged and swallowed: notification is best-effort, the transition is not.
func (e *Engine) emit(ctx context.Context, eventType model.EventType, entityKind string, entityID uuid.UUID, payload map[string]any) {
	event := model.Event{
		Type:       eventType,
		EntityKind: entityKind,
		EntityID:   entityID,
		Payload:    payload,
		OccurredAt: e.now(),
	}
	if err := e.notifier.Emit(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("event", string(eventType)).Msg("event emit failed")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
