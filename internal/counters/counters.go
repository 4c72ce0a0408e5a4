// Package counters tracks high-churn project counters (view counts) in Redis
// and periodically folds the accumulated deltas back into the store. Reads
// that need exactness combine the persisted value with the pending delta.
package counters

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/taskhub/escrow/internal/store"
)

const viewsHash = "project_views"

type Counter struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb}
}

// BumpView records one project view. The write is a single HINCRBY; the
// persisted view_count catches up on the next reconciliation pass.
func (c *Counter) BumpView(ctx context.Context, projectID uuid.UUID) error {
	return c.rdb.HIncrBy(ctx, viewsHash, projectID.String(), 1).Err()
}

// PendingViews returns the delta not yet folded into the store.
func (c *Counter) PendingViews(ctx context.Context, projectID uuid.UUID) (int64, error) {
	raw, err := c.rdb.HGet(ctx, viewsHash, projectID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Reconciler folds Redis view deltas into the persisted projects on a fixed
// interval.
type Reconciler struct {
	counter  *Counter
	store    store.Store
	interval time.Duration
	log      zerolog.Logger
}

func NewReconciler(counter *Counter, st store.Store, interval time.Duration, log zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		counter:  counter,
		store:    st,
		interval: interval,
		log:      log.With().Str("component", "counters").Logger(),
	}
}

// Run blocks until ctx is cancelled, flushing on every tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Error().Err(err).Msg("view count flush failed")
			}
		}
	}
}

// Flush moves every pending view delta into its project row. Deltas are
// decremented by the flushed amount rather than deleted, so views recorded
// mid-flush are never lost.
func (r *Reconciler) Flush(ctx context.Context) error {
	deltas, err := r.counter.rdb.HGetAll(ctx, viewsHash).Result()
	if err != nil {
		return err
	}

	for field, raw := range deltas {
		projectID, err := uuid.Parse(field)
		if err != nil {
			r.log.Warn().Str("field", field).Msg("dropping malformed counter field")
			r.counter.rdb.HDel(ctx, viewsHash, field)
			continue
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta == 0 {
			continue
		}
		if err := r.applyDelta(ctx, projectID, delta); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.counter.rdb.HDel(ctx, viewsHash, field)
				continue
			}
			r.log.Error().Err(err).Str("project", field).Msg("view delta not applied")
			continue
		}
		if err := r.counter.rdb.HIncrBy(ctx, viewsHash, field, -delta).Err(); err != nil {
			r.log.Error().Err(err).Str("project", field).Msg("counter decrement failed, delta will re-apply")
		}
	}
	return nil
}

func (r *Reconciler) applyDelta(ctx context.Context, projectID uuid.UUID, delta int64) error {
	// A concurrent writer bumps the version; retry a few times from fresh.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		p, getErr := r.store.GetProject(ctx, projectID)
		if getErr != nil {
			return getErr
		}
		p.ViewCount += delta
		err = r.store.UpdateProject(ctx, p)
		if err == nil || !errors.Is(err, store.ErrStaleWrite) {
			return err
		}
	}
	return err
}
