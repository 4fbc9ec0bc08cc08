package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
)

// Tracker keeps the daily counter in memory and mirrors it to the store.
type Tracker struct {
	store kvstore.Store
	now   func() time.Time

	mu sync.Mutex
	st State
}

// NewTracker returns a Tracker. Call Load before use.
func NewTracker(store kvstore.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Load reads the persisted state and rolls it over if the reset time passed.
func (t *Tracker) Load(ctx context.Context) error {
	var st State
	if _, err := kvstore.GetInto(ctx, t.store, kvstore.KeyDailyFrameCount, &st.DailyCount); err != nil {
		slog.Warn("quota: ignoring malformed daily count", "error", err)
	}
	var resetAt string
	if _, err := kvstore.GetInto(ctx, t.store, kvstore.KeyDailyLimitResetTime, &resetAt); err != nil {
		slog.Warn("quota: ignoring malformed reset time", "error", err)
	} else if resetAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, resetAt); err == nil {
			st.ResetAt = ts.In(time.Local)
		}
	}

	t.mu.Lock()
	t.st = st
	t.mu.Unlock()
	if _, err := t.rollover(ctx); err != nil {
		return fmt.Errorf("quota: load: %w", err)
	}
	return nil
}

// Allow rolls the counter over if needed, then applies CanCapture. The
// decision is valid even when persisting the rollover fails.
func (t *Tracker) Allow(ctx context.Context, plan Plan) (bool, error) {
	st, err := t.rollover(ctx)
	return CanCapture(plan, st, t.now()), err
}

// RecordCapture counts one free-plan capture and persists it.
func (t *Tracker) RecordCapture(ctx context.Context) (State, error) {
	t.mu.Lock()
	t.st = RecordCapture(t.st)
	st := t.st
	t.mu.Unlock()
	if err := t.persist(ctx, st); err != nil {
		return st, err
	}
	return st, nil
}

// State returns the current counter, rolled over for reading but not
// persisted.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, _ := Rollover(t.st, t.now())
	return st
}

func (t *Tracker) rollover(ctx context.Context) (State, error) {
	t.mu.Lock()
	st, changed := Rollover(t.st, t.now())
	t.st = st
	t.mu.Unlock()
	if !changed {
		return st, nil
	}
	slog.Info("quota rolled over", "reset_at", st.ResetAt)
	return st, t.persist(ctx, st)
}

func (t *Tracker) persist(ctx context.Context, st State) error {
	err := t.store.Set(ctx, map[string]any{
		kvstore.KeyDailyFrameCount:     st.DailyCount,
		kvstore.KeyDailyLimitResetTime: st.ResetAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("quota: persist: %w", err)
	}
	return nil
}
