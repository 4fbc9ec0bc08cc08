package quota

import (
	"context"
	"testing"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 4, 15, 30, 0, 0, loc), time.Date(2026, 3, 5, 0, 0, 0, 0, loc)},
		{time.Date(2026, 3, 4, 0, 0, 0, 0, loc), time.Date(2026, 3, 5, 0, 0, 0, 0, loc)},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, loc), time.Date(2027, 1, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := NextMidnight(tt.now); !got.Equal(tt.want) {
			t.Fatalf("NextMidnight(%v) = %v; want %v", tt.now, got, tt.want)
		}
	}
}

func TestCanCapture(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	fresh := State{DailyCount: 9, ResetAt: NextMidnight(now)}
	full := State{DailyCount: 10, ResetAt: NextMidnight(now)}
	stale := State{DailyCount: 10, ResetAt: now.Add(-time.Minute)}

	if !CanCapture(PlanFree, fresh, now) {
		t.Fatalf("CanCapture(free, 9) = false; want true")
	}
	if CanCapture(PlanFree, full, now) {
		t.Fatalf("CanCapture(free, 10) = true; want false")
	}
	if !CanCapture(PlanFree, stale, now) {
		t.Fatalf("CanCapture(free, stale) = false; want true")
	}
	if !CanCapture(PlanPaid, State{DailyCount: 1000, ResetAt: NextMidnight(now)}, now) {
		t.Fatalf("CanCapture(paid) = false; want true")
	}
}

func TestRollover(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	st, changed := Rollover(State{DailyCount: 4, ResetAt: NextMidnight(now)}, now)
	if changed || st.DailyCount != 4 {
		t.Fatalf("Rollover before reset = %+v, %v; want unchanged", st, changed)
	}

	resetAt := NextMidnight(now)
	st, changed = Rollover(State{DailyCount: 10, ResetAt: resetAt}, resetAt)
	if !changed || st.DailyCount != 0 {
		t.Fatalf("Rollover at reset = %+v, %v; want reset", st, changed)
	}
	if !st.ResetAt.Equal(NextMidnight(resetAt)) {
		t.Fatalf("ResetAt = %v; want %v", st.ResetAt, NextMidnight(resetAt))
	}

	st, changed = Rollover(State{}, now)
	if !changed || !st.ResetAt.Equal(NextMidnight(now)) {
		t.Fatalf("Rollover(zero) = %+v, %v; want initialised", st, changed)
	}
}

func TestTrackerFreePlanAllowsTenPerDay(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.Local)}
	store := kvstore.NewMemory()
	tr := NewTracker(store, clock.Now)
	if err := tr.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for i := 0; i < FreeLimit; i++ {
		ok, err := tr.Allow(ctx, PlanFree)
		if err != nil || !ok {
			t.Fatalf("Allow() #%d = %v, %v; want true", i+1, ok, err)
		}
		if _, err := tr.RecordCapture(ctx); err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}
	}
	if ok, _ := tr.Allow(ctx, PlanFree); ok {
		t.Fatalf("Allow() #11 = true; want false")
	}
	if ok, _ := tr.Allow(ctx, PlanPaid); !ok {
		t.Fatalf("Allow(paid) = false; want true")
	}

	clock.t = time.Date(2026, 5, 2, 0, 0, 1, 0, time.Local)
	if ok, _ := tr.Allow(ctx, PlanFree); !ok {
		t.Fatalf("Allow() after midnight = false; want true")
	}
	if got := tr.State().DailyCount; got != 0 {
		t.Fatalf("DailyCount after rollover = %d; want 0", got)
	}

	var persisted int
	if _, err := kvstore.GetInto(ctx, store, kvstore.KeyDailyFrameCount, &persisted); err != nil {
		t.Fatalf("GetInto() error = %v", err)
	}
	if persisted != 0 {
		t.Fatalf("persisted count = %d; want 0", persisted)
	}
}

func TestTrackerLoadsPersistedState(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.Local)}
	store := kvstore.NewMemory()
	if err := store.Set(ctx, map[string]any{
		kvstore.KeyDailyFrameCount:     10,
		kvstore.KeyDailyLimitResetTime: NextMidnight(clock.t).Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	tr := NewTracker(store, clock.Now)
	if err := tr.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := tr.State().DailyCount; got != 10 {
		t.Fatalf("DailyCount = %d; want 10", got)
	}
	if ok, _ := tr.Allow(ctx, PlanFree); ok {
		t.Fatalf("Allow() = true; want false")
	}
	if got := tr.State().Remaining(); got != 0 {
		t.Fatalf("Remaining() = %d; want 0", got)
	}
}
