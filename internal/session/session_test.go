package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

type fakePage struct {
	mu       sync.Mutex
	info     types.PageInfo
	shot     []byte
	failNext error
	gate     chan struct{}
	captures int
	handlers map[scrollmon.ContainerHandle]func(scrollmon.Event)
	listenFn func(scrollmon.ContainerHandle) error
}

func newFakePage(t *testing.T) *fakePage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 1280, 800))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(700, 400, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return &fakePage{
		info:     types.PageInfo{URL: "https://example.com/feed", Title: "Feed", Width: 1280, Height: 800, DevicePixelRatio: 1},
		shot:     buf.Bytes(),
		handlers: map[scrollmon.ContainerHandle]func(scrollmon.Event){},
	}
}

func (p *fakePage) PageInfo(context.Context) (types.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info, nil
}

func (p *fakePage) CaptureViewport(context.Context) ([]byte, error) {
	p.mu.Lock()
	gate := p.gate
	err := p.failNext
	p.failNext = nil
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	if err != nil {
		return nil, err
	}
	return p.shot, nil
}

func (p *fakePage) DocumentTree(context.Context) (*scrollmon.Node, error) {
	return &scrollmon.Node{ID: "root"}, nil
}

func (p *fakePage) Listen(_ context.Context, h scrollmon.ContainerHandle, fn func(scrollmon.Event)) (func(), error) {
	if p.listenFn != nil {
		if err := p.listenFn(h); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	p.handlers[h] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, h)
		p.mu.Unlock()
	}, nil
}

func (p *fakePage) scroll(y float64) {
	p.mu.Lock()
	fn := p.handlers[scrollmon.Window]
	p.info.ScrollY = y
	p.mu.Unlock()
	if fn != nil {
		fn(scrollmon.Event{Container: scrollmon.Window, ScrollTop: y})
	}
}

func (p *fakePage) setGate(ch chan struct{}) {
	p.mu.Lock()
	p.gate = ch
	p.mu.Unlock()
}

type fakePlan struct{ paid bool }

func (f fakePlan) IsPaid(context.Context) (bool, error) { return f.paid, nil }

type recordingObserver struct {
	mu      sync.Mutex
	states  []types.CaptureState
	quota   int
	notices []types.Notice
}

func (o *recordingObserver) CaptureStateChanged(st types.CaptureState) {
	o.mu.Lock()
	o.states = append(o.states, st)
	o.mu.Unlock()
}

func (o *recordingObserver) QuotaExceeded(quota.State) {
	o.mu.Lock()
	o.quota++
	o.mu.Unlock()
}

func (o *recordingObserver) Notice(n types.Notice) {
	o.mu.Lock()
	o.notices = append(o.notices, n)
	o.mu.Unlock()
}

func (o *recordingObserver) quotaCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quota
}

func (o *recordingObserver) lastNotice() types.Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.notices) == 0 {
		return types.Notice{}
	}
	return o.notices[len(o.notices)-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	s      *Session
	page   *fakePage
	frames *framestore.Store
	kv     *kvstore.Memory
	obs    *recordingObserver
	clock  *clock
	quota  *quota.Tracker
}

func newHarness(t *testing.T, paid bool, cfg Config) *harness {
	t.Helper()
	h := &harness{
		page:   newFakePage(t),
		frames: framestore.New(nil),
		kv:     kvstore.NewMemory(),
		obs:    &recordingObserver{},
		clock:  &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local)},
	}
	h.quota = quota.NewTracker(h.kv, h.clock.Now)
	if err := h.quota.Load(context.Background()); err != nil {
		t.Fatalf("quota.Load() error = %v", err)
	}
	h.s = New(Deps{
		Page:     h.page,
		Frames:   h.frames,
		Quota:    h.quota,
		Plan:     fakePlan{paid: paid},
		KV:       h.kv,
		Observer: h.obs,
		Now:      h.clock.Now,
	}, cfg)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if _, err := h.s.ConfirmSelection(ctx); err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	h.s.Wait()
}

func TestCommandsRejectedInWrongState(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	ctx := context.Background()

	checks := map[string]func() error{
		"pause":   func() error { _, err := h.s.Pause(ctx); return err },
		"resume":  func() error { _, err := h.s.Resume(ctx); return err },
		"stop":    func() error { _, err := h.s.Stop(ctx); return err },
		"confirm": func() error { _, err := h.s.ConfirmSelection(ctx); return err },
		"cancel":  func() error { _, err := h.s.CancelSelection(ctx); return err },
		"move":    func() error { _, err := h.s.MoveSelection(ctx, 1, 1); return err },
	}
	for name, fn := range checks {
		if got := types.CodeOf(fn()); got != types.CodeInvalidState {
			t.Fatalf("%s in idle: code = %q; want %q", name, got, types.CodeInvalidState)
		}
	}

	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if _, err := h.s.BeginSelection(ctx); types.CodeOf(err) != types.CodeInvalidState {
		t.Fatalf("second BeginSelection() error = %v; want invalid state", err)
	}
}

func TestConfirmCapturesFirstFrameImmediately(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	h.page.info.ScrollY = 500
	ctx := context.Background()

	rect, err := h.s.BeginSelection(ctx)
	if err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if want := (types.Region{X: 340, Y: 200, Width: 600, Height: 400}); rect != want {
		t.Fatalf("initial rect = %+v; want %+v", rect, want)
	}
	cs, err := h.s.ConfirmSelection(ctx)
	if err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	h.s.Wait()

	if !cs.IsActive || cs.IsPaused {
		t.Fatalf("state after confirm = %+v", cs)
	}
	frames := h.frames.Frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d; want 1", len(frames))
	}
	f := frames[0]
	if f.Number != 1 || f.ScrollPosition != 500 {
		t.Fatalf("first frame = number %d scroll %d; want 1 and 500", f.Number, f.ScrollPosition)
	}
	if want := rect.Offset(0, 500); f.CaptureArea != want {
		t.Fatalf("CaptureArea = %+v; want document region %+v", f.CaptureArea, want)
	}
	if !regexp.MustCompile(`^frame-\d+-[0-9a-z]{9}$`).MatchString(f.ID) {
		t.Fatalf("frame id %q has the wrong shape", f.ID)
	}
	if !regexp.MustCompile(`^session-\d+$`).MatchString(f.SessionID) {
		t.Fatalf("session id %q has the wrong shape", f.SessionID)
	}
	if f.PageURL != "https://example.com/feed" || f.PageTitle != "Feed" {
		t.Fatalf("page metadata = %q %q", f.PageURL, f.PageTitle)
	}
	img, _, err := image.Decode(bytes.NewReader(f.Image))
	if err != nil {
		t.Fatalf("decode frame image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 400 {
		t.Fatalf("frame image = %dx%d; want 600x400", b.Dx(), b.Dy())
	}

	var current string
	if _, err := kvstore.GetInto(ctx, h.kv, kvstore.KeyCurrentSession, &current); err != nil || current != f.SessionID {
		t.Fatalf("currentSession = %q, %v; want %q", current, err, f.SessionID)
	}
	if got := h.s.ListenerCount(); got != 1 {
		t.Fatalf("ListenerCount() = %d; want 1", got)
	}
}

func TestScrollThresholdTriggersCapture(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	h.start(t)

	h.page.scroll(150)
	h.s.Wait()
	if got := h.frames.Len(); got != 1 {
		t.Fatalf("frames after 150px = %d; want 1", got)
	}

	h.page.scroll(350)
	h.s.Wait()
	frames := h.frames.Frames()
	if len(frames) != 2 {
		t.Fatalf("frames after 350px = %d; want 2", len(frames))
	}
	second := frames[1]
	if second.Number != 2 || second.ScrollPosition != 350 {
		t.Fatalf("second frame = number %d scroll %d; want 2 and 350", second.Number, second.ScrollPosition)
	}
	region, _ := h.s.ActiveRegion()
	if second.CaptureArea != region {
		t.Fatalf("second CaptureArea = %+v; want viewport region %+v", second.CaptureArea, region)
	}
	if got := h.s.CaptureState().FrameCount; got != 2 {
		t.Fatalf("FrameCount = %d; want 2", got)
	}
}

func TestFreePlanQuotaPausesSession(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	h.start(t)

	for i := 1; i < quota.FreeLimit; i++ {
		h.page.scroll(float64(i * 300))
		h.s.Wait()
	}
	if got := h.frames.Len(); got != quota.FreeLimit {
		t.Fatalf("frames = %d; want %d", got, quota.FreeLimit)
	}

	h.page.scroll(float64(quota.FreeLimit * 300))
	h.s.Wait()
	if got := h.frames.Len(); got != quota.FreeLimit {
		t.Fatalf("frames after limit = %d; want %d", got, quota.FreeLimit)
	}
	if got := h.obs.quotaCount(); got != 1 {
		t.Fatalf("QuotaExceeded fired %d times; want 1", got)
	}
	cs := h.s.CaptureState()
	if !cs.IsActive || !cs.IsPaused {
		t.Fatalf("state after limit = %+v; want active and paused", cs)
	}
	if got := h.s.ListenerCount(); got != 1 {
		t.Fatalf("ListenerCount() = %d; want listeners kept", got)
	}

	// Paused: scrolling does nothing.
	h.page.scroll(99999)
	h.s.Wait()
	if got := h.obs.quotaCount(); got != 1 {
		t.Fatalf("QuotaExceeded fired %d times while paused; want 1", got)
	}

	// Next day the counter restarts.
	h.clock.Set(time.Date(2026, 5, 5, 0, 0, 1, 0, time.Local))
	if _, err := h.s.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	h.page.scroll(0)
	h.s.Wait()
	if got := h.frames.Len(); got != quota.FreeLimit+1 {
		t.Fatalf("frames after reset = %d; want %d", got, quota.FreeLimit+1)
	}
	if got := h.quota.State().DailyCount; got != 1 {
		t.Fatalf("DailyCount after reset = %d; want 1", got)
	}
}

func TestPaidPlanIsNeverDenied(t *testing.T) {
	h := newHarness(t, true, DefaultConfig())
	h.start(t)
	for i := 1; i <= 20; i++ {
		h.page.scroll(float64(i * 300))
		h.s.Wait()
	}
	if got := h.frames.Len(); got != 21 {
		t.Fatalf("frames = %d; want 21", got)
	}
	if got := h.obs.quotaCount(); got != 0 {
		t.Fatalf("QuotaExceeded fired %d times on paid plan", got)
	}
	if got := h.quota.State().DailyCount; got != 0 {
		t.Fatalf("paid captures counted: %d", got)
	}
}

func TestOverlapPolicies(t *testing.T) {
	cases := []struct {
		policy OverlapPolicy
		want   int
	}{
		{OverlapQueue, 2},
		{OverlapDrop, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Overlap = tc.policy
			h := newHarness(t, true, cfg)
			gate := make(chan struct{})
			h.page.setGate(gate)

			ctx := context.Background()
			if _, err := h.s.BeginSelection(ctx); err != nil {
				t.Fatalf("BeginSelection() error = %v", err)
			}
			if _, err := h.s.ConfirmSelection(ctx); err != nil {
				t.Fatalf("ConfirmSelection() error = %v", err)
			}
			// The first capture is blocked in the gate; these overlap it.
			h.page.scroll(300)
			h.page.scroll(600)
			h.page.scroll(900)

			h.page.setGate(nil)
			close(gate)
			h.s.Wait()

			if got := h.frames.Len(); got != tc.want {
				t.Fatalf("frames = %d; want %d", got, tc.want)
			}
			if tc.policy == OverlapQueue {
				if got := h.frames.Frames()[1].ScrollPosition; got != 900 {
					t.Fatalf("queued capture position = %d; want latest trigger 900", got)
				}
			}
		})
	}
}

func TestStopKeepsInFlightCaptureDropsQueued(t *testing.T) {
	h := newHarness(t, true, DefaultConfig())
	gate := make(chan struct{})
	h.page.setGate(gate)
	ctx := context.Background()
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if _, err := h.s.ConfirmSelection(ctx); err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	h.page.scroll(300) // queued behind the blocked first capture

	cs, err := h.s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if cs.IsActive || cs.State != string(StateStopped) {
		t.Fatalf("state after stop = %+v", cs)
	}
	if got := h.s.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount() after stop = %d; want 0", got)
	}

	h.page.setGate(nil)
	close(gate)
	h.s.Wait()

	if got := h.frames.Len(); got != 1 {
		t.Fatalf("frames = %d; want only the in-flight capture", got)
	}
	h.page.scroll(5000)
	h.s.Wait()
	if got := h.frames.Len(); got != 1 {
		t.Fatalf("frames after stop scroll = %d; want 1", got)
	}

	vals, err := h.kv.Get(ctx, kvstore.KeyCurrentSession)
	if err != nil || string(vals[kvstore.KeyCurrentSession]) != "null" {
		t.Fatalf("currentSession = %s, %v; want null", vals[kvstore.KeyCurrentSession], err)
	}
	if _, err := h.s.Stop(ctx); types.CodeOf(err) != types.CodeInvalidState {
		t.Fatalf("second Stop() error = %v; want invalid state", err)
	}
}

func TestCaptureFailureSendsNotice(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	h.page.failNext = errors.New("tab crashed")
	h.start(t)

	if got := h.frames.Len(); got != 0 {
		t.Fatalf("frames = %d; want 0", got)
	}
	if n := h.obs.lastNotice(); n.Level != types.NoticeError {
		t.Fatalf("last notice = %+v; want error notice", n)
	}
	if got := h.s.CaptureState(); !got.IsActive || got.FrameCount != 0 {
		t.Fatalf("state = %+v; want active with no frames", got)
	}
	if got := h.quota.State().DailyCount; got != 0 {
		t.Fatalf("DailyCount = %d; want 0", got)
	}

	h.page.scroll(300)
	h.s.Wait()
	if got := h.frames.Len(); got != 1 {
		t.Fatalf("frames after recovery = %d; want 1", got)
	}
}

func TestCancelSelection(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	ctx := context.Background()
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	cs, err := h.s.CancelSelection(ctx)
	if err != nil {
		t.Fatalf("CancelSelection() error = %v", err)
	}
	if cs.State != string(StateIdle) {
		t.Fatalf("state = %q; want idle", cs.State)
	}

	h.start(t)
	if _, err := h.s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() from stopped error = %v", err)
	}
	cs, err = h.s.CancelSelection(ctx)
	if err != nil {
		t.Fatalf("CancelSelection() error = %v", err)
	}
	if cs.State != string(StateStopped) {
		t.Fatalf("state = %q; want stopped when frames exist", cs.State)
	}
	if got := h.frames.Len(); got != 1 {
		t.Fatalf("frames = %d; cancel must keep earlier frames", got)
	}
}

func TestSelectionGeometryCommands(t *testing.T) {
	h := newHarness(t, false, DefaultConfig())
	ctx := context.Background()
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	r, err := h.s.MoveSelection(ctx, -10000, -10000)
	if err != nil {
		t.Fatalf("MoveSelection() error = %v", err)
	}
	if r.X != 0 || r.Y != 0 {
		t.Fatalf("moved rect = %+v; want clamped to origin", r)
	}
	r, err = h.s.ResizeSelection(ctx, "se", -10000, -10000)
	if err != nil {
		t.Fatalf("ResizeSelection() error = %v", err)
	}
	if r.Width != types.MinRegionSize || r.Height != types.MinRegionSize {
		t.Fatalf("resized rect = %+v; want minimum size", r)
	}
	if _, err := h.s.ResizeSelection(ctx, "middle", 1, 1); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("ResizeSelection(bad handle) error = %v; want validation", err)
	}
	if got, ok := h.s.SelectionRect(); !ok || got != r {
		t.Fatalf("SelectionRect() = %+v, %v; want %+v", got, ok, r)
	}
}

func TestMonitorStartFailureStopsSession(t *testing.T) {
	h := newHarness(t, true, DefaultConfig())
	h.page.listenFn = func(scrollmon.ContainerHandle) error { return errors.New("binding refused") }
	ctx := context.Background()
	if _, err := h.s.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	_, err := h.s.ConfirmSelection(ctx)
	if types.CodeOf(err) != types.CodeCDPUnavailable {
		t.Fatalf("ConfirmSelection() error = %v; want %s", err, types.CodeCDPUnavailable)
	}
	h.s.Wait()
	if got := h.s.State(); got != StateStopped {
		t.Fatalf("State() = %q; want stopped", got)
	}
}

func TestParseOverlapPolicy(t *testing.T) {
	if p, err := ParseOverlapPolicy(""); err != nil || p != OverlapQueue {
		t.Fatalf("ParseOverlapPolicy(\"\") = %q, %v", p, err)
	}
	if p, err := ParseOverlapPolicy("drop"); err != nil || p != OverlapDrop {
		t.Fatalf("ParseOverlapPolicy(drop) = %q, %v", p, err)
	}
	if _, err := ParseOverlapPolicy("merge"); err == nil {
		t.Fatalf("ParseOverlapPolicy(merge) error = nil")
	}
}
