// Package session implements the capture session state machine:
// Idle -> Selecting -> Active -> Stopped. It owns the region selector, the
// scroll monitor and the single capture slot, and reports progress through
// an Observer.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/region"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// State is the session lifecycle stage.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateActive    State = "active"
	StateStopped   State = "stopped"
)

// OverlapPolicy decides what happens to a trigger that arrives while a
// capture is in flight.
type OverlapPolicy string

const (
	// OverlapQueue coalesces every overlapping trigger into one re-capture
	// that runs after the in-flight one completes.
	OverlapQueue OverlapPolicy = "queue"
	// OverlapDrop discards overlapping triggers.
	OverlapDrop OverlapPolicy = "drop"
)

// ParseOverlapPolicy maps a config string to a policy.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(s) {
	case "", OverlapQueue:
		return OverlapQueue, nil
	case OverlapDrop:
		return OverlapDrop, nil
	}
	return "", fmt.Errorf("session: unknown overlap policy %q", s)
}

// Page is the attached browser tab.
type Page interface {
	scrollmon.Source
	PageInfo(ctx context.Context) (types.PageInfo, error)
	CaptureViewport(ctx context.Context) ([]byte, error)
}

// Overlay draws selection and capture chrome on the page. It is optional and
// its failures never change session state.
type Overlay interface {
	ShowSelection(ctx context.Context, r types.Region) error
	ShowActiveRegion(ctx context.Context, r types.Region) error
	Flash(ctx context.Context) error
	Clear(ctx context.Context) error
}

// PlanOracle reports the license tier.
type PlanOracle interface {
	IsPaid(ctx context.Context) (bool, error)
}

// QuotaGate is the daily counter, satisfied by *quota.Tracker.
type QuotaGate interface {
	Allow(ctx context.Context, plan quota.Plan) (bool, error)
	RecordCapture(ctx context.Context) (quota.State, error)
	State() quota.State
}

// Observer receives session notifications. Frame list changes are published
// by the frame store itself.
type Observer interface {
	CaptureStateChanged(st types.CaptureState)
	QuotaExceeded(st quota.State)
	Notice(n types.Notice)
}

type nopObserver struct{}

func (nopObserver) CaptureStateChanged(types.CaptureState) {}
func (nopObserver) QuotaExceeded(quota.State)              {}
func (nopObserver) Notice(types.Notice)                    {}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) CaptureStateChanged(st types.CaptureState) {
	for _, o := range m {
		o.CaptureStateChanged(st)
	}
}

func (m multiObserver) QuotaExceeded(st quota.State) {
	for _, o := range m {
		o.QuotaExceeded(st)
	}
}

func (m multiObserver) Notice(n types.Notice) {
	for _, o := range m {
		o.Notice(n)
	}
}

// Config tunes capture behaviour.
type Config struct {
	Threshold      float64
	Scope          scrollmon.Scope
	Overlap        OverlapPolicy
	CaptureTimeout time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:      scrollmon.DefaultThreshold,
		Scope:          scrollmon.ScopeSession,
		Overlap:        OverlapQueue,
		CaptureTimeout: 15 * time.Second,
	}
}

// Deps are the collaborators of a Session. Overlay and Observer may be nil.
type Deps struct {
	Page     Page
	Overlay  Overlay
	Frames   *framestore.Store
	Quota    QuotaGate
	Plan     PlanOracle
	KV       kvstore.Store
	Observer Observer
	Now      func() time.Time
}

type captureRequest struct {
	first     bool
	position  float64
	container scrollmon.ContainerHandle

	// Filled in when the request is accepted.
	sessionID string
	viewport  types.Region
	document  types.Region
}

// Session is one page's capture state machine.
type Session struct {
	page    Page
	overlay Overlay
	frames  *framestore.Store
	quota   QuotaGate
	plan    PlanOracle
	kv      kvstore.Store
	obs     Observer
	now     func() time.Time
	cfg     Config
	logger  *slog.Logger

	// cmdMu serializes commands, including their page I/O.
	cmdMu sync.Mutex

	mu           sync.Mutex
	state        State
	selector     *region.Selector
	sessionID    string
	viewport     types.Region
	document     types.Region
	confirmInfo  types.PageInfo
	frameCounter int
	paused       bool
	monitor      *scrollmon.Monitor
	captureCtx   context.Context

	// gen identifies the current session run; captures from an older run
	// are discarded.
	gen      uint64
	inFlight bool
	pending  *captureRequest

	wg sync.WaitGroup
}

// New returns an idle Session.
func New(deps Deps, cfg Config) *Session {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = scrollmon.DefaultThreshold
	}
	if cfg.Scope == "" {
		cfg.Scope = scrollmon.ScopeSession
	}
	if cfg.Overlap == "" {
		cfg.Overlap = OverlapQueue
	}
	return &Session{
		page:    deps.Page,
		overlay: deps.Overlay,
		frames:  deps.Frames,
		quota:   deps.Quota,
		plan:    deps.Plan,
		kv:      deps.KV,
		obs:     deps.Observer,
		now:     deps.Now,
		cfg:     cfg,
		logger:  slog.Default().With("component", "session"),
		state:   StateIdle,
	}
}

// State returns the lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CaptureState is the presenter view of the session.
func (s *Session) CaptureState() types.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureStateLocked()
}

func (s *Session) captureStateLocked() types.CaptureState {
	return types.CaptureState{
		IsActive:   s.state == StateActive,
		IsPaused:   s.paused,
		FrameCount: s.frameCounter,
		State:      string(s.state),
		SessionID:  s.sessionID,
	}
}

// SyncFrameCount sets the frame count to the number of stored frames and
// publishes the result. Call it after frames are removed outside a capture.
func (s *Session) SyncFrameCount() types.CaptureState {
	s.mu.Lock()
	s.frameCounter = s.frames.Len()
	cs := s.captureStateLocked()
	s.mu.Unlock()
	s.obs.CaptureStateChanged(cs)
	return cs
}

// SelectionRect returns the selector geometry while selecting.
func (s *Session) SelectionRect() (types.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelecting || s.selector == nil {
		return types.Region{}, false
	}
	return s.selector.Rect(), true
}

// ActiveRegion returns the confirmed viewport region of the running session.
func (s *Session) ActiveRegion() (types.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return types.Region{}, false
	}
	return s.viewport, true
}

// ListenerCount reports attached scroll listeners.
func (s *Session) ListenerCount() int {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.ListenerCount()
}

// Wait blocks until in-flight capture work, including a queued re-capture,
// has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) notice(level, msg string) {
	s.obs.Notice(types.Notice{Level: level, Message: msg, Time: s.now()})
}

func (s *Session) publishState() {
	s.obs.CaptureStateChanged(s.CaptureState())
}

func invalidState(cmd string, st State) error {
	return types.NewError(types.CodeInvalidState, fmt.Sprintf("%s is not valid while %s", cmd, st), nil)
}

func (s *Session) overlayDo(what string, fn func(Overlay) error) {
	if s.overlay == nil {
		return
	}
	if err := fn(s.overlay); err != nil {
		s.logger.Debug("overlay update failed", "op", what, "error", err)
	}
}
