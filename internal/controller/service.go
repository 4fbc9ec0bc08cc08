package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/compositor"
	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/session"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Clipboard writes composited output to the system clipboard of the page.
type Clipboard interface {
	WriteImage(ctx context.Context, png []byte) error
	WriteHTMLAndText(ctx context.Context, html, text string) error
}

// Driver is a browser page driver. Both CDP clients satisfy it.
type Driver interface {
	session.Page
	session.Overlay
	Clipboard
	Connect(ctx context.Context) error
	ListPages(ctx context.Context) ([]types.PageTarget, error)
	Attach(ctx context.Context, targetID string) (types.PageTarget, error)
	Current() (types.PageTarget, bool)
	Close() error
}

// StorageReporter exposes the save status of the frame mirror.
type StorageReporter interface {
	Status() persist.Status
}

// Deps are the collaborators of a Service. Mirror and Observer may be nil.
type Deps struct {
	Driver   Driver
	Frames   *framestore.Store
	Quota    *quota.Tracker
	License  *license.Oracle
	Exports  *export.Store
	KV       kvstore.Store
	Mirror   StorageReporter
	Observer session.Observer
	Style    compositor.Style
	Now      func() time.Time
}

// Service wraps the capture session and frame commands behind one surface
// shared by the HTTP API and the CLI.
type Service struct {
	driver  Driver
	session *session.Session
	frames  *framestore.Store
	quota   *quota.Tracker
	license *license.Oracle
	exports *export.Store
	kv      kvstore.Store
	mirror  StorageReporter
	obs     session.Observer
	style   compositor.Style
	now     func() time.Time
}

// NewService builds the session on top of deps.
func NewService(deps Deps, cfg session.Config) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	obs := deps.Observer
	if obs == nil {
		obs = session.Observers()
	}
	sess := session.New(session.Deps{
		Page:     deps.Driver,
		Overlay:  deps.Driver,
		Frames:   deps.Frames,
		Quota:    deps.Quota,
		Plan:     deps.License,
		KV:       deps.KV,
		Observer: obs,
		Now:      deps.Now,
	}, cfg)
	return &Service{
		driver:  deps.Driver,
		session: sess,
		frames:  deps.Frames,
		quota:   deps.Quota,
		license: deps.License,
		exports: deps.Exports,
		kv:      deps.KV,
		mirror:  deps.Mirror,
		obs:     obs,
		style:   deps.Style.WithDefaults(),
		now:     deps.Now,
	}
}

// Start restores persisted frames and quota, and clears a currentSession
// left behind by a previous run.
func (s *Service) Start(ctx context.Context) error {
	frames, err := persist.LoadFrames(ctx, s.kv)
	if err != nil {
		return err
	}
	s.frames.Load(frames)
	if err := s.quota.Load(ctx); err != nil {
		return err
	}

	var stale string
	if _, err := kvstore.GetInto(ctx, s.kv, kvstore.KeyCurrentSession, &stale); err != nil {
		slog.Warn("ignoring malformed current session", "error", err)
	}
	if stale != "" {
		slog.Info("resetting stale capture session", "session_id", stale)
		if err := persist.SetCurrentSession(ctx, s.kv, ""); err != nil {
			return err
		}
	}
	slog.Info("capture state restored", "frames", len(frames), "daily_count", s.quota.State().DailyCount)
	s.obs.CaptureStateChanged(s.session.CaptureState())
	return nil
}

// Shutdown stops an active session and waits for capture work.
func (s *Service) Shutdown(ctx context.Context) {
	s.session.Shutdown(ctx)
}

// Session exposes the state machine for tests and diagnostics.
func (s *Service) Session() *session.Session { return s.session }

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return types.NewError(types.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func (s *Service) notice(level, msg string) {
	s.obs.Notice(types.Notice{Level: level, Message: msg, Time: s.now()})
}

// --- Session commands ---

func (s *Service) BeginSelection(ctx context.Context) (types.Region, error) {
	return s.session.BeginSelection(ctx)
}

func (s *Service) MoveSelection(ctx context.Context, dx, dy float64) (types.Region, error) {
	return s.session.MoveSelection(ctx, dx, dy)
}

func (s *Service) ResizeSelection(ctx context.Context, handle string, dx, dy float64) (types.Region, error) {
	if err := s.requireNonEmpty(handle, "handle"); err != nil {
		return types.Region{}, err
	}
	return s.session.ResizeSelection(ctx, strings.TrimSpace(handle), dx, dy)
}

func (s *Service) ConfirmSelection(ctx context.Context) (types.CaptureState, error) {
	return s.session.ConfirmSelection(ctx)
}

func (s *Service) CancelSelection(ctx context.Context) (types.CaptureState, error) {
	return s.session.CancelSelection(ctx)
}

func (s *Service) Pause(ctx context.Context) (types.CaptureState, error) {
	return s.session.Pause(ctx)
}

func (s *Service) Resume(ctx context.Context) (types.CaptureState, error) {
	return s.session.Resume(ctx)
}

func (s *Service) Stop(ctx context.Context) (types.CaptureState, error) {
	return s.session.Stop(ctx)
}

// CaptureStatus is the capture state plus the geometry the overlay shows.
type CaptureStatus struct {
	types.CaptureState
	Selection *types.Region     `json:"selection,omitempty"`
	Region    *types.Region     `json:"region,omitempty"`
	Listeners int               `json:"listeners"`
	Page      *types.PageTarget `json:"page,omitempty"`
}

func (s *Service) CaptureState() CaptureStatus {
	st := CaptureStatus{
		CaptureState: s.session.CaptureState(),
		Listeners:    s.session.ListenerCount(),
	}
	if r, ok := s.session.SelectionRect(); ok {
		st.Selection = &r
	}
	if r, ok := s.session.ActiveRegion(); ok {
		st.Region = &r
	}
	if p, ok := s.driver.Current(); ok {
		st.Page = &p
	}
	return st
}

// --- Pages ---

func (s *Service) ListPages(ctx context.Context) ([]types.PageTarget, error) {
	return s.driver.ListPages(ctx)
}

// AttachPage switches the driver to another tab. Not allowed while a
// selection or capture is running.
func (s *Service) AttachPage(ctx context.Context, targetID string) (types.PageTarget, error) {
	if err := s.requireNonEmpty(targetID, "target_id"); err != nil {
		return types.PageTarget{}, err
	}
	if st := s.session.State(); st == session.StateSelecting || st == session.StateActive {
		return types.PageTarget{}, types.NewError(types.CodeInvalidState, fmt.Sprintf("cannot switch pages while %s", st), nil)
	}
	return s.driver.Attach(ctx, strings.TrimSpace(targetID))
}

// --- Plan, quota and storage ---

// QuotaStatus is the daily counter as the popup shows it.
type QuotaStatus struct {
	Plan       string    `json:"plan"`
	DailyCount int       `json:"dailyFrameCount"`
	Limit      int       `json:"limit,omitempty"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"resetAt,omitempty"`
}

func (s *Service) QuotaStatus(ctx context.Context) (QuotaStatus, error) {
	paid, err := s.license.IsPaid(ctx)
	if err != nil {
		return QuotaStatus{}, err
	}
	st := s.quota.State()
	out := QuotaStatus{Plan: string(quota.PlanFor(paid)), DailyCount: st.DailyCount, ResetAt: st.ResetAt}
	if paid {
		out.Remaining = -1
		return out, nil
	}
	out.Limit = quota.FreeLimit
	out.Remaining = max(quota.FreeLimit-st.DailyCount, 0)
	return out, nil
}

func (s *Service) LicenseStatus(ctx context.Context) (license.Status, error) {
	return s.license.Status(ctx)
}

func (s *Service) ActivateLicense(ctx context.Context, key string) (license.Status, error) {
	if err := s.requireNonEmpty(key, "license_key"); err != nil {
		return license.Status{}, err
	}
	st, err := s.license.Activate(ctx, key)
	if err != nil {
		return st, err
	}
	s.notice(types.NoticeInfo, "Pro license activated. Unlimited captures enabled.")
	return st, nil
}

func (s *Service) ClearLicense(ctx context.Context) (license.Status, error) {
	if err := s.license.Clear(ctx); err != nil {
		return license.Status{}, err
	}
	return s.license.Status(ctx)
}

// StorageStatus reports whether the frame list reached the store.
func (s *Service) StorageStatus() persist.Status {
	if s.mirror == nil {
		return persist.Status{Saved: true}
	}
	return s.mirror.Status()
}
