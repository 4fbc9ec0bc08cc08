package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/region"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

func (s *Session) pageInfo(ctx context.Context) (types.PageInfo, error) {
	if s.page == nil {
		return types.PageInfo{}, types.NewError(types.CodeCDPUnavailable, "no page attached", nil)
	}
	info, err := s.page.PageInfo(ctx)
	if err != nil {
		if types.CodeOf(err) != "" {
			return info, err
		}
		return info, types.NewError(types.CodeCDPUnavailable, "read page info", err)
	}
	return info, nil
}

// BeginSelection reads the viewport and opens the region selector.
func (s *Session) BeginSelection(ctx context.Context) (types.Region, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if st := s.State(); st != StateIdle && st != StateStopped {
		return types.Region{}, invalidState("beginSelection", st)
	}
	info, err := s.pageInfo(ctx)
	if err != nil {
		return types.Region{}, err
	}
	sel, err := region.Begin(region.Size{Width: info.Width, Height: info.Height})
	if err != nil {
		return types.Region{}, err
	}

	s.mu.Lock()
	s.selector = sel
	s.state = StateSelecting
	s.mu.Unlock()

	rect := sel.Rect()
	s.overlayDo("show selection", func(o Overlay) error { return o.ShowSelection(ctx, rect) })
	s.logger.Info("selection started", "viewport_w", info.Width, "viewport_h", info.Height, "rect", rect)
	s.publishState()
	return rect, nil
}

// MoveSelection drags the selection rectangle.
func (s *Session) MoveSelection(ctx context.Context, dx, dy float64) (types.Region, error) {
	return s.updateSelection(ctx, "moveSelection", func(sel *region.Selector) (types.Region, error) {
		return sel.Move(dx, dy)
	})
}

// ResizeSelection drags one corner of the selection rectangle.
func (s *Session) ResizeSelection(ctx context.Context, handle string, dx, dy float64) (types.Region, error) {
	h, err := region.ParseHandle(handle)
	if err != nil {
		return types.Region{}, err
	}
	return s.updateSelection(ctx, "resizeSelection", func(sel *region.Selector) (types.Region, error) {
		return sel.Resize(h, dx, dy)
	})
}

func (s *Session) updateSelection(ctx context.Context, cmd string, fn func(*region.Selector) (types.Region, error)) (types.Region, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	st, sel := s.state, s.selector
	s.mu.Unlock()
	if st != StateSelecting {
		return types.Region{}, invalidState(cmd, st)
	}
	rect, err := fn(sel)
	if err != nil {
		return rect, err
	}
	s.overlayDo("redraw selection", func(o Overlay) error { return o.ShowSelection(ctx, rect) })
	return rect, nil
}

// CancelSelection closes the selector without starting a session.
func (s *Session) CancelSelection(ctx context.Context) (types.CaptureState, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	if s.state != StateSelecting {
		st := s.state
		s.mu.Unlock()
		return types.CaptureState{}, invalidState("cancelSelection", st)
	}
	if err := s.selector.Cancel(); err != nil && !errors.Is(err, region.ErrClosed) {
		s.mu.Unlock()
		return types.CaptureState{}, err
	}
	s.selector = nil
	s.state = StateIdle
	if s.frames.Len() > 0 {
		s.state = StateStopped
	}
	cs := s.captureStateLocked()
	s.mu.Unlock()

	s.overlayDo("clear", func(o Overlay) error { return o.Clear(ctx) })
	s.logger.Info("selection cancelled", "state", cs.State)
	s.obs.CaptureStateChanged(cs)
	return cs, nil
}

// ConfirmSelection fixes the region, starts a new session and captures the
// first frame immediately.
func (s *Session) ConfirmSelection(ctx context.Context) (types.CaptureState, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	st, sel := s.state, s.selector
	s.mu.Unlock()
	if st != StateSelecting {
		return types.CaptureState{}, invalidState("confirmSelection", st)
	}
	info, err := s.pageInfo(ctx)
	if err != nil {
		return types.CaptureState{}, err
	}
	selection, err := sel.Confirm(info.ScrollY)
	if err != nil {
		return types.CaptureState{}, invalidState("confirmSelection", st)
	}

	s.frames.Clear()
	id := newSessionID(s.now())
	runCtx := context.WithoutCancel(ctx)
	monitor := scrollmon.New(s.page, s.onTrigger,
		scrollmon.WithThreshold(s.cfg.Threshold),
		scrollmon.WithScope(s.cfg.Scope),
		scrollmon.WithLogger(s.logger),
	)

	s.mu.Lock()
	s.gen++
	s.inFlight = false
	s.pending = nil
	s.selector = nil
	s.state = StateActive
	s.paused = false
	s.sessionID = id
	s.frameCounter = 0
	s.viewport = selection.Viewport
	s.document = selection.Document
	s.confirmInfo = info
	s.monitor = monitor
	s.captureCtx = runCtx
	s.mu.Unlock()

	if s.kv != nil {
		if err := persist.SetCurrentSession(ctx, s.kv, id); err != nil {
			s.logger.Warn("persist current session failed", "session_id", id, "error", err)
		}
	}
	s.overlayDo("show active region", func(o Overlay) error { return o.ShowActiveRegion(ctx, selection.Viewport) })
	s.logger.Info("capture session started", "session_id", id, "region", selection.Viewport, "scroll_y", selection.ScrollY)

	s.requestCapture(captureRequest{first: true, position: selection.ScrollY, container: scrollmon.Window})

	if err := monitor.Start(runCtx); err != nil {
		s.logger.Error("scroll monitor failed to start", "session_id", id, "error", err)
		s.stopLocked(ctx)
		return s.CaptureState(), types.NewError(types.CodeCDPUnavailable, "attach scroll listeners", err)
	}

	cs := s.CaptureState()
	s.obs.CaptureStateChanged(cs)
	return cs, nil
}

// Pause stops reacting to scroll without detaching listeners.
func (s *Session) Pause(ctx context.Context) (types.CaptureState, error) {
	return s.setPaused("pause", true)
}

// Resume reverses Pause. After a quota pause the next capture re-checks the
// quota.
func (s *Session) Resume(ctx context.Context) (types.CaptureState, error) {
	return s.setPaused("resume", false)
}

func (s *Session) setPaused(cmd string, paused bool) (types.CaptureState, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		return types.CaptureState{}, invalidState(cmd, st)
	}
	s.paused = paused
	if s.monitor != nil {
		s.monitor.SetPaused(paused)
	}
	cs := s.captureStateLocked()
	s.mu.Unlock()

	msg := "Capture resumed"
	if paused {
		msg = "Capture paused"
	}
	s.notice(types.NoticeInfo, msg)
	s.obs.CaptureStateChanged(cs)
	return cs, nil
}

// Stop ends the session. Frames are kept; a capture already in flight still
// lands, a queued one does not.
func (s *Session) Stop(ctx context.Context) (types.CaptureState, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if st := s.State(); st != StateActive {
		return types.CaptureState{}, invalidState("stop", st)
	}
	cs := s.stopLocked(ctx)
	s.notice(types.NoticeInfo, fmt.Sprintf("Capture stopped. %d frames captured.", cs.FrameCount))
	s.obs.CaptureStateChanged(cs)
	return cs, nil
}

// stopLocked tears the session down. Callers hold cmdMu.
func (s *Session) stopLocked(ctx context.Context) types.CaptureState {
	s.mu.Lock()
	monitor := s.monitor
	id := s.sessionID
	s.state = StateStopped
	s.paused = false
	s.pending = nil
	s.sessionID = ""
	cs := s.captureStateLocked()
	s.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	if s.kv != nil {
		if err := persist.SetCurrentSession(ctx, s.kv, ""); err != nil {
			s.logger.Warn("clear current session failed", "error", err)
		}
	}
	s.overlayDo("clear", func(o Overlay) error { return o.Clear(ctx) })
	s.logger.Info("capture session stopped", "session_id", id, "frames", cs.FrameCount)
	return cs
}

// Shutdown stops an active session and waits for capture work.
func (s *Session) Shutdown(ctx context.Context) {
	s.cmdMu.Lock()
	if s.State() == StateActive {
		s.stopLocked(ctx)
	}
	s.cmdMu.Unlock()
	s.Wait()
}
