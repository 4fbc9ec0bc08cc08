package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/compositor"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func newSessionID(now time.Time) string {
	return "session-" + strconv.FormatInt(now.UnixMilli(), 10)
}

func newFrameID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return fmt.Sprintf("frame-%d-%s", now.UnixMilli(), suffix)
}

// onTrigger is the scroll monitor callback. It only schedules work.
func (s *Session) onTrigger(t scrollmon.Trigger) {
	s.requestCapture(captureRequest{position: t.Position, container: t.Container})
}

// requestCapture claims the capture slot or applies the overlap policy.
func (s *Session) requestCapture(req captureRequest) {
	s.mu.Lock()
	if s.state != StateActive || (s.paused && !req.first) {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		if s.cfg.Overlap == OverlapQueue {
			req.sessionID, req.viewport, req.document = s.sessionID, s.viewport, s.document
			s.pending = &req
		} else {
			s.logger.Debug("capture in flight, trigger dropped", "position", req.position)
		}
		s.mu.Unlock()
		return
	}
	req.sessionID, req.viewport, req.document = s.sessionID, s.viewport, s.document
	s.inFlight = true
	gen := s.gen
	ctx := s.captureCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runCaptures(ctx, gen, req)
}

// runCaptures performs req, then any re-capture queued meanwhile.
func (s *Session) runCaptures(ctx context.Context, gen uint64, req captureRequest) {
	defer s.wg.Done()
	for {
		s.capture(ctx, gen, req)

		s.mu.Lock()
		if s.gen != gen {
			// A newer session owns the slot now.
			s.mu.Unlock()
			return
		}
		next := s.pending
		s.pending = nil
		if next == nil || s.state != StateActive || s.paused {
			s.inFlight = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		req = *next
	}
}

func (s *Session) capture(ctx context.Context, gen uint64, req captureRequest) {
	if s.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CaptureTimeout)
		defer cancel()
	}

	paid := false
	if s.plan != nil {
		var err error
		if paid, err = s.plan.IsPaid(ctx); err != nil {
			s.logger.Warn("plan lookup failed, assuming free", "error", err)
		}
	}
	plan := quota.PlanFor(paid)
	if s.quota != nil {
		ok, err := s.quota.Allow(ctx, plan)
		if err != nil {
			s.logger.Warn("quota rollover not persisted", "error", err)
		}
		if !ok {
			s.quotaExceeded(gen)
			return
		}
	}

	s.mu.Lock()
	confirmInfo := s.confirmInfo
	s.mu.Unlock()
	viewport, sessionID := req.viewport, req.sessionID

	info, err := s.page.PageInfo(ctx)
	if err != nil {
		s.logger.Debug("page info unavailable, using confirm-time values", "error", err)
		info = confirmInfo
	}

	raw, err := s.page.CaptureViewport(ctx)
	if err != nil {
		s.logger.Error("capture failed", "session_id", sessionID, "error", err)
		s.notice(types.NoticeError, "Capture failed: "+err.Error())
		return
	}
	img, err := compositor.Crop(raw, viewport, info.DevicePixelRatio)
	if err != nil {
		s.logger.Error("crop failed", "session_id", sessionID, "error", err)
		s.notice(types.NoticeError, "Error capturing frame")
		return
	}

	now := s.now()
	frame := types.Frame{
		ID:             newFrameID(now),
		SessionID:      sessionID,
		Image:          img,
		Timestamp:      now,
		CaptureArea:    viewport,
		ScrollPosition: int(req.position),
		PageURL:        info.URL,
		PageTitle:      info.Title,
	}
	if req.first {
		frame.CaptureArea = req.document
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info("discarding capture from previous session", "session_id", sessionID)
		return
	}
	s.mu.Unlock()

	stored := s.frames.Append(frame)
	s.mu.Lock()
	if s.gen == gen {
		s.frameCounter = s.frames.Len()
	}
	s.mu.Unlock()
	if !paid && s.quota != nil {
		if _, err := s.quota.RecordCapture(ctx); err != nil {
			s.logger.Warn("quota count not persisted", "error", err)
		}
	}
	s.logger.Info("frame captured", "session_id", sessionID, "frame", stored.Number, "position", req.position, "container", req.container, "bytes", len(img))

	s.overlayDo("flash", func(o Overlay) error { return o.Flash(ctx) })
	s.publishState()
}

// quotaExceeded pauses the session; listeners stay attached but inert.
func (s *Session) quotaExceeded(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.pending = nil
	if s.monitor != nil {
		s.monitor.SetPaused(true)
	}
	s.mu.Unlock()

	st := s.quota.State()
	s.logger.Info("daily frame limit reached", "count", st.DailyCount, "reset_at", st.ResetAt)
	s.obs.QuotaExceeded(st)
	s.notice(types.NoticeWarn, "Frame limit reached! Upgrade to Pro for unlimited captures.")
	s.publishState()
}
