package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// FramesPayload is the data of a frames event.
type FramesPayload struct {
	Count  int                  `json:"count"`
	Frames []types.FrameSummary `json:"frames"`
}

// QuotaPayload is the data of a quota_exceeded event.
type QuotaPayload struct {
	DailyFrameCount int       `json:"dailyFrameCount"`
	Limit           int       `json:"limit"`
	ResetAt         time.Time `json:"resetAt"`
}

// QuotaStatusPayload is the data of a quota event: the plan badge and the
// daily counter. Remaining is -1 on the paid plan.
type QuotaStatusPayload struct {
	Plan            string    `json:"plan"`
	DailyFrameCount int       `json:"dailyFrameCount"`
	Limit           int       `json:"limit,omitempty"`
	Remaining       int       `json:"remaining"`
	ResetAt         time.Time `json:"resetAt,omitempty"`
}

// Presenter turns session and frame store notifications into broker
// events. It satisfies session.Observer.
type Presenter struct {
	broker *Broker
}

// NewPresenter returns a Presenter publishing to broker.
func NewPresenter(broker *Broker) *Presenter {
	return &Presenter{broker: broker}
}

// FramesChanged is subscribed to the frame store.
func (p *Presenter) FramesChanged(frames []types.Frame) {
	p.publish(FeedFrames, FramesPayload{Count: len(frames), Frames: types.Summarize(frames)})
}

// CaptureStateChanged publishes the capture state.
func (p *Presenter) CaptureStateChanged(st types.CaptureState) {
	p.publish(FeedCaptureState, st)
}

// QuotaExceeded publishes the upgrade prompt trigger.
func (p *Presenter) QuotaExceeded(st quota.State) {
	p.publish(FeedQuotaExceeded, QuotaPayload{DailyFrameCount: st.DailyCount, Limit: quota.FreeLimit, ResetAt: st.ResetAt})
}

// QuotaChanged publishes the plan and daily counter after either changed.
func (p *Presenter) QuotaChanged(st QuotaStatusPayload) {
	p.publish(FeedQuota, st)
}

// Notice publishes a transient notification.
func (p *Presenter) Notice(n types.Notice) {
	p.publish(FeedNotice, n)
}

func (p *Presenter) publish(feed string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("events encode failed", "feed", feed, "error", err)
		return
	}
	p.broker.Publish(Event{Feed: feed, Payload: string(data)})
}
