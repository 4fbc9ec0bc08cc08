package journal

import (
	"sync"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Event names.
const (
	EventState  = "state"
	EventFrames = "frames"
	EventQuota  = "quota_exceeded"
	EventNotice = "notice"
)

// Entry is one journal line.
type Entry struct {
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	State     string    `json:"state,omitempty"`
	Paused    bool      `json:"paused,omitempty"`
	Count     int       `json:"count,omitempty"`
	FrameID   string    `json:"frameId,omitempty"`
	Number    int       `json:"number,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Sink accepts entries. *Writer satisfies it.
type Sink interface {
	Write(record any) error
}

// Recorder turns session notifications into journal entries. Capture state
// is only recorded on transitions and frame lists only when they grow or
// shrink, so the journal stays proportional to user activity.
type Recorder struct {
	sink Sink
	now  func() time.Time

	mu        sync.Mutex
	lastState types.CaptureState
	lastCount int
	seen      bool
}

// NewRecorder returns a Recorder writing to sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now, lastCount: -1}
}

// CaptureStateChanged records state or pause transitions.
func (r *Recorder) CaptureStateChanged(st types.CaptureState) {
	r.mu.Lock()
	changed := !r.seen || st.State != r.lastState.State || st.IsPaused != r.lastState.IsPaused || st.SessionID != r.lastState.SessionID
	r.lastState = st
	r.seen = true
	r.mu.Unlock()
	if !changed {
		return
	}
	r.write(Entry{Event: EventState, SessionID: st.SessionID, State: st.State, Paused: st.IsPaused, Count: st.FrameCount})
}

// QuotaExceeded records a denied capture.
func (r *Recorder) QuotaExceeded(st quota.State) {
	r.write(Entry{Event: EventQuota, Count: st.DailyCount})
}

// Notice records a user-visible notification.
func (r *Recorder) Notice(n types.Notice) {
	r.write(Entry{Event: EventNotice, Level: n.Level, Message: n.Message})
}

// FramesChanged is subscribed to the frame store. A growing list records the
// newest frame.
func (r *Recorder) FramesChanged(frames []types.Frame) {
	r.mu.Lock()
	prev := r.lastCount
	r.lastCount = len(frames)
	r.mu.Unlock()
	if prev == len(frames) {
		return
	}
	e := Entry{Event: EventFrames, Count: len(frames)}
	if len(frames) > prev && len(frames) > 0 {
		last := frames[len(frames)-1]
		e.FrameID = last.ID
		e.SessionID = last.SessionID
		e.Number = last.Number
	}
	r.write(e)
}

func (r *Recorder) write(e Entry) {
	e.Time = r.now().UTC()
	_ = r.sink.Write(e)
}
