package types

import "time"

// PageInfo describes the attached page at a point in time.
type PageInfo struct {
	URL              string  `json:"url"`
	Title            string  `json:"title"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
}

// CaptureState is what the presenter sees of the capture session.
type CaptureState struct {
	IsActive   bool   `json:"isActive"`
	IsPaused   bool   `json:"isPaused"`
	FrameCount int    `json:"frameCount"`
	State      string `json:"state"`
	SessionID  string `json:"sessionId,omitempty"`
}

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeWarn  = "warn"
	NoticeError = "error"
)

// Notice is a transient, user-visible notification.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// PageTarget is a browser tab a page driver can attach to.
type PageTarget struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Attached bool   `json:"attached"`
}
