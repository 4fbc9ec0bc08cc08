package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MinRegionSize is the smallest width or height a capture region may have.
const MinRegionSize = 100

// Region is a rectangle in viewport coordinates (independent of scroll).
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Region) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Region) Bottom() float64 { return r.Y + r.Height }

// Offset returns r shifted by dx, dy.
func (r Region) Offset(dx, dy float64) Region {
	r.X += dx
	r.Y += dy
	return r
}

// Frame is one captured, cropped screenshot plus its metadata.
type Frame struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Number         int       `json:"number"`
	Image          []byte    `json:"-"`
	Timestamp      time.Time `json:"timestamp"`
	Annotation     string    `json:"annotation"`
	CaptureArea    Region    `json:"captureArea"`
	ScrollPosition int       `json:"scrollPosition"`
	PageURL        string    `json:"pageUrl"`
	PageTitle      string    `json:"pageTitle"`
}

const pngDataURLPrefix = "data:image/png;base64,"

// DataURL encodes PNG bytes as a data URL.
func DataURL(png []byte) string {
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(png)
}

type frameJSON struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Number         int       `json:"number"`
	ImageData      string    `json:"imageDataUrl"`
	Timestamp      time.Time `json:"timestamp"`
	Annotation     string    `json:"annotation"`
	CaptureArea    Region    `json:"captureArea"`
	ScrollPosition int       `json:"scrollPosition"`
	PageURL        string    `json:"pageUrl"`
	PageTitle      string    `json:"pageTitle"`
}

// MarshalJSON encodes the image as a PNG data URL, matching the persisted
// layout of the browser extension.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := frameJSON{
		ID:             f.ID,
		SessionID:      f.SessionID,
		Number:         f.Number,
		Timestamp:      f.Timestamp,
		Annotation:     f.Annotation,
		CaptureArea:    f.CaptureArea,
		ScrollPosition: f.ScrollPosition,
		PageURL:        f.PageURL,
		PageTitle:      f.PageTitle,
	}
	if len(f.Image) > 0 {
		out.ImageData = DataURL(f.Image)
	}
	return json.Marshal(out)
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var in frameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = Frame{
		ID:             in.ID,
		SessionID:      in.SessionID,
		Number:         in.Number,
		Timestamp:      in.Timestamp,
		Annotation:     in.Annotation,
		CaptureArea:    in.CaptureArea,
		ScrollPosition: in.ScrollPosition,
		PageURL:        in.PageURL,
		PageTitle:      in.PageTitle,
	}
	if in.ImageData == "" {
		return nil
	}
	raw := in.ImageData
	if i := strings.Index(raw, ","); strings.HasPrefix(raw, "data:") && i >= 0 {
		raw = raw[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("frame %s: decode image: %w", in.ID, err)
	}
	f.Image = img
	return nil
}

// FrameSummary is a Frame without image bytes, used on the presenter stream.
type FrameSummary struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Number         int       `json:"number"`
	Timestamp      time.Time `json:"timestamp"`
	Annotation     string    `json:"annotation"`
	CaptureArea    Region    `json:"captureArea"`
	ScrollPosition int       `json:"scrollPosition"`
	PageURL        string    `json:"pageUrl"`
	PageTitle      string    `json:"pageTitle"`
	ImageURL       string    `json:"imageUrl"`
	ImageBytes     int       `json:"imageBytes"`
}

// Summarize strips image bytes from frames.
func Summarize(frames []Frame) []FrameSummary {
	out := make([]FrameSummary, 0, len(frames))
	for _, f := range frames {
		out = append(out, FrameSummary{
			ID:             f.ID,
			SessionID:      f.SessionID,
			Number:         f.Number,
			Timestamp:      f.Timestamp,
			Annotation:     f.Annotation,
			CaptureArea:    f.CaptureArea,
			ScrollPosition: f.ScrollPosition,
			PageURL:        f.PageURL,
			PageTitle:      f.PageTitle,
			ImageURL:       "/api/v1/frames/" + f.ID + "/image",
			ImageBytes:     len(f.Image),
		})
	}
	return out
}
