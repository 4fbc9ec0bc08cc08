// Package region implements the capture-region selector: an interactive
// rectangle that can be moved and resized inside the viewport until it is
// confirmed or cancelled.
package region

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

const (
	MaxInitialWidth  = 600
	MaxInitialHeight = 400
	InitialFraction  = 0.6
)

// Handle names a resize corner.
type Handle string

const (
	HandleNW Handle = "nw"
	HandleNE Handle = "ne"
	HandleSW Handle = "sw"
	HandleSE Handle = "se"
)

// ParseHandle validates a corner name.
func ParseHandle(s string) (Handle, error) {
	switch h := Handle(s); h {
	case HandleNW, HandleNE, HandleSW, HandleSE:
		return h, nil
	}
	return "", types.NewError(types.CodeValidation, fmt.Sprintf("unknown resize handle %q", s), nil)
}

// ErrClosed is returned by operations on a selector that was already
// confirmed or cancelled.
var ErrClosed = errors.New("region: selection already closed")

// Size is a viewport size.
type Size struct {
	Width  float64
	Height float64
}

// Selection is the outcome of Confirm.
type Selection struct {
	// Viewport is the region cropped out of every screenshot.
	Viewport types.Region
	// Document is Viewport shifted by the scroll offset at confirm time.
	Document types.Region
	ScrollY  float64
}

// Selector owns one selection rectangle.
type Selector struct {
	mu     sync.Mutex
	vp     Size
	rect   types.Region
	closed bool
}

// Begin creates a selector with the default rectangle centered in vp.
// Geometry is kept in whole pixels.
func Begin(vp Size) (*Selector, error) {
	if vp.Width < types.MinRegionSize || vp.Height < types.MinRegionSize {
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("viewport %.0fx%.0f smaller than minimum region", vp.Width, vp.Height), nil)
	}
	vp.Width, vp.Height = math.Floor(vp.Width), math.Floor(vp.Height)
	w := math.Max(types.MinRegionSize, math.Round(math.Min(MaxInitialWidth, vp.Width*InitialFraction)))
	h := math.Max(types.MinRegionSize, math.Round(math.Min(MaxInitialHeight, vp.Height*InitialFraction)))
	return &Selector{
		vp: vp,
		rect: types.Region{
			X:      math.Floor((vp.Width - w) / 2),
			Y:      math.Floor((vp.Height - h) / 2),
			Width:  w,
			Height: h,
		},
	}, nil
}

// Rect returns the current rectangle.
func (s *Selector) Rect() types.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rect
}

// Viewport returns the viewport the selector clamps against.
func (s *Selector) Viewport() Size {
	return s.vp
}

// Move translates the rectangle, keeping it fully inside the viewport.
func (s *Selector) Move(dx, dy float64) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.rect, ErrClosed
	}
	dx, dy = math.Round(dx), math.Round(dy)
	s.rect.X = clamp(s.rect.X+dx, 0, s.vp.Width-s.rect.Width)
	s.rect.Y = clamp(s.rect.Y+dy, 0, s.vp.Height-s.rect.Height)
	return s.rect, nil
}

// Resize drags one corner. The opposite edges stay fixed; the dragged edges
// are clamped so the size never drops below the minimum and the rectangle
// never leaves the viewport.
func (s *Selector) Resize(h Handle, dx, dy float64) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.rect, ErrClosed
	}
	dx, dy = math.Round(dx), math.Round(dy)
	left, top := s.rect.X, s.rect.Y
	right, bottom := s.rect.Right(), s.rect.Bottom()

	switch h {
	case HandleNW, HandleSW:
		left = clamp(left+dx, 0, right-types.MinRegionSize)
	case HandleNE, HandleSE:
		right = clamp(right+dx, left+types.MinRegionSize, s.vp.Width)
	default:
		return s.rect, types.NewError(types.CodeValidation, fmt.Sprintf("unknown resize handle %q", h), nil)
	}
	switch h {
	case HandleNW, HandleNE:
		top = clamp(top+dy, 0, bottom-types.MinRegionSize)
	case HandleSW, HandleSE:
		bottom = clamp(bottom+dy, top+types.MinRegionSize, s.vp.Height)
	}

	s.rect = types.Region{X: left, Y: top, Width: right - left, Height: bottom - top}
	return s.rect, nil
}

// Confirm closes the selector and returns the region in viewport and
// document coordinates.
func (s *Selector) Confirm(scrollY float64) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Selection{}, ErrClosed
	}
	s.closed = true
	return Selection{
		Viewport: s.rect,
		Document: s.rect.Offset(0, scrollY),
		ScrollY:  scrollY,
	}, nil
}

// Cancel closes the selector without producing a region.
func (s *Selector) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

// Closed reports whether Confirm or Cancel has run.
func (s *Selector) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
