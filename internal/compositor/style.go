package compositor

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Style holds the layout constants of composed images. It is loaded from the
// `compositor` section of a profile file.
type Style struct {
	Padding          int    `yaml:"padding"`
	HeaderHeight     int    `yaml:"header_height"`
	AnnotationHeight int    `yaml:"annotation_height"`
	AnnotationGap    int    `yaml:"annotation_gap"`
	LineHeight       int    `yaml:"line_height"`
	Spacing          int    `yaml:"spacing"`
	BorderWidth      int    `yaml:"border_width"`
	Accent           string `yaml:"accent"`
	Text             string `yaml:"text"`
	Background       string `yaml:"background"`
	DecodeWorkers    int    `yaml:"decode_workers"`
}

// DefaultStyle matches the look of the sidebar's copy output.
func DefaultStyle() Style {
	return Style{
		Padding:          20,
		HeaderHeight:     40,
		AnnotationHeight: 60,
		AnnotationGap:    25,
		LineHeight:       20,
		Spacing:          30,
		BorderWidth:      3,
		Accent:           "#ff6b35",
		Text:             "#333333",
		Background:       "#ffffff",
		DecodeWorkers:    4,
	}
}

// WithDefaults fills zero fields from DefaultStyle.
func (s Style) WithDefaults() Style {
	d := DefaultStyle()
	if s.Padding <= 0 {
		s.Padding = d.Padding
	}
	if s.HeaderHeight <= 0 {
		s.HeaderHeight = d.HeaderHeight
	}
	if s.AnnotationHeight <= 0 {
		s.AnnotationHeight = d.AnnotationHeight
	}
	if s.AnnotationGap <= 0 {
		s.AnnotationGap = d.AnnotationGap
	}
	if s.LineHeight <= 0 {
		s.LineHeight = d.LineHeight
	}
	if s.Spacing < 0 {
		s.Spacing = d.Spacing
	}
	if s.BorderWidth <= 0 {
		s.BorderWidth = d.BorderWidth
	}
	if s.Accent == "" {
		s.Accent = d.Accent
	}
	if s.Text == "" {
		s.Text = d.Text
	}
	if s.Background == "" {
		s.Background = d.Background
	}
	if s.DecodeWorkers <= 0 {
		s.DecodeWorkers = d.DecodeWorkers
	}
	return s
}

type palette struct {
	accent, text, background color.NRGBA
}

func (s Style) palette() (palette, error) {
	var p palette
	var err error
	if p.accent, err = ParseHexColor(s.Accent); err != nil {
		return p, err
	}
	if p.text, err = ParseHexColor(s.Text); err != nil {
		return p, err
	}
	if p.background, err = ParseHexColor(s.Background); err != nil {
		return p, err
	}
	return p, nil
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("compositor: invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("compositor: invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
