package compositor

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

var (
	headerFace font.Face = inconsolata.Bold8x16
	bodyFace   font.Face = inconsolata.Regular8x16
)

// Measurer reports the rendered width of s in pixels.
type Measurer func(s string) int

// FaceMeasurer measures with face, falling back to basicfont.
func FaceMeasurer(face font.Face) Measurer {
	if face == nil {
		face = basicfont.Face7x13
	}
	return func(s string) int { return font.MeasureString(face, s).Ceil() }
}

// WrapText breaks text on spaces so that no line is wider than maxWidth,
// except a single word that does not fit on an empty line.
func WrapText(text string, maxWidth int, measure Measurer) []string {
	if text == "" {
		return nil
	}
	var lines []string
	line := ""
	for _, word := range strings.Split(text, " ") {
		test := line + word + " "
		if measure(test) > maxWidth && line != "" {
			lines = append(lines, strings.TrimRight(line, " "))
			line = word + " "
			continue
		}
		line = test
	}
	if last := strings.TrimRight(line, " "); last != "" {
		lines = append(lines, last)
	}
	return lines
}

func drawString(dst *image.NRGBA, face font.Face, c color.Color, x, baseline int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}
