package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// headerBaseline is the offset of the header text baseline from the top of
// the header block.
const headerBaseline = 25

// ComposeSingle renders one frame as "Frame N" header, bordered image and
// wrapped annotation.
func ComposeSingle(frame types.Frame, style Style) ([]byte, error) {
	style = style.WithDefaults()
	pal, err := style.palette()
	if err != nil {
		return nil, err
	}
	img, err := Decode(frame.Image)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, fmt.Sprintf("frame %s image", frame.ID), err)
	}
	b := img.Bounds()
	lines := WrapText(frame.Annotation, b.Dx(), FaceMeasurer(bodyFace))

	width := b.Dx() + 2*style.Padding
	height := style.Padding + style.HeaderHeight + b.Dy() + annotationBlock(style, lines) + style.Padding
	canvas := newCanvas(width, height, pal.background)

	drawFrame(canvas, style, pal, style.Padding, frame.Number, img, lines)
	return encodePNG(canvas)
}

type decoded struct {
	frame types.Frame
	img   image.Image
	lines []string
}

// ComposeAll stacks every frame vertically on one canvas. Images are decoded
// concurrently.
func ComposeAll(ctx context.Context, frames []types.Frame, style Style) ([]byte, error) {
	if len(frames) == 0 {
		return nil, types.NewError(types.CodeValidation, "no frames to compose", nil)
	}
	style = style.WithDefaults()
	pal, err := style.palette()
	if err != nil {
		return nil, err
	}

	items := make([]decoded, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(style.DecodeWorkers)
	for i, f := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := Decode(f.Image)
			if err != nil {
				return types.NewError(types.CodeValidation, fmt.Sprintf("frame %s image", f.ID), err)
			}
			items[i] = decoded{frame: f, img: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	maxWidth := 0
	for _, it := range items {
		maxWidth = max(maxWidth, it.img.Bounds().Dx())
	}
	measure := FaceMeasurer(bodyFace)
	height := style.Padding
	for i := range items {
		items[i].lines = WrapText(items[i].frame.Annotation, maxWidth-style.Padding, measure)
		height += style.HeaderHeight + items[i].img.Bounds().Dy() + annotationBlock(style, items[i].lines) + style.Spacing
	}

	canvas := newCanvas(maxWidth+2*style.Padding, height, pal.background)
	y := style.Padding
	for _, it := range items {
		y = drawFrame(canvas, style, pal, y, it.frame.Number, it.img, it.lines)
		y += style.Spacing
	}
	return encodePNG(canvas)
}

// annotationBlock is the height reserved below an image: zero without an
// annotation, otherwise at least AnnotationHeight and tall enough for lines.
func annotationBlock(style Style, lines []string) int {
	if len(lines) == 0 {
		return 0
	}
	return max(style.AnnotationHeight, style.AnnotationGap+len(lines)*style.LineHeight)
}

func newCanvas(w, h int, bg color.Color) *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return canvas
}

// drawFrame draws one frame block starting at y and returns the y below it.
func drawFrame(canvas *image.NRGBA, style Style, pal palette, y, number int, img image.Image, lines []string) int {
	x := style.Padding
	drawString(canvas, headerFace, pal.accent, x, y+headerBaseline, fmt.Sprintf("Frame %d", number))
	y += style.HeaderHeight

	b := img.Bounds()
	bw := style.BorderWidth
	border := image.Rect(x-bw, y-bw, x+b.Dx()+bw, y+b.Dy()+bw)
	draw.Draw(canvas, border, image.NewUniform(pal.accent), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
	y += b.Dy()

	if len(lines) == 0 {
		return y
	}
	lineY := y + style.AnnotationGap
	for _, line := range lines {
		drawString(canvas, bodyFace, pal.text, x, lineY, line)
		lineY += style.LineHeight
	}
	return y + annotationBlock(style, lines)
}
