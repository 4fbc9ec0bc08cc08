// Package compositor turns raw viewport screenshots into frame images and
// renders frame collections for the clipboard and for export.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Crop cuts region (CSS pixels, viewport-relative) out of raw, scaling the
// coordinates by dpr. The result is floor(w*dpr) x floor(h*dpr). Parts of the
// region that fall outside the screenshot stay transparent.
func Crop(raw []byte, region types.Region, dpr float64) ([]byte, error) {
	if dpr <= 0 {
		dpr = 1
	}
	w := int(math.Floor(region.Width * dpr))
	h := int(math.Floor(region.Height * dpr))
	if w <= 0 || h <= 0 {
		return nil, types.NewError(types.CodeValidation, fmt.Sprintf("crop region %.0fx%.0f@%.2f is empty", region.Width, region.Height, dpr), nil)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, types.NewError(types.CodeCaptureFailed, "decode screenshot", err)
	}

	sx := int(math.Floor(region.X*dpr)) + src.Bounds().Min.X
	sy := int(math.Floor(region.Y*dpr)) + src.Bounds().Min.Y
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, image.Pt(sx, sy), draw.Src)

	return encodePNG(dst)
}

// Decode decodes frame image bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("compositor: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
