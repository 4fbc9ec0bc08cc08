package compositor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// PDF renders one page per frame, each page holding the ComposeSingle image.
func PDF(ctx context.Context, frames []types.Frame, style Style) ([]byte, error) {
	if len(frames) == 0 {
		return nil, types.NewError(types.CodeValidation, "no frames to compose", nil)
	}
	style = style.WithDefaults()

	pages := make([][]byte, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(style.DecodeWorkers)
	for i, f := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			png, err := ComposeSingle(f, style)
			if err != nil {
				return err
			}
			pages[i] = png
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, len(pages))
	for i, p := range pages {
		readers[i] = bytes.NewReader(p)
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("compositor: build pdf: %w", err)
	}
	return out.Bytes(), nil
}

// PDFPageCount reports how many pages a rendered PDF has.
func PDFPageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("compositor: read pdf: %w", err)
	}
	return n, nil
}
