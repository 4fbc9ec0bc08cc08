package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/scrollframe/internal/compositor"
	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/session"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// CopyResult reports a clipboard copy. When the clipboard write fails the
// output is saved as an export and DownloadURL points at it.
type CopyResult struct {
	Copied      bool   `json:"copied"`
	Frames      int    `json:"frames"`
	ExportID    string `json:"exportId,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Service) ListFrames() []types.FrameSummary {
	return types.Summarize(s.frames.Frames())
}

func (s *Service) frame(id string) (types.Frame, error) {
	if err := s.requireNonEmpty(id, "frame_id"); err != nil {
		return types.Frame{}, err
	}
	f, ok := s.frames.Get(strings.TrimSpace(id))
	if !ok {
		return types.Frame{}, types.NewError(types.CodeNotFound, "frame not found: "+id, nil)
	}
	return f, nil
}

func (s *Service) GetFrame(id string) (types.FrameSummary, error) {
	f, err := s.frame(id)
	if err != nil {
		return types.FrameSummary{}, err
	}
	return types.Summarize([]types.Frame{f})[0], nil
}

// FrameImage returns the cropped PNG of a frame.
func (s *Service) FrameImage(id string) ([]byte, error) {
	f, err := s.frame(id)
	if err != nil {
		return nil, err
	}
	return f.Image, nil
}

func (s *Service) DeleteFrame(id string) error {
	if err := s.requireNonEmpty(id, "frame_id"); err != nil {
		return err
	}
	if !s.frames.Delete(strings.TrimSpace(id)) {
		return types.NewError(types.CodeNotFound, "frame not found: "+id, nil)
	}
	s.session.SyncFrameCount()
	return nil
}

func (s *Service) ReorderFrame(from, to int) error {
	return s.frames.Reorder(from, to)
}

func (s *Service) UpdateAnnotation(id, text string) (types.FrameSummary, error) {
	if err := s.requireNonEmpty(id, "frame_id"); err != nil {
		return types.FrameSummary{}, err
	}
	id = strings.TrimSpace(id)
	if !s.frames.UpdateAnnotation(id, text) {
		return types.FrameSummary{}, types.NewError(types.CodeNotFound, "frame not found: "+id, nil)
	}
	return s.GetFrame(id)
}

// ClearAll deletes every frame and forgets the current session. An active
// session is stopped first and pending capture work is awaited, so no
// capture lands after the clear.
func (s *Service) ClearAll(ctx context.Context, confirm bool) (int, error) {
	if !confirm {
		return 0, types.NewError(types.CodeValidation, "confirm must be true to clear all frames", nil)
	}
	if s.session.State() == session.StateActive {
		if _, err := s.session.Stop(ctx); err != nil && types.CodeOf(err) != types.CodeInvalidState {
			return 0, err
		}
	}
	// A capture started before a user Stop may still be running.
	s.session.Wait()
	n := s.frames.Len()
	s.frames.Clear()
	s.session.SyncFrameCount()
	if err := persist.SetCurrentSession(ctx, s.kv, ""); err != nil {
		slog.Warn("clear current session failed", "error", err)
	}
	slog.Info("frames cleared", "count", n)
	s.notice(types.NoticeInfo, fmt.Sprintf("Cleared %d frames.", n))
	return n, nil
}

// CopyFrame composes one frame and writes it to the clipboard as an image.
func (s *Service) CopyFrame(ctx context.Context, id string) (CopyResult, error) {
	f, err := s.frame(id)
	if err != nil {
		return CopyResult{}, err
	}
	img, err := compositor.ComposeSingle(f, s.style)
	if err != nil {
		return CopyResult{}, err
	}

	if err := s.driver.WriteImage(ctx, img); err != nil {
		return s.clipboardFallback(err, export.Meta{
			Kind:      export.KindFrame,
			Format:    export.FormatPNG,
			FrameID:   f.ID,
			SessionID: f.SessionID,
			Frames:    1,
		}, img)
	}
	s.notice(types.NoticeInfo, fmt.Sprintf("Frame %d copied to clipboard.", f.Number))
	return CopyResult{Copied: true, Frames: 1}, nil
}

// CopyAllFrames writes every frame to the clipboard as text/html with a
// text/plain companion.
func (s *Service) CopyAllFrames(ctx context.Context) (CopyResult, error) {
	frames := s.frames.Frames()
	if len(frames) == 0 {
		return CopyResult{}, types.NewError(types.CodeValidation, "no frames to copy", nil)
	}
	html, err := compositor.RenderHTML(frames, compositor.DataURLSource)
	if err != nil {
		return CopyResult{}, err
	}
	text, err := compositor.PlainText(frames)
	if err != nil {
		return CopyResult{}, err
	}

	if err := s.driver.WriteHTMLAndText(ctx, html, text); err != nil {
		return s.clipboardFallback(err, export.Meta{
			Kind:   export.KindAll,
			Format: export.FormatHTML,
			Frames: len(frames),
		}, []byte(html))
	}
	s.notice(types.NoticeInfo, fmt.Sprintf("All %d frames copied to clipboard.", len(frames)))
	return CopyResult{Copied: true, Frames: len(frames)}, nil
}

func (s *Service) clipboardFallback(cause error, meta export.Meta, data []byte) (CopyResult, error) {
	if types.CodeOf(cause) != types.CodeClipboardFailed {
		cause = types.NewError(types.CodeClipboardFailed, "clipboard write", cause)
	}
	slog.Warn("clipboard write failed, saving download", "kind", meta.Kind, "error", cause)
	if s.exports == nil {
		return CopyResult{}, cause
	}
	meta.Reason = cause.Error()
	saved, err := s.exports.Save(meta, data)
	if err != nil {
		slog.Error("clipboard fallback export failed", "error", err)
		return CopyResult{}, cause
	}
	s.notice(types.NoticeWarn, "Clipboard unavailable. The copy was saved as a download instead.")
	return CopyResult{
		Frames:      meta.Frames,
		ExportID:    saved.ID,
		DownloadURL: saved.DownloadURL(),
		Reason:      meta.Reason,
	}, nil
}

// --- Exports ---

// Export renders frames to a stored document. An empty frameID exports every
// frame.
func (s *Service) Export(ctx context.Context, format, frameID string) (export.Meta, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = export.FormatPNG
	}
	if format == "markdown" {
		format = export.FormatMarkdown
	}

	meta := export.Meta{Kind: export.KindAll, Format: format}
	var frames []types.Frame
	if frameID = strings.TrimSpace(frameID); frameID != "" {
		f, err := s.frame(frameID)
		if err != nil {
			return export.Meta{}, err
		}
		frames = []types.Frame{f}
		meta.Kind = export.KindFrame
		meta.FrameID = f.ID
		meta.SessionID = f.SessionID
	} else {
		frames = s.frames.Frames()
	}
	if len(frames) == 0 {
		return export.Meta{}, types.NewError(types.CodeValidation, "no frames to export", nil)
	}
	meta.Frames = len(frames)

	data, err := s.render(ctx, format, frames)
	if err != nil {
		return export.Meta{}, err
	}
	if format == export.FormatPNG {
		if img, err := compositor.Decode(data); err == nil {
			meta.Width = img.Bounds().Dx()
			meta.Height = img.Bounds().Dy()
		}
	}
	return s.exports.Save(meta, data)
}

func (s *Service) render(ctx context.Context, format string, frames []types.Frame) ([]byte, error) {
	switch format {
	case export.FormatPNG:
		if len(frames) == 1 {
			return compositor.ComposeSingle(frames[0], s.style)
		}
		return compositor.ComposeAll(ctx, frames, s.style)
	case export.FormatHTML:
		doc, err := compositor.RenderHTML(frames, compositor.DataURLSource)
		return []byte(doc), err
	case export.FormatMarkdown:
		doc, err := compositor.Markdown(frames, compositor.DataURLSource)
		return []byte(doc), err
	case export.FormatPDF:
		return compositor.PDF(ctx, frames, s.style)
	}
	return nil, types.NewError(types.CodeValidation, fmt.Sprintf("format must be %q, %q, %q or %q", export.FormatPNG, export.FormatHTML, export.FormatMarkdown, export.FormatPDF), nil)
}

func (s *Service) ListExports() ([]export.Meta, error) {
	return s.exports.List()
}

func (s *Service) GetExport(id string) (export.Meta, error) {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return export.Meta{}, err
	}
	return s.exports.Get(strings.TrimSpace(id))
}

func (s *Service) ReadExport(id string) ([]byte, export.Meta, error) {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return nil, export.Meta{}, err
	}
	return s.exports.Read(strings.TrimSpace(id))
}

func (s *Service) DeleteExport(id string) error {
	if err := s.requireNonEmpty(id, "export_id"); err != nil {
		return err
	}
	return s.exports.Delete(strings.TrimSpace(id))
}
