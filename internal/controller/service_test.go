package controller

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/session"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xcc
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

type fakeDriver struct {
	mu           sync.Mutex
	shot         []byte
	gate         chan struct{}
	clipboardErr error
	images       [][]byte
	htmls        []string
	texts        []string
	attached     string
}

func (d *fakeDriver) PageInfo(context.Context) (types.PageInfo, error) {
	return types.PageInfo{URL: "https://example.com/thread", Title: "Thread", Width: 1000, Height: 700, DevicePixelRatio: 1}, nil
}

func (d *fakeDriver) CaptureViewport(ctx context.Context) ([]byte, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.shot, nil
}

func (d *fakeDriver) DocumentTree(context.Context) (*scrollmon.Node, error) {
	return &scrollmon.Node{ID: "root"}, nil
}

func (d *fakeDriver) Listen(context.Context, scrollmon.ContainerHandle, func(scrollmon.Event)) (func(), error) {
	return func() {}, nil
}

func (d *fakeDriver) ShowSelection(context.Context, types.Region) error    { return nil }
func (d *fakeDriver) ShowActiveRegion(context.Context, types.Region) error { return nil }
func (d *fakeDriver) Flash(context.Context) error                          { return nil }
func (d *fakeDriver) Clear(context.Context) error                          { return nil }

func (d *fakeDriver) WriteImage(_ context.Context, img []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clipboardErr != nil {
		return d.clipboardErr
	}
	d.images = append(d.images, img)
	return nil
}

func (d *fakeDriver) WriteHTMLAndText(_ context.Context, html, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clipboardErr != nil {
		return d.clipboardErr
	}
	d.htmls = append(d.htmls, html)
	d.texts = append(d.texts, text)
	return nil
}

func (d *fakeDriver) Connect(context.Context) error { return nil }

func (d *fakeDriver) ListPages(context.Context) ([]types.PageTarget, error) {
	return []types.PageTarget{{TargetID: "page-1", URL: "https://example.com/thread", Attached: d.attached == "page-1"}}, nil
}

func (d *fakeDriver) Attach(_ context.Context, id string) (types.PageTarget, error) {
	d.attached = id
	return types.PageTarget{TargetID: id, Attached: true}, nil
}

func (d *fakeDriver) Current() (types.PageTarget, bool) {
	if d.attached == "" {
		return types.PageTarget{}, false
	}
	return types.PageTarget{TargetID: d.attached, Attached: true}, true
}

func (d *fakeDriver) Close() error { return nil }

type noticeLog struct {
	mu      sync.Mutex
	notices []types.Notice
}

func (n *noticeLog) CaptureStateChanged(types.CaptureState) {}
func (n *noticeLog) QuotaExceeded(quota.State)              {}
func (n *noticeLog) Notice(nt types.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, nt)
	n.mu.Unlock()
}

func (n *noticeLog) last() types.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return types.Notice{}
	}
	return n.notices[len(n.notices)-1]
}

type fixture struct {
	svc     *Service
	driver  *fakeDriver
	kv      *kvstore.Memory
	frames  *framestore.Store
	exports *export.Store
	notices *noticeLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := kvstore.NewMemory()
	exports, err := export.NewStore(filepath.Join(t.TempDir(), "exports"))
	if err != nil {
		t.Fatalf("export.NewStore() error = %v", err)
	}
	driver := &fakeDriver{shot: pngBytes(t, 1000, 700), attached: "page-1"}
	frames := framestore.New(nil)
	notices := &noticeLog{}
	now := func() time.Time { return time.Date(2026, 2, 3, 10, 0, 0, 0, time.Local) }
	svc := NewService(Deps{
		Driver:   driver,
		Frames:   frames,
		Quota:    quota.NewTracker(kv, now),
		License:  license.NewOracle(kv, license.NewValidator(nil, ""), now),
		Exports:  exports,
		KV:       kv,
		Observer: notices,
		Now:      now,
	}, session.DefaultConfig())
	return &fixture{svc: svc, driver: driver, kv: kv, frames: frames, exports: exports, notices: notices}
}

func (f *fixture) addFrames(t *testing.T, n int) {
	t.Helper()
	for i := range n {
		f.frames.Append(types.Frame{
			ID:         "frame-" + string(rune('a'+i)),
			SessionID:  "session-1",
			Image:      pngBytes(t, 120, 110),
			Annotation: "note",
			Timestamp:  time.Date(2026, 2, 3, 10, i, 0, 0, time.UTC),
		})
	}
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("frame-1", "frame_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	err := s.requireNonEmpty("   ", "frame_id")
	var got *types.CodedError
	if !errors.As(err, &got) {
		t.Fatalf("requireNonEmpty() = %T; want *types.CodedError", err)
	}
	if got.Code != types.CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, types.CodeValidation)
	}
	if got.Message != "frame_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "frame_id is required")
	}
}

func TestStartRestoresFramesAndResetsStaleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stored := []types.Frame{{ID: "frame-1", Number: 7, Image: pngBytes(t, 100, 100)}}
	if err := f.kv.Set(ctx, map[string]any{
		kvstore.KeyFrames:         stored,
		kvstore.KeyCurrentSession: "session-old",
	}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frames := f.svc.ListFrames()
	if len(frames) != 1 || frames[0].Number != 1 {
		t.Fatalf("ListFrames() = %+v; want one frame numbered 1", frames)
	}
	var current string
	if ok, err := kvstore.GetInto(ctx, f.kv, kvstore.KeyCurrentSession, &current); err != nil || ok {
		t.Fatalf("currentSession = %q, %v; want null", current, err)
	}
}

func TestConfirmSelectionCapturesThroughDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if st := f.svc.CaptureState(); st.Selection == nil || st.State != string(session.StateSelecting) {
		t.Fatalf("CaptureState() = %+v; want selecting with a rect", st)
	}
	if _, err := f.svc.ConfirmSelection(ctx); err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	f.svc.Session().Wait()

	if got := f.frames.Len(); got != 1 {
		t.Fatalf("frames = %d; want 1", got)
	}
	if _, err := f.svc.AttachPage(ctx, "page-2"); types.CodeOf(err) != types.CodeInvalidState {
		t.Fatalf("AttachPage() during capture error = %v; want %s", err, types.CodeInvalidState)
	}
	if _, err := f.svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := f.svc.CaptureState(); st.Listeners != 0 || st.Region != nil {
		t.Fatalf("CaptureState() after stop = %+v", st)
	}
	if p, err := f.svc.AttachPage(ctx, "page-2"); err != nil || p.TargetID != "page-2" {
		t.Fatalf("AttachPage() = %+v, %v", p, err)
	}
}

func TestFrameCommands(t *testing.T) {
	f := newFixture(t)
	f.addFrames(t, 3)

	if err := f.svc.DeleteFrame("missing"); types.CodeOf(err) != types.CodeNotFound {
		t.Fatalf("DeleteFrame(missing) error = %v; want %s", err, types.CodeNotFound)
	}
	if err := f.svc.DeleteFrame("frame-b"); err != nil {
		t.Fatalf("DeleteFrame() error = %v", err)
	}
	if err := f.svc.ReorderFrame(0, 5); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("ReorderFrame(out of range) error = %v; want %s", err, types.CodeValidation)
	}
	if err := f.svc.ReorderFrame(1, 0); err != nil {
		t.Fatalf("ReorderFrame() error = %v", err)
	}
	sum, err := f.svc.UpdateAnnotation("frame-a", "after reorder")
	if err != nil {
		t.Fatalf("UpdateAnnotation() error = %v", err)
	}
	if sum.Number != 2 || sum.Annotation != "after reorder" {
		t.Fatalf("UpdateAnnotation() = %+v; want frame 2 with new text", sum)
	}
	img, err := f.svc.FrameImage("frame-c")
	if err != nil || len(img) == 0 {
		t.Fatalf("FrameImage() = %d bytes, %v", len(img), err)
	}
}

func TestClearAllRequiresConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFrames(t, 5)
	if err := persist.SetCurrentSession(ctx, f.kv, "session-1"); err != nil {
		t.Fatalf("SetCurrentSession() error = %v", err)
	}

	if _, err := f.svc.ClearAll(ctx, false); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("ClearAll(false) error = %v; want %s", err, types.CodeValidation)
	}
	n, err := f.svc.ClearAll(ctx, true)
	if err != nil || n != 5 {
		t.Fatalf("ClearAll() = %d, %v; want 5", n, err)
	}
	if got := f.frames.Append(types.Frame{ID: "frame-new"}); got.Number != 1 {
		t.Fatalf("next Number = %d; want 1", got.Number)
	}
	var current string
	if ok, _ := kvstore.GetInto(ctx, f.kv, kvstore.KeyCurrentSession, &current); ok {
		t.Fatalf("currentSession = %q; want null", current)
	}
}

func TestFrameCountFollowsDeleteAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if _, err := f.svc.ConfirmSelection(ctx); err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	f.svc.Session().Wait()
	if got := f.svc.CaptureState().FrameCount; got != 1 {
		t.Fatalf("FrameCount after first capture = %d; want 1", got)
	}

	id := f.frames.Frames()[0].ID
	if err := f.svc.DeleteFrame(id); err != nil {
		t.Fatalf("DeleteFrame() error = %v", err)
	}
	if got := f.svc.CaptureState().FrameCount; got != 0 {
		t.Fatalf("FrameCount after DeleteFrame = %d; want 0", got)
	}

	f.addFrames(t, 2)
	if _, err := f.svc.ClearAll(ctx, true); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if got := f.svc.CaptureState().FrameCount; got != 0 {
		t.Fatalf("FrameCount after ClearAll = %d; want 0", got)
	}
}

func TestClearAllAfterStopWaitsForCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.driver.gate = make(chan struct{})

	if _, err := f.svc.BeginSelection(ctx); err != nil {
		t.Fatalf("BeginSelection() error = %v", err)
	}
	if _, err := f.svc.ConfirmSelection(ctx); err != nil {
		t.Fatalf("ConfirmSelection() error = %v", err)
	}
	if _, err := f.svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ClearAll(ctx, true)
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("ClearAll() returned %v before the capture finished", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(f.driver.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ClearAll() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ClearAll() did not return")
	}
	if got := f.frames.Len(); got != 0 {
		t.Fatalf("frames after ClearAll = %d; want 0", got)
	}
	if got := f.svc.CaptureState().FrameCount; got != 0 {
		t.Fatalf("FrameCount after ClearAll = %d; want 0", got)
	}
}

func TestCopyFrameWritesComposedImage(t *testing.T) {
	f := newFixture(t)
	f.addFrames(t, 1)

	res, err := f.svc.CopyFrame(context.Background(), "frame-a")
	if err != nil {
		t.Fatalf("CopyFrame() error = %v", err)
	}
	if !res.Copied || res.DownloadURL != "" {
		t.Fatalf("CopyFrame() = %+v; want copied", res)
	}
	if len(f.driver.images) != 1 {
		t.Fatalf("clipboard images = %d; want 1", len(f.driver.images))
	}
	if n := f.notices.last(); n.Level != types.NoticeInfo || !strings.Contains(n.Message, "Frame 1") {
		t.Fatalf("notice = %+v", n)
	}
}

func TestCopyFallsBackToDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFrames(t, 2)
	f.driver.clipboardErr = types.NewError(types.CodeClipboardFailed, "Document is not focused.", nil)

	single, err := f.svc.CopyFrame(ctx, "frame-b")
	if err != nil {
		t.Fatalf("CopyFrame() error = %v", err)
	}
	if single.Copied || single.ExportID == "" {
		t.Fatalf("CopyFrame() = %+v; want fallback export", single)
	}
	meta, err := f.exports.Get(single.ExportID)
	if err != nil {
		t.Fatalf("exports.Get() error = %v", err)
	}
	if meta.Format != export.FormatPNG || meta.FrameID != "frame-b" {
		t.Fatalf("fallback meta = %+v", meta)
	}

	all, err := f.svc.CopyAllFrames(ctx)
	if err != nil {
		t.Fatalf("CopyAllFrames() error = %v", err)
	}
	if all.DownloadURL != "/api/v1/exports/"+all.ExportID+"/file" || all.Frames != 2 {
		t.Fatalf("CopyAllFrames() = %+v", all)
	}
	data, meta, err := f.svc.ReadExport(all.ExportID)
	if err != nil {
		t.Fatalf("ReadExport() error = %v", err)
	}
	if meta.Format != export.FormatHTML || !strings.Contains(string(data), "data:image/png;base64,") {
		t.Fatalf("fallback document = %s (%+v)", meta.Format, meta)
	}
	if n := f.notices.last(); n.Level != types.NoticeWarn {
		t.Fatalf("notice level = %q; want %q", n.Level, types.NoticeWarn)
	}
}

func TestCopyAllWritesHTMLAndText(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CopyAllFrames(context.Background()); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("CopyAllFrames(empty) error = %v; want %s", err, types.CodeValidation)
	}
	f.addFrames(t, 2)
	res, err := f.svc.CopyAllFrames(context.Background())
	if err != nil || !res.Copied {
		t.Fatalf("CopyAllFrames() = %+v, %v", res, err)
	}
	if !strings.HasPrefix(f.driver.texts[0], "ScreenGrabber - 2 frames captured") {
		t.Fatalf("text payload = %q", f.driver.texts[0])
	}
}

func TestExportFormats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Export(ctx, "png", ""); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("Export(empty) error = %v; want %s", err, types.CodeValidation)
	}
	f.addFrames(t, 2)

	all, err := f.svc.Export(ctx, "png", "")
	if err != nil {
		t.Fatalf("Export(png) error = %v", err)
	}
	if all.Kind != export.KindAll || all.Width == 0 || all.Height == 0 {
		t.Fatalf("Export(png) = %+v", all)
	}
	md, err := f.svc.Export(ctx, "markdown", "frame-a")
	if err != nil {
		t.Fatalf("Export(markdown) error = %v", err)
	}
	if md.Format != export.FormatMarkdown || md.Kind != export.KindFrame {
		t.Fatalf("Export(markdown) = %+v", md)
	}
	doc, err := f.svc.Export(ctx, "pdf", "")
	if err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if doc.Format != export.FormatPDF || doc.Frames != 2 {
		t.Fatalf("Export(pdf) = %+v", doc)
	}
	if _, err := f.svc.Export(ctx, "tiff", ""); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("Export(tiff) error = %v; want %s", err, types.CodeValidation)
	}

	list, err := f.svc.ListExports()
	if err != nil || len(list) != 3 {
		t.Fatalf("ListExports() = %d, %v; want 3", len(list), err)
	}
	if err := f.svc.DeleteExport(md.ID); err != nil {
		t.Fatalf("DeleteExport() error = %v", err)
	}
}

func TestQuotaAndStorageStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.quota.RecordCapture(ctx); err != nil {
		t.Fatalf("RecordCapture() error = %v", err)
	}

	st, err := f.svc.QuotaStatus(ctx)
	if err != nil {
		t.Fatalf("QuotaStatus() error = %v", err)
	}
	if st.Plan != "free" || st.DailyCount != 1 || st.Remaining != quota.FreeLimit-1 {
		t.Fatalf("QuotaStatus() = %+v", st)
	}
	if err := f.kv.Set(ctx, map[string]any{kvstore.KeyIsPro: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if st, _ := f.svc.QuotaStatus(ctx); st.Plan != "paid" || st.Remaining != -1 {
		t.Fatalf("QuotaStatus(paid) = %+v", st)
	}
	if got := f.svc.StorageStatus(); !got.Saved {
		t.Fatalf("StorageStatus() = %+v; want saved without a mirror", got)
	}
	if _, err := f.svc.ActivateLicense(ctx, "  "); types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("ActivateLicense(blank) error = %v; want %s", err, types.CodeValidation)
	}
}

func TestWatchQuotaFollowsStoreChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := make(chan QuotaStatus, 8)
	stop := f.svc.WatchQuota(func(st QuotaStatus) { got <- st })
	defer stop()

	next := func(what string) QuotaStatus {
		t.Helper()
		select {
		case st := <-got:
			return st
		case <-time.After(2 * time.Second):
			t.Fatalf("no quota update after %s", what)
		}
		return QuotaStatus{}
	}

	if _, err := f.svc.quota.RecordCapture(ctx); err != nil {
		t.Fatalf("RecordCapture() error = %v", err)
	}
	if st := next("capture"); st.Plan != "free" || st.DailyCount != 1 || st.Remaining != quota.FreeLimit-1 {
		t.Fatalf("update after capture = %+v", st)
	}

	if err := f.kv.Set(ctx, map[string]any{kvstore.KeyIsPro: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if st := next("plan change"); st.Plan != "paid" || st.Remaining != -1 {
		t.Fatalf("update after plan change = %+v", st)
	}

	if err := persist.SetCurrentSession(ctx, f.kv, "session-2"); err != nil {
		t.Fatalf("SetCurrentSession() error = %v", err)
	}
	select {
	case st := <-got:
		t.Fatalf("unrelated key produced an update: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}

	stop()
	if err := f.kv.Set(ctx, map[string]any{kvstore.KeyIsPro: false}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	select {
	case st := <-got:
		t.Fatalf("update after stop: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}
