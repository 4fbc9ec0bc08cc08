// Package cdpcontrol drives one browser tab over a raw CDP websocket. It is
// the capture session's Page, Overlay and clipboard: page scripts come from
// pagejs, screenshots from Page.captureScreenshot and scroll events from a
// Runtime binding.
package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/pagejs"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

const bindingBufSize = 256

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"no session with given id",
}

var clipboardPermissions = []string{"clipboardReadWrite", "clipboardSanitizedWrite"}

type pageSession struct {
	info      PageTarget
	sessionID string // CDP session ID from Target.attachToTarget
}

type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu     sync.Mutex
	cdp    *rawCDP
	page   *pageSession
	unbind func()

	// boundSession is the flat session whose binding calls are delivered.
	// The read loop checks it without taking mu.
	boundSession atomic.Value

	// evalMu serializes page round trips so scripts run in call order.
	evalMu sync.Mutex

	listenMu     sync.Mutex
	listeners    map[scrollmon.ContainerHandle]func(scrollmon.Event)
	listenTarget string

	bindings  chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient returns an unconnected client. tabFilter selects the first page
// whose URL contains it; empty means the first page.
func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 10 * time.Second
	}
	c := &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		listeners:   make(map[scrollmon.ContainerHandle]func(scrollmon.Event)),
		bindings:    make(chan string, bindingBufSize),
		done:        make(chan struct{}),
	}
	go c.deliverLoop()
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx, "")
}

func (c *Client) connectLocked(ctx context.Context, targetID string) error {
	if c.cdpURL == "" {
		return newError(types.CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(types.CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.unbind = c.cdp.on("Runtime.bindingCalled", c.handleBinding)

	if err := c.attachLocked(ctx, targetID); err != nil {
		slog.Error("cdpcontrol initial attach failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "target_id", c.page.info.TargetID, "url", c.page.info.URL)
	return nil
}

// attachLocked attaches a flat session to the chosen page and installs the
// scroll binding.
func (c *Client) attachLocked(ctx context.Context, targetID string) error {
	if c.cdp == nil {
		return newError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(types.CodeCDPUnavailable, "failed to list targets", err)
	}
	info, ok := selectTarget(pageTargets(targets, c.tabFilter), targetID)
	if !ok {
		if targetID != "" {
			return newError(types.CodeNotFound, "page not found: "+targetID, nil)
		}
		return newError(types.CodeCDPUnavailable, fmt.Sprintf("no page tab matches filter %q", c.tabFilter), nil)
	}

	if c.page != nil && c.page.sessionID != "" {
		c.detachLocked(c.page)
		c.page = nil
	}

	sid, err := c.cdp.attachToTarget(ctx, info.TargetID)
	if err != nil {
		return newError(types.CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := c.cdp.enableRuntime(ctx, sid); err != nil {
		return newError(types.CodeCDPUnavailable, "enable runtime failed", err)
	}
	if err := c.cdp.addBinding(ctx, sid, pagejs.ScrollBinding); err != nil {
		return newError(types.CodeCDPUnavailable, "install scroll binding failed", err)
	}
	if o := origin(info.URL); o != "" {
		if err := c.cdp.grantPermissions(ctx, o, clipboardPermissions); err != nil {
			slog.Warn("cdpcontrol clipboard permission grant failed", "origin", o, "error", err)
		}
	}

	info.Attached = true
	c.page = &pageSession{info: info, sessionID: sid}
	c.boundSession.Store(sid)
	// Page listeners survive a reconnect to the same tab.
	c.listenMu.Lock()
	if c.listenTarget != info.TargetID {
		c.listeners = make(map[scrollmon.ContainerHandle]func(scrollmon.Event))
		c.listenTarget = info.TargetID
	}
	c.listenMu.Unlock()
	slog.Debug("cdpcontrol session attached", "target_id", info.TargetID, "session_id", sid)
	return nil
}

func (c *Client) detachLocked(p *pageSession) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.cdp.detachFromTarget(ctx, p.sessionID); err != nil {
		slog.Debug("cdpcontrol detach cleanup failed", "target_id", p.info.TargetID, "error", err)
	}
	p.sessionID = ""
}

// Close detaches from the page and stops binding delivery.
func (c *Client) Close() error {
	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) cleanupLocked() {
	if c.unbind != nil {
		c.unbind()
		c.unbind = nil
	}
	if c.cdp != nil {
		if c.page != nil && c.page.sessionID != "" {
			c.detachLocked(c.page)
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.page = nil
	c.boundSession.Store("")
}

// ListPages returns the page tabs matching the URL filter.
func (c *Client) ListPages(ctx context.Context) ([]PageTarget, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cdp, page := c.cdp, c.page
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := cdp.listTargets(ctx)
	if err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, newError(types.CodeCDPUnavailable, "failed to list targets", err)
	}
	pages := pageTargets(targets, c.tabFilter)
	for i := range pages {
		if page != nil && pages[i].TargetID == page.info.TargetID {
			pages[i].Attached = true
		}
	}
	slog.Debug("cdpcontrol list pages", "count", len(pages))
	return pages, nil
}

// Attach switches the driver to another page tab. Scroll listeners of the
// previous page are dropped.
func (c *Client) Attach(ctx context.Context, targetID string) (PageTarget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		if err := c.connectLocked(ctx, targetID); err != nil {
			return PageTarget{}, err
		}
		return c.page.info, nil
	}
	if err := c.attachLocked(ctx, targetID); err != nil {
		return PageTarget{}, err
	}
	return c.page.info, nil
}

// Current returns the attached page.
func (c *Client) Current() (PageTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return PageTarget{}, false
	}
	return c.page.info, true
}

// PageInfo reads URL, title, viewport and scroll offsets.
func (c *Client) PageInfo(ctx context.Context) (types.PageInfo, error) {
	var out types.PageInfo
	if err := c.eval(ctx, pagejs.PageInfo(), &out); err != nil {
		return types.PageInfo{}, err
	}
	if out.DevicePixelRatio <= 0 {
		out.DevicePixelRatio = 1
	}
	return out, nil
}

// DocumentTree returns the scroll geometry of the page.
func (c *Client) DocumentTree(ctx context.Context) (*scrollmon.Node, error) {
	raw, err := c.evalRaw(ctx, pagejs.DocumentTree())
	if err != nil {
		return nil, err
	}
	return pagejs.DecodeTree(raw)
}

// Listen attaches a page scroll listener for h. Events reach fn in order on
// the client's delivery goroutine.
func (c *Client) Listen(ctx context.Context, h scrollmon.ContainerHandle, fn func(scrollmon.Event)) (func(), error) {
	c.listenMu.Lock()
	c.listeners[h] = fn
	c.listenMu.Unlock()

	if err := c.eval(ctx, pagejs.Listen(h, pagejs.ScrollBinding), nil); err != nil {
		c.listenMu.Lock()
		delete(c.listeners, h)
		c.listenMu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenMu.Lock()
			delete(c.listeners, h)
			c.listenMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.eval(ctx, pagejs.Unlisten(h), nil); err != nil {
				slog.Debug("cdpcontrol unlisten failed", "container", h, "error", err)
			}
		})
	}, nil
}

// CaptureViewport screenshots the visible viewport as PNG.
func (c *Client) CaptureViewport(ctx context.Context) ([]byte, error) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	cdp, sid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	capCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()
	png, err := cdp.screenshotPNG(capCtx, sid)
	if err != nil {
		return nil, newError(types.CodeCaptureFailed, "screenshot failed", err)
	}
	return png, nil
}

// ShowSelection draws the selection rectangle.
func (c *Client) ShowSelection(ctx context.Context, r types.Region) error {
	return c.eval(ctx, pagejs.ShowSelection(r), nil)
}

// ShowActiveRegion outlines the capture region.
func (c *Client) ShowActiveRegion(ctx context.Context, r types.Region) error {
	return c.eval(ctx, pagejs.ShowActiveRegion(r), nil)
}

// Flash shows capture feedback.
func (c *Client) Flash(ctx context.Context) error {
	return c.eval(ctx, pagejs.Flash(), nil)
}

// Clear removes the overlay.
func (c *Client) Clear(ctx context.Context) error {
	return c.eval(ctx, pagejs.ClearOverlay(), nil)
}

// WriteImage puts a PNG on the clipboard.
func (c *Client) WriteImage(ctx context.Context, png []byte) error {
	c.focus(ctx)
	return clipboardErr(c.eval(ctx, pagejs.WriteImage(base64.StdEncoding.EncodeToString(png)), nil))
}

// WriteHTMLAndText puts rich and plain text on the clipboard.
func (c *Client) WriteHTMLAndText(ctx context.Context, html, text string) error {
	c.focus(ctx)
	return clipboardErr(c.eval(ctx, pagejs.WriteHTMLAndText(html, text), nil))
}

func (c *Client) focus(ctx context.Context) {
	cdp, sid, err := c.session(ctx)
	if err != nil {
		return
	}
	if err := cdp.bringToFront(ctx, sid); err != nil {
		slog.Debug("cdpcontrol bring to front failed", "error", err)
	}
}

func clipboardErr(err error) error {
	if err == nil || types.CodeOf(err) == types.CodeClipboardFailed {
		return err
	}
	return newError(types.CodeClipboardFailed, "clipboard write failed", err)
}

// handleBinding is called from rawCDP's readLoop and must never block.
func (c *Client) handleBinding(sessionID string, params json.RawMessage) {
	if bound, _ := c.boundSession.Load().(string); bound == "" || bound != sessionID {
		return
	}
	var evt struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(params, &evt); err != nil || evt.Name != pagejs.ScrollBinding {
		return
	}
	select {
	case c.bindings <- evt.Payload:
	default:
		slog.Debug("cdpcontrol scroll event dropped", "reason", "delivery queue full")
	}
}

// deliverLoop hands binding payloads to listeners in arrival order.
func (c *Client) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.bindings:
			evt, err := pagejs.ParseScrollEvent(payload)
			if err != nil {
				slog.Debug("cdpcontrol bad scroll payload", "error", err)
				continue
			}
			c.listenMu.Lock()
			fn := c.listeners[evt.Listener]
			c.listenMu.Unlock()
			if fn != nil {
				fn(evt.Event)
			}
		}
	}
}

func (c *Client) eval(ctx context.Context, js string, out any) error {
	raw, err := c.evalRaw(ctx, js)
	if err != nil {
		return err
	}
	return pagejs.Decode(raw, out)
}

// evalRaw evaluates js on the attached page, reconnecting once after a
// transient failure.
func (c *Client) evalRaw(ctx context.Context, js string) (string, error) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	raw, err := c.evalOnPage(ctx, js)
	if err == nil {
		return raw, nil
	}
	if !c.shouldRetry(err) {
		return "", err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	c.mu.Lock()
	targetID := ""
	if c.page != nil {
		targetID = c.page.info.TargetID
	}
	recErr := c.connectLocked(ctx, targetID)
	c.mu.Unlock()
	if recErr != nil {
		slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
		return "", recErr
	}
	return c.evalOnPage(ctx, js)
}

func (c *Client) evalOnPage(ctx context.Context, js string) (string, error) {
	cdp, sid, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sid, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "session_id", sid, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return "", newError(types.CodeEvalTimeout, "evaluation timed out", err)
		}
		return "", newError(types.CodeEvalFailure, "evaluation failed", err)
	}
	return raw, nil
}

// session returns the connection and flat session id, connecting first if
// needed.
func (c *Client) session(ctx context.Context) (*rawCDP, string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil || c.page == nil || c.page.sessionID == "" {
		return nil, "", newError(types.CodeCDPUnavailable, "no page attached", nil)
	}
	return c.cdp, c.page.sessionID, nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp != nil && c.page != nil {
		return nil
	}
	return c.connectLocked(ctx, "")
}

func (c *Client) shouldRetry(err error) bool {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case types.CodeCDPUnavailable:
		return coded.Cause != nil
	case types.CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}
