// Package cdp is the chromedp page driver. It offers the same surface as
// cdpcontrol for browsers that tolerate chromedp's full target
// initialisation, and is selected with SCROLLFRAME_DRIVER=chromedp.
package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/scrollframe/internal/pagejs"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

const bindingBufSize = 256

// Client manages a chromedp connection to one browser tab.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tab         *TabContext

	listenMu  sync.Mutex
	listeners map[scrollmon.ContainerHandle]func(scrollmon.Event)

	bindings  chan string
	done      chan struct{}
	closeOnce sync.Once
}

type TabContext struct {
	ID     target.ID
	Title  string
	ctx    context.Context
	cancel context.CancelFunc

	// urlMu is separate from Client.mu: event handlers run while commands
	// holding Client.mu wait on the same target.
	urlMu sync.Mutex
	url   string
}

func (t *TabContext) URL() string {
	t.urlMu.Lock()
	defer t.urlMu.Unlock()
	return t.url
}

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

func (c *Client) connectLocked(ctx context.Context, targetID target.ID) error {
	slog.Info("Connecting to Chromium", "url", c.cdpURL)
	c.cleanupLocked()

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)

	targets, err := c.targets(ctx)
	if err != nil {
		c.cleanupLocked()
		return types.NewError(types.CodeCDPUnavailable, "failed to connect to browser", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" || !c.matchesTabURL(t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		if targetID != "" && t.TargetID != targetID {
			continue
		}
		if err := c.attachToTab(ctx, t); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		return nil
	}

	c.cleanupLocked()
	if targetID != "" {
		return types.NewError(types.CodeNotFound, "page not found: "+string(targetID), nil)
	}
	return types.NewError(types.CodeCDPUnavailable, fmt.Sprintf("no tabs found matching SCROLLFRAME_TAB_URL_FILTER=%q", c.tabFilter), nil)
}

func (c *Client) targets(ctx context.Context) ([]*target.Info, error) {
	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()
	stop := context.AfterFunc(ctx, tempCancel)
	defer stop()
	if err := chromedp.Run(tempCtx); err != nil {
		return nil, err
	}
	listCtx, cancel := context.WithTimeout(tempCtx, 10*time.Second)
	defer cancel()
	return chromedp.Targets(listCtx)
}

func (c *Client) attachToTab(ctx context.Context, t *target.Info) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(t.TargetID))
	tab := &TabContext{ID: t.TargetID, Title: t.Title, url: t.URL, ctx: tabCtx, cancel: tabCancel}

	chromedp.ListenTarget(tabCtx, c.createEventHandler(tab))
	if err := chromedp.Run(tabCtx, runtime.Enable(), runtime.AddBinding(pagejs.ScrollBinding)); err != nil {
		tabCancel()
		return fmt.Errorf("failed to install scroll binding: %w", err)
	}

	if o := originOf(t.URL); o != "" {
		grant := browser.GrantPermissions([]browser.PermissionType{
			browser.PermissionTypeClipboardReadWrite,
			browser.PermissionTypeClipboardSanitizedWrite,
		}).WithOrigin(o)
		if err := chromedp.Run(tabCtx, grant); err != nil {
			slog.Warn("Clipboard permission grant failed", "origin", o, "error", err)
		}
	}

	c.tab = tab
	c.listenMu.Lock()
	c.listeners = make(map[scrollmon.ContainerHandle]func(scrollmon.Event))
	c.listenMu.Unlock()
	slog.Info("Attached to tab", "target_id", t.TargetID, "url", truncateURL(t.URL))
	return nil
}

func (c *Client) createEventHandler(tab *TabContext) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name != pagejs.ScrollBinding {
				return
			}
			select {
			case c.bindings <- e.Payload:
			default:
				slog.Debug("Scroll event dropped", "target_id", tab.ID)
			}
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				tab.urlMu.Lock()
				tab.url = e.Frame.URL
				tab.urlMu.Unlock()
				slog.Info("Tab navigated (full)", "target_id", tab.ID, "url", truncateURL(e.Frame.URL))
			}
		}
	}
}

func (c *Client) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.bindings:
			evt, err := pagejs.ParseScrollEvent(payload)
			if err != nil {
				slog.Debug("Bad scroll payload", "error", err)
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

func (c *Client) Close() error {
	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	slog.Info("CDP client closed")
	return nil
}

func (c *Client) cleanupLocked() {
	if c.tab != nil {
		c.tab.cancel()
		c.tab = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
}

// ListPages returns the page tabs matching the URL filter.
func (c *Client) ListPages(ctx context.Context) ([]types.PageTarget, error) {
	c.mu.Lock()
	allocated := c.allocCtx != nil && c.allocCancel != nil
	current := c.currentLocked()
	c.mu.Unlock()
	if !allocated {
		return nil, types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.targets(ctx)
	if err != nil {
		return nil, types.NewError(types.CodeCDPUnavailable, "failed to list targets", err)
	}
	var out []types.PageTarget
	for _, t := range targets {
		if t.Type != "page" || !c.matchesTabURL(t.URL) {
			continue
		}
		out = append(out, types.PageTarget{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
			Attached: current.TargetID == string(t.TargetID),
		})
	}
	return out, nil
}

// Attach switches to another tab.
func (c *Client) Attach(ctx context.Context, targetID string) (types.PageTarget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx, target.ID(targetID)); err != nil {
		return types.PageTarget{}, err
	}
	return c.currentLocked(), nil
}

// Current returns the attached tab.
func (c *Client) Current() (types.PageTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return types.PageTarget{}, false
	}
	return c.currentLocked(), true
}

func (c *Client) currentLocked() types.PageTarget {
	if c.tab == nil {
		return types.PageTarget{}
	}
	return types.PageTarget{TargetID: string(c.tab.ID), URL: c.tab.URL(), Title: c.tab.Title, Attached: true}
}

func (c *Client) tabCtx() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return nil, types.NewError(types.CodeCDPUnavailable, "no page attached", nil)
	}
	return c.tab.ctx, nil
}

// run executes actions on the tab, bounded by ctx and the eval timeout.
func (c *Client) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := c.tabCtx()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(tabCtx, c.evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (c *Client) eval(ctx context.Context, js string, out any) error {
	raw, err := c.evalRaw(ctx, js)
	if err != nil {
		return err
	}
	return pagejs.Decode(raw, out)
}

func (c *Client) evalRaw(ctx context.Context, js string) (string, error) {
	var raw string
	err := c.run(ctx, chromedp.Evaluate(js, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		if types.CodeOf(err) != "" {
			return "", err
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return "", types.NewError(types.CodeEvalTimeout, "evaluation timed out", err)
		}
		return "", types.NewError(types.CodeEvalFailure, "evaluation failed", err)
	}
	return raw, nil
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

// Listen attaches a page scroll listener for h.
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
				slog.Debug("Unlisten failed", "container", h, "error", err)
			}
		})
	}, nil
}

// CaptureViewport screenshots the visible viewport as PNG.
func (c *Client) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		if types.CodeOf(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.CodeCaptureFailed, "screenshot failed", err)
	}
	return buf, nil
}

func (c *Client) ShowSelection(ctx context.Context, r types.Region) error {
	return c.eval(ctx, pagejs.ShowSelection(r), nil)
}

func (c *Client) ShowActiveRegion(ctx context.Context, r types.Region) error {
	return c.eval(ctx, pagejs.ShowActiveRegion(r), nil)
}

func (c *Client) Flash(ctx context.Context) error {
	return c.eval(ctx, pagejs.Flash(), nil)
}

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
	if err := c.run(ctx, page.BringToFront()); err != nil {
		slog.Debug("Bring to front failed", "error", err)
	}
}

func clipboardErr(err error) error {
	if err == nil || types.CodeOf(err) == types.CodeClipboardFailed {
		return err
	}
	return types.NewError(types.CodeClipboardFailed, "clipboard write failed", err)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), c.tabFilter)
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
