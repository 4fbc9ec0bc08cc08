package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP speaks the DevTools protocol over one browser websocket. Pages are
// reached through flat sessions, so screenshot, evaluate and binding traffic
// for the attached tab share the connection. Target discovery stays off:
// auto-attaching service workers upsets some browser builds.
type rawCDP struct {
	httpBase string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan inbound

	eventMu  sync.RWMutex
	handlers map[string][]eventHandler
}

// inbound is any message read from the browser: a reply carries ID, an
// event carries Method.
type inbound struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type outbound struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan inbound),
		handlers: make(map[string][]eventHandler),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", &version); err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return fmt.Errorf("rawcdp: browser ws url: empty webSocketDebuggerUrl")
	}

	slog.Debug("rawcdp connecting", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	r.pendingMu.Lock()
	r.pending = make(map[int64]chan inbound)
	r.pendingMu.Unlock()
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// readLoop routes replies to their callers and events to handlers until the
// connection drops. Callers still waiting then see "connection closed".
func (r *rawCDP) readLoop(conn net.Conn) {
	defer func() {
		r.mu.Lock()
		replaced := r.conn != nil && r.conn != conn
		r.mu.Unlock()
		if !replaced {
			r.failPending()
		}
	}()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var msg inbound
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			if ch := r.takePending(msg.ID); ch != nil {
				ch <- msg
			}
		case msg.Method != "":
			r.dispatch(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) takePending(id int64) chan inbound {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	ch, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return ch
}

func (r *rawCDP) failPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

// call sends method, on the page session when sessionID is set, and decodes
// the reply's result into out (which may be nil). Protocol errors come back
// as "rawcdp: <method>: <message>".
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rawcdp: not connected")
	}

	id := r.seq.Add(1)
	data, err := json.Marshal(outbound{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan inbound, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.takePending(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var reply inbound
	select {
	case msg, ok := <-ch:
		if !ok {
			return fmt.Errorf("rawcdp: %s: connection closed", method)
		}
		reply = msg
	case <-ctx.Done():
		r.takePending(id)
		return ctx.Err()
	}

	if reply.Error != nil {
		return fmt.Errorf("rawcdp: %s: %s", method, reply.Error.Message)
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

// on registers fn for a protocol event such as Runtime.bindingCalled and
// returns its unregister func. fn runs on the read loop and must not block.
func (r *rawCDP) on(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.handlers[method] = append(r.handlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		hs := r.handlers[method]
		for i, h := range hs {
			if h.id == id {
				r.handlers[method] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (r *rawCDP) dispatch(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	hs := append([]eventHandler(nil), r.handlers[method]...)
	r.eventMu.RUnlock()
	for _, h := range hs {
		h.fn(sessionID, params)
	}
}

// attachToTarget opens a flat session on the tab and returns its id.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	params := map[string]any{"targetId": targetID, "flatten": true}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", fmt.Errorf("rawcdp: Target.attachToTarget: no session id")
	}
	return res.SessionID, nil
}

// detachFromTarget closes the session and leaves the tab open.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	return r.call(ctx, "", "Target.detachFromTarget", map[string]string{"sessionId": sessionID}, nil)
}

// evaluate runs a page script and returns its string result. Scripts return
// JSON.stringify output, so the value arrives as a JSON string.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	params := map[string]any{"expression": js, "returnByValue": true, "awaitPromise": true}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &res); err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", res.ExceptionDetails.Text)
	}
	var s string
	if err := json.Unmarshal(res.Result.Value, &s); err != nil {
		return string(res.Result.Value), nil
	}
	return s, nil
}

// screenshotPNG captures the visible viewport at device resolution.
func (r *rawCDP) screenshotPNG(ctx context.Context, sessionID string) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	params := map[string]any{"format": "png", "fromSurface": true}
	if err := r.call(ctx, sessionID, "Page.captureScreenshot", params, &res); err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: decode screenshot: %w", err)
	}
	return png, nil
}

// enableRuntime turns on Runtime events so binding calls are reported.
func (r *rawCDP) enableRuntime(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Runtime.enable", nil, nil)
}

// addBinding exposes window[name] in every frame of the session. Scroll
// listeners call it; calls arrive as Runtime.bindingCalled and the binding
// survives navigation.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name string) error {
	return r.call(ctx, sessionID, "Runtime.addBinding", map[string]string{"name": name}, nil)
}

// grantPermissions grants origin the clipboard permissions the copy
// commands need. It is a browser-level command.
func (r *rawCDP) grantPermissions(ctx context.Context, origin string, permissions []string) error {
	params := map[string]any{"permissions": permissions}
	if origin != "" {
		params["origin"] = origin
	}
	return r.call(ctx, "", "Browser.grantPermissions", params, nil)
}

// bringToFront focuses the tab; clipboard writes fail on a background tab.
func (r *rawCDP) bringToFront(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Page.bringToFront", nil, nil)
}

// listTargets reads /json/list. Filtering to capturable pages is left to
// the caller.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// getJSON fetches one of the DevTools HTTP endpoints.
func (r *rawCDP) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", path, err)
	}
	return nil
}
