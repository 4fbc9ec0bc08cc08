// Package notify posts plain-text notifications to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Notifier forwards session milestones to an ntfy endpoint. It satisfies
// session.Observer and never blocks the caller: messages go through a small
// queue drained by one goroutine, and overflow is dropped.
type Notifier struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastState string
}

// NewNotifier starts a Notifier. A nil client uses http.DefaultClient.
func NewNotifier(client *http.Client, endpoint string) *Notifier {
	n := &Notifier{
		client:   client,
		endpoint: endpoint,
		timeout:  10 * time.Second,
		queue:    make(chan string, 8),
		done:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// CaptureStateChanged notifies once when a session stops with frames.
func (n *Notifier) CaptureStateChanged(st types.CaptureState) {
	n.mu.Lock()
	prev := n.lastState
	n.lastState = st.State
	n.mu.Unlock()
	if st.State != "stopped" || prev == "stopped" || st.FrameCount == 0 {
		return
	}
	n.enqueue(fmt.Sprintf("Capture stopped with %d frame(s) ready to copy.", st.FrameCount))
}

// QuotaExceeded notifies that the free daily limit was reached.
func (n *Notifier) QuotaExceeded(st quota.State) {
	msg := fmt.Sprintf("Daily free limit of %d frames reached.", quota.FreeLimit)
	if !st.ResetAt.IsZero() {
		msg += " Resets " + st.ResetAt.UTC().Format(time.RFC3339) + "."
	}
	n.enqueue(msg)
}

// Notice forwards error-level notices only.
func (n *Notifier) Notice(nt types.Notice) {
	if nt.Level == types.NoticeError {
		n.enqueue(nt.Message)
	}
}

// Close stops the sender after flushing queued messages.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.done) })
	n.wg.Wait()
}

func (n *Notifier) enqueue(msg string) {
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.queue <- msg:
	default:
		slog.Warn("notify queue full, dropping message")
	}
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.send(msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.queue:
					n.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) send(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := Send(ctx, n.client, n.endpoint, msg); err != nil {
		slog.Warn("notify send failed", "endpoint", n.endpoint, "error", err)
	}
}
