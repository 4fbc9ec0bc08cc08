// Package persist mirrors the frame collection into the key-value store in
// the background. Writes are coalesced (only the newest snapshot is written),
// retried with backoff, and their outcome is exposed as a save status.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Status reports whether the latest snapshot reached the store.
type Status struct {
	Saved       bool      `json:"saved"`
	Pending     bool      `json:"pending"`
	LastError   string    `json:"lastError,omitempty"`
	LastSavedAt time.Time `json:"lastSavedAt,omitempty"`
	Failures    int       `json:"failures"`
	Writes      int       `json:"writes"`
}

// Option customises a FramesMirror.
type Option func(*FramesMirror)

// WithRetry sets the number of retries and the initial backoff.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(m *FramesMirror) {
		m.retries = retries
		m.backoff = backoff
	}
}

// WithTimeout bounds each store write.
func WithTimeout(d time.Duration) Option { return func(m *FramesMirror) { m.timeout = d } }

// FramesMirror implements framestore.Mirror.
type FramesMirror struct {
	store   kvstore.Store
	retries int
	backoff time.Duration
	timeout time.Duration

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu     sync.Mutex
	latest []types.Frame
	seq    uint64
	dirty  bool
	status Status
	closed bool
}

// NewFramesMirror starts the background writer.
func NewFramesMirror(store kvstore.Store, opts ...Option) *FramesMirror {
	m := &FramesMirror{
		store:   store,
		retries: 3,
		backoff: 200 * time.Millisecond,
		timeout: 10 * time.Second,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		status:  Status{Saved: true},
	}
	for _, o := range opts {
		o(m)
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m
}

// Mirror queues frames for writing. It never blocks; a newer snapshot
// replaces one that has not been written yet.
func (m *FramesMirror) Mirror(frames []types.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		slog.Warn("frames mirror closed, dropping snapshot", "frames", len(frames))
		return
	}
	m.latest = frames
	m.seq++
	m.dirty = true
	m.status.Pending = true
	m.status.Saved = false
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Status returns the current save status.
func (m *FramesMirror) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Flush writes the pending snapshot, if any, before returning.
func (m *FramesMirror) Flush(ctx context.Context) error {
	return m.flush(ctx)
}

// Close stops the writer after a final flush.
func (m *FramesMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		slog.Warn("frames mirror close timeout, latest snapshot may be lost")
	}
	if st := m.Status(); st.LastError != "" && !st.Saved {
		return fmt.Errorf("persist: last write failed: %s", st.LastError)
	}
	return nil
}

func (m *FramesMirror) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.signal:
			if err := m.flush(context.Background()); err != nil {
				slog.Warn("frames mirror write failed", "error", err)
			}
		case <-m.done:
			if err := m.flush(context.Background()); err != nil {
				slog.Warn("frames mirror final write failed", "error", err)
			}
			return
		}
	}
}

func (m *FramesMirror) flush(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	frames, seq := m.latest, m.seq
	m.dirty = false
	m.mu.Unlock()

	data, err := json.Marshal(frames)
	if err != nil {
		m.record(seq, err)
		return fmt.Errorf("persist: marshal frames: %w", err)
	}

	backoff := m.backoff
	for attempt := 0; ; attempt++ {
		err = m.write(ctx, data)
		if err == nil {
			break
		}
		if attempt >= m.retries || ctx.Err() != nil {
			break
		}
		slog.Debug("frames mirror retrying", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
	m.record(seq, err)
	if err != nil {
		return fmt.Errorf("persist: write frames: %w", err)
	}
	slog.Debug("frames mirrored", "frames", len(frames), "bytes", len(data))
	return nil
}

func (m *FramesMirror) write(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.Set(wctx, map[string]any{kvstore.KeyFrames: json.RawMessage(data)})
}

// record updates the status after writing snapshot seq. A failed snapshot
// that has not been superseded stays dirty so the next Flush retries it.
func (m *FramesMirror) record(seq uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil && m.seq == seq {
		m.dirty = true
	}
	m.status.Pending = m.dirty
	if err != nil {
		m.status.Saved = false
		m.status.LastError = err.Error()
		m.status.Failures++
		return
	}
	m.status.Writes++
	m.status.LastError = ""
	m.status.LastSavedAt = time.Now()
	m.status.Saved = !m.dirty
}

// LoadFrames reads the persisted frame list.
func LoadFrames(ctx context.Context, store kvstore.Store) ([]types.Frame, error) {
	var frames []types.Frame
	if _, err := kvstore.GetInto(ctx, store, kvstore.KeyFrames, &frames); err != nil {
		return nil, fmt.Errorf("persist: load frames: %w", err)
	}
	return frames, nil
}

// SetCurrentSession writes the currentSession key; an empty id stores null.
func SetCurrentSession(ctx context.Context, store kvstore.Store, id string) error {
	var v any
	if id != "" {
		v = id
	}
	if err := store.Set(ctx, map[string]any{kvstore.KeyCurrentSession: v}); err != nil {
		return fmt.Errorf("persist: set current session: %w", err)
	}
	return nil
}
