package scrollmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// DefaultThreshold is the scroll distance between two captures.
const DefaultThreshold = 300

// Scope selects how the last recorded position is shared.
type Scope string

const (
	// ScopeSession shares one last position across every container. Rapid
	// alternating scrolls in two containers can trigger twice.
	ScopeSession Scope = "session"
	// ScopeContainer keeps an independent last position per container.
	ScopeContainer Scope = "container"
)

// ParseScope maps a config string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeSession:
		return ScopeSession, nil
	case ScopeContainer:
		return ScopeContainer, nil
	}
	return "", fmt.Errorf("scrollmon: unknown threshold scope %q", s)
}

// Event is one scroll notification from the page.
type Event struct {
	Container ContainerHandle `json:"container"`
	ScrollTop float64         `json:"scrollTop"`
}

// Trigger is emitted when the scroll distance reaches the threshold.
type Trigger struct {
	Container ContainerHandle
	Position  float64
	Delta     float64
}

// Source is the page side of the monitor.
type Source interface {
	// DocumentTree returns the current scroll geometry of the page.
	DocumentTree(ctx context.Context) (*Node, error)
	// Listen attaches one scroll listener to the container. Events for a
	// container are delivered in order. The returned func detaches it.
	Listen(ctx context.Context, h ContainerHandle, fn func(Event)) (func(), error)
}

// ErrRunning is returned by Start on a monitor that is already started.
var ErrRunning = errors.New("scrollmon: monitor already running")

// Option customises a Monitor.
type Option func(*Monitor)

// WithThreshold sets the trigger distance.
func WithThreshold(px float64) Option {
	return func(m *Monitor) {
		if px > 0 {
			m.threshold = px
		}
	}
}

// WithScope sets the accumulator scope.
func WithScope(s Scope) Option { return func(m *Monitor) { m.scope = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// Monitor owns the listener set for one capture session. Start and Stop are
// inverse operations: after Stop, ListenerCount is zero.
type Monitor struct {
	src       Source
	onTrigger func(Trigger)
	threshold float64
	scope     Scope
	logger    *slog.Logger

	mu        sync.Mutex
	running   bool
	paused    bool
	listeners map[ContainerHandle]func()
	last      float64
	positions map[ContainerHandle]float64
}

// New creates a Monitor. onTrigger is called synchronously from the event
// delivery goroutine and must not block.
func New(src Source, onTrigger func(Trigger), opts ...Option) *Monitor {
	m := &Monitor{
		src:       src,
		onTrigger: onTrigger,
		threshold: DefaultThreshold,
		scope:     ScopeSession,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start discovers containers and attaches one listener per container. The
// window listener is mandatory; element listeners that fail to attach are
// logged and skipped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	m.running = true
	m.paused = false
	m.last = 0
	m.positions = make(map[ContainerHandle]float64)
	m.listeners = make(map[ContainerHandle]func())
	m.mu.Unlock()

	tree, err := m.src.DocumentTree(ctx)
	if err != nil {
		m.logger.Warn("scrollmon document scan failed, window only", "error", err)
		tree = nil
	}
	handles := FindScrollableContainers(tree)

	for _, h := range handles {
		h := h
		cancel, err := m.src.Listen(ctx, h, func(e Event) {
			if e.Container == "" {
				e.Container = h
			}
			m.handle(e)
		})
		if err != nil {
			if h == Window {
				m.Stop()
				return fmt.Errorf("scrollmon: listen window: %w", err)
			}
			m.logger.Warn("scrollmon listen failed", "container", h, "error", err)
			continue
		}
		m.mu.Lock()
		if !m.running {
			// Stop raced with Start.
			m.mu.Unlock()
			cancel()
			return nil
		}
		m.listeners[h] = cancel
		m.mu.Unlock()
	}

	m.logger.Info("scrollmon started", "containers", m.ListenerCount(), "threshold", m.threshold, "scope", m.scope)
	return nil
}

// Stop detaches every listener. Calling it again is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancels := make([]func(), 0, len(m.listeners))
	for _, c := range m.listeners {
		cancels = append(cancels, c)
	}
	m.listeners = map[ContainerHandle]func(){}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.logger.Info("scrollmon stopped", "detached", len(cancels))
}

// SetPaused toggles event handling. Paused events neither trigger nor move
// the last recorded position.
func (m *Monitor) SetPaused(p bool) {
	m.mu.Lock()
	m.paused = p
	m.mu.Unlock()
}

// ListenerCount returns the number of attached listeners.
func (m *Monitor) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastPosition returns the last recorded position for the session scope, or
// for container c in container scope.
func (m *Monitor) LastPosition(c ContainerHandle) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scope == ScopeContainer {
		return m.positions[c]
	}
	return m.last
}

// Handle feeds one event through the threshold rule. Drivers normally reach
// it through the Listen callback.
func (m *Monitor) Handle(e Event) {
	m.handle(e)
}

func (m *Monitor) handle(e Event) {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	var last float64
	if m.scope == ScopeContainer {
		last = m.positions[e.Container]
	} else {
		last = m.last
	}
	delta := math.Abs(e.ScrollTop - last)
	if delta < m.threshold {
		m.mu.Unlock()
		return
	}
	m.last = e.ScrollTop
	m.positions[e.Container] = e.ScrollTop
	m.mu.Unlock()

	m.logger.Debug("scrollmon trigger", "container", e.Container, "position", e.ScrollTop, "delta", delta)
	if m.onTrigger != nil {
		m.onTrigger(Trigger{Container: e.Container, Position: e.ScrollTop, Delta: delta})
	}
}
