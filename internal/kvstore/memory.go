package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store, used by tests and by the offline CLI when
// no database is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
	subs subscribers
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, entries map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	var changes []Change
	m.mu.Lock()
	for k, v := range enc {
		old := m.data[k]
		if bytes.Equal(old, v) {
			continue
		}
		m.data[k] = v
		changes = append(changes, Change{Key: k, Old: old, New: v})
	}
	m.mu.Unlock()
	m.subs.notify(changes)
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var changes []Change
	m.mu.Lock()
	for _, k := range keys {
		if old, ok := m.data[k]; ok {
			delete(m.data, k)
			changes = append(changes, Change{Key: k, Old: old})
		}
	}
	m.mu.Unlock()
	m.subs.notify(changes)
	return nil
}

func (m *Memory) Subscribe(fn func([]Change)) func() {
	return m.subs.add(fn)
}
