// Package kvstore is the key-value store the capture core mirrors its state
// into. It follows the extension storage model: get by keys, set a batch of
// entries, and subscribe to changes. No transactional guarantees are made
// across Set calls.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Persisted keys.
const (
	KeyFrames              = "frames"
	KeyCurrentSession      = "currentSession"
	KeyDailyFrameCount     = "dailyFrameCount"
	KeyDailyLimitResetTime = "dailyLimitResetTime"
	KeyIsPro               = "isPro"
	KeyLicenseKey          = "licenseKey"
	KeyProValidatedAt      = "proValidatedAt"
)

// Change describes one key update. New is nil when the key was removed.
type Change struct {
	Key string
	Old json.RawMessage
	New json.RawMessage
}

// Store is the provided key-value service.
type Store interface {
	// Get returns the stored JSON for each key that exists.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set JSON-encodes and stores every entry.
	Set(ctx context.Context, entries map[string]any) error
	// Remove deletes keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	// Subscribe registers fn for change batches and returns an unsubscribe func.
	Subscribe(fn func([]Change)) func()
}

// GetInto decodes one key into out. It reports false when the key is absent
// or stores JSON null.
func GetInto(ctx context.Context, s Store, key string, out any) (bool, error) {
	vals, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := vals[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}

func encodeEntries(entries map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		if raw, ok := v.(json.RawMessage); ok {
			out[k] = raw
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("kvstore: encode %s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

// subscribers is shared by the Store implementations.
type subscribers struct {
	mu     sync.RWMutex
	nextID atomic.Int64
	fns    map[int64]func([]Change)
}

func (s *subscribers) add(fn func([]Change)) func() {
	id := s.nextID.Add(1)
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int64]func([]Change))
	}
	s.fns[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	fns := make([]func([]Change), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(changes)
	}
}
