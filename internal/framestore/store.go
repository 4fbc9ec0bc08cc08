// Package framestore holds the ordered frame collection of a capture
// session. It is the only writer of frame data: every mutation renumbers the
// frames densely, notifies subscribers synchronously and hands a snapshot to
// the persistence mirror.
package framestore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// Mirror receives a full snapshot after every mutation. Implementations must
// not block; persistence happens asynchronously.
type Mirror interface {
	Mirror(frames []types.Frame)
}

// Store is the frame collection.
type Store struct {
	// order serializes mutations with their notifications so subscribers
	// observe snapshots in mutation order.
	order  sync.Mutex
	mu     sync.Mutex
	frames []types.Frame
	mirror Mirror

	subMu  sync.RWMutex
	nextID atomic.Int64
	subs   map[int64]func([]types.Frame)
}

// New returns an empty store. mirror may be nil.
func New(mirror Mirror) *Store {
	return &Store{mirror: mirror, subs: make(map[int64]func([]types.Frame))}
}

// Subscribe registers fn to receive the frame list after every mutation and
// returns an unsubscribe func. fn may read the store but must not mutate it.
func (s *Store) Subscribe(fn func([]types.Frame)) func() {
	id := s.nextID.Add(1)
	s.subMu.Lock()
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Load replaces the collection with persisted frames. Subscribers are
// notified; the mirror is not, since the data came from it.
func (s *Store) Load(frames []types.Frame) {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	s.frames = append([]types.Frame(nil), frames...)
	renumber(s.frames)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, false)
}

// Append adds f at the end and assigns it the next number.
func (s *Store) Append(f types.Frame) types.Frame {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	f.Number = len(s.frames) + 1
	s.frames = append(s.frames, f)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, true)
	return f
}

// UpdateAnnotation replaces the annotation of frame id. Unknown ids are a
// no-op and report false.
func (s *Store) UpdateAnnotation(id, text string) bool {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.frames[i].Annotation = text
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, true)
	return true
}

// Delete removes frame id and renumbers the rest from 1.
func (s *Store) Delete(id string) bool {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.frames = append(s.frames[:i], s.frames[i+1:]...)
	renumber(s.frames)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, true)
	return true
}

// Reorder moves the frame at index from to index to and renumbers.
func (s *Store) Reorder(from, to int) error {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	n := len(s.frames)
	if from < 0 || from >= n || to < 0 || to >= n {
		s.mu.Unlock()
		return types.NewError(types.CodeValidation, fmt.Sprintf("reorder %d->%d out of range (frames=%d)", from, to, n), nil)
	}
	if from == to {
		s.mu.Unlock()
		return nil
	}
	f := s.frames[from]
	s.frames = append(s.frames[:from], s.frames[from+1:]...)
	s.frames = append(s.frames[:to], append([]types.Frame{f}, s.frames[to:]...)...)
	renumber(s.frames)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, true)
	return nil
}

// Clear empties the collection.
func (s *Store) Clear() {
	s.order.Lock()
	defer s.order.Unlock()
	s.mu.Lock()
	s.frames = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, true)
}

// Frames returns a copy of the collection in order.
func (s *Store) Frames() []types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns frame id.
func (s *Store) Get(id string) (types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return types.Frame{}, false
	}
	return s.frames[i], true
}

// Len returns the number of frames.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.frames {
		if s.frames[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshotLocked copies the slice. Image bytes are shared; they are never
// mutated after capture.
func (s *Store) snapshotLocked() []types.Frame {
	return append([]types.Frame(nil), s.frames...)
}

func (s *Store) publish(snap []types.Frame, mirror bool) {
	s.subMu.RLock()
	fns := make([]func([]types.Frame), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
	if mirror && s.mirror != nil {
		s.mirror.Mirror(snap)
	}
}

func renumber(frames []types.Frame) {
	for i := range frames {
		frames[i].Number = i + 1
	}
}
