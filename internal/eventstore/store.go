// Package eventstore holds the single network-observed snapshot of parent
// sessions and video attempts. All updates go through whole-map replacement
// so readers never see a torn state, and subscribers are notified
// synchronously after each version bump.
package eventstore

import (
	"sync"

	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// Snapshot is one immutable view of everything observed on the wire.
// Readers must treat the maps as frozen.
type Snapshot struct {
	Version   uint64
	Parents   map[string]*models.ParentSession
	Videos    map[string]*models.VideoAttempt
	LastEvent string
}

// Patch is a partial replacement returned by a mutation producer. Nil maps
// leave that section untouched; entries are merged over shallow copies.
type Patch struct {
	Parents   map[string]*models.ParentSession
	Videos    map[string]*models.VideoAttempt
	LastEvent string
}

// Store serializes mutations and fans snapshots out to subscribers
type Store struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates an empty store at version 0
func New() *Store {
	return &Store{
		snap: Snapshot{
			Parents: make(map[string]*models.ParentSession),
			Videos:  make(map[string]*models.VideoAttempt),
		},
		subs: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current snapshot
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Mutate runs producer against the current snapshot. A nil result is a
// no-op; otherwise the changed maps are merged into shallow copies, the
// version is bumped, and every subscriber sees the new snapshot before
// Mutate returns. Subscribers must not call back into the store.
func (s *Store) Mutate(producer func(Snapshot) *Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch := producer(s.snap)
	if patch == nil {
		return
	}

	next := Snapshot{
		Version:   s.snap.Version + 1,
		Parents:   s.snap.Parents,
		Videos:    s.snap.Videos,
		LastEvent: s.snap.LastEvent,
	}
	if patch.Parents != nil {
		next.Parents = mergeParents(s.snap.Parents, patch.Parents)
	}
	if patch.Videos != nil {
		next.Videos = mergeVideos(s.snap.Videos, patch.Videos)
	}
	if patch.LastEvent != "" {
		next.LastEvent = patch.LastEvent
	}
	s.snap = next

	for _, fn := range s.subs {
		fn(next)
	}
}

// Subscribe registers a listener called synchronously after every mutation.
// Returns an unsubscribe function.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Reset drops all observed state, e.g. when the watched parent changes.
// Subscribers survive a reset; the version keeps climbing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Snapshot{
		Version: s.snap.Version + 1,
		Parents: make(map[string]*models.ParentSession),
		Videos:  make(map[string]*models.VideoAttempt),
	}
	s.snap = next

	for _, fn := range s.subs {
		fn(next)
	}
}

// LatestAttemptFor returns the most recent attempt recorded for a parent:
// the parent's attempt-id list is scanned from the end and the first id
// present in the video map wins. Nil if nothing matches.
func (s *Store) LatestAttemptFor(parentID string) *models.VideoAttempt {
	snap := s.Snapshot()
	return LatestAttempt(snap, parentID)
}

// LatestAttempt is the selector form of LatestAttemptFor for callers that
// already hold a snapshot
func LatestAttempt(snap Snapshot, parentID string) *models.VideoAttempt {
	parent, ok := snap.Parents[parentID]
	if !ok {
		return nil
	}
	for i := len(parent.AttemptIDs) - 1; i >= 0; i-- {
		if v, ok := snap.Videos[parent.AttemptIDs[i]]; ok {
			return v
		}
	}
	return nil
}

func mergeParents(base, changes map[string]*models.ParentSession) map[string]*models.ParentSession {
	out := make(map[string]*models.ParentSession, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

func mergeVideos(base, changes map[string]*models.VideoAttempt) map[string]*models.VideoAttempt {
	out := make(map[string]*models.VideoAttempt, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}
