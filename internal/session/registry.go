package session

import (
	"sync"
	"time"
)

// Registry carries the cross-component session identity that the source of
// this design kept in ambient globals: the current navigable media id, the
// key session state persists under, the stable secondary id, and the
// "just navigated programmatically" flag the identity resolver consults.
// One registry value is injected into every component that needs it.
type Registry struct {
	mu           sync.Mutex
	mediaID      string
	sessionKey   string
	secondaryID  string
	navFlaggedAt time.Time
	now          func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// SetIdentity records the active media id and session key
func (r *Registry) SetIdentity(mediaID, sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mediaID = mediaID
	r.sessionKey = sessionKey
}

// MediaID returns the current navigable media id
func (r *Registry) MediaID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mediaID
}

// SessionKey returns the key session-scoped state persists under
func (r *Registry) SessionKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionKey
}

// SetSecondaryID records the stable secondary identifier for the current media
func (r *Registry) SetSecondaryID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secondaryID = id
}

// SecondaryID returns the stable secondary identifier, if known
func (r *Registry) SecondaryID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secondaryID
}

// FlagNavigation records that a navigation was just triggered
// programmatically (the site's own success redirect)
func (r *Registry) FlagNavigation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navFlaggedAt = r.now()
}

// NavFlaggedWithin reports whether a programmatic navigation was flagged
// inside the given window
func (r *Registry) NavFlaggedWithin(window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.navFlaggedAt.IsZero() {
		return false
	}
	return r.now().Sub(r.navFlaggedAt) <= window
}

// Clear drops all identity markers, e.g. when a session ends
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mediaID = ""
	r.sessionKey = ""
	r.secondaryID = ""
	r.navFlaggedAt = time.Time{}
}
