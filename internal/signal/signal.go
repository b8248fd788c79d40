// Package signal correlates raw observations into session events. Two
// channels feed it: visible page text (notifications, main content) and the
// network event store. Both are noisy, so each source carries its own
// debounce, cooldown, and dedup discipline before anything reaches the
// session machine.
package signal

import "github.com/jason-merrell/grok-auto-retry/pkg/models"

// Channel names used in logs and metrics
const (
	ChannelText   = "text"
	ChannelStream = "stream"
)

// Signal kinds used in logs and metrics
const (
	KindModeration = "moderation"
	KindRateLimit  = "ratelimit"
	KindSuccess    = "success"
)

// Events is what a source drives when a signal survives its filters.
// The session machine satisfies it.
type Events interface {
	MarkFailureDetected() models.FailureLayer
	OnRateLimit()
	IncrementVideosGenerated()
}

// Source is a running signal producer
type Source interface {
	// Name identifies the channel in logs and metrics
	Name() string
	// Start begins watching. The returned stop function is idempotent.
	Start() (stop func(), err error)
}
