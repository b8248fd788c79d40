package signal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/eventstore"
	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// StreamSource turns event store updates into session signals. Every
// attempt id is acted on at most once: the store keeps re-publishing a
// moderated attempt on every later snapshot, and re-firing would burn the
// whole retry budget on one rejection. A short re-arm latch spaces out
// signals from distinct attempts landing in the same snapshot burst;
// attempts caught by the latch are queued and fired on re-arm, never lost.
type StreamSource struct {
	cfg       config.EngineConfig
	store     *eventstore.Store
	events    Events
	collector *metrics.Collector
	logger    *slog.Logger

	mu        sync.Mutex
	processed map[string]models.AttemptStatus // attempt id -> status acted on
	pending   []attemptFiring                 // caught by the latch, not yet fired
	latched   bool
}

type attemptFiring struct {
	attemptID string
	status    models.AttemptStatus
}

// NewStreamSource creates a stream channel source driving events
func NewStreamSource(
	cfg *config.Config,
	store *eventstore.Store,
	events Events,
	collector *metrics.Collector,
	logger *slog.Logger,
) *StreamSource {
	return &StreamSource{
		cfg:       cfg.Engine,
		store:     store,
		events:    events,
		collector: collector,
		logger:    logger,
		processed: make(map[string]models.AttemptStatus),
	}
}

// Name implements Source
func (s *StreamSource) Name() string { return ChannelStream }

// Start subscribes to the event store
func (s *StreamSource) Start() (func(), error) {
	unsub := s.store.Subscribe(s.onSnapshot)
	var once sync.Once
	return func() { once.Do(unsub) }, nil
}

// ResetAttempts forgets which attempts were acted on. Called when a new
// session starts so its attempts are judged fresh.
func (s *StreamSource) ResetAttempts() {
	s.mu.Lock()
	s.processed = make(map[string]models.AttemptStatus)
	s.pending = nil
	s.latched = false
	s.mu.Unlock()
}

// onSnapshot scans the snapshot for attempts that reached a terminal
// status since the last look. Runs under the store's notify, so it must
// not call back into the store.
func (s *StreamSource) onSnapshot(snap eventstore.Snapshot) {
	var fire []attemptFiring

	s.mu.Lock()
	for id, attempt := range snap.Videos {
		status := attempt.Status()
		if status != models.AttemptModerated && status != models.AttemptCompleted {
			continue
		}
		if s.processed[id] == status {
			continue
		}
		if s.latched {
			// Only fired attempts count as processed; queued ones wait
			// for the re-arm so nothing terminal is ever lost.
			if !s.pendingHas(id, status) {
				s.pending = append(s.pending, attemptFiring{attemptID: id, status: status})
				s.logger.Debug("Stream signal latched, queued", "attempt_id", id, "status", string(status))
			}
			continue
		}
		s.processed[id] = status
		s.latched = true
		fire = append(fire, attemptFiring{attemptID: id, status: status})
		time.AfterFunc(s.cfg.StreamRearm(), s.rearm)
	}
	s.mu.Unlock()

	// The store's mutex is held during notify; callbacks that may mutate
	// the store or block go to a goroutine
	for _, f := range fire {
		f := f
		go s.dispatch(f.attemptID, f.status)
	}
}

func (s *StreamSource) pendingHas(id string, status models.AttemptStatus) bool {
	for _, p := range s.pending {
		if p.attemptID == id && p.status == status {
			return true
		}
	}
	return false
}

// rearm fires the oldest queued attempt, keeping the latch closed for
// another window; with an empty queue it simply re-opens the latch.
func (s *StreamSource) rearm() {
	s.mu.Lock()
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if s.processed[next.attemptID] == next.status {
			continue
		}
		s.processed[next.attemptID] = next.status
		time.AfterFunc(s.cfg.StreamRearm(), s.rearm)
		s.mu.Unlock()
		go s.dispatch(next.attemptID, next.status)
		return
	}
	s.latched = false
	s.mu.Unlock()
}

func (s *StreamSource) dispatch(attemptID string, status models.AttemptStatus) {
	switch status {
	case models.AttemptModerated:
		s.collector.RecordSignal(ChannelStream, KindModeration)
		s.logger.Info("Moderated attempt on stream", "attempt_id", attemptID)
		s.events.MarkFailureDetected()
	case models.AttemptCompleted:
		s.collector.RecordSignal(ChannelStream, KindSuccess)
		s.logger.Info("Completed attempt on stream", "attempt_id", attemptID)
		s.events.IncrementVideosGenerated()
	}
}
