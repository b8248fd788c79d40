package signal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/dom"
	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/internal/util"
)

// TextSource watches page text regions for moderation and rate-limit
// phrases. Moderation matches are debounced: rapid mutations of the same
// region settle before anything fires, and the normalized matched text is
// fingerprinted so one visible message fires exactly one signal no matter
// how many times the page re-renders it. Rate-limit phrases bypass the
// debounce because the page shows them once and there is nothing to settle.
type TextSource struct {
	cfg       config.EngineConfig
	selectors config.SelectorConfig
	phrases   config.PhraseConfig
	page      dom.Page
	events    Events
	collector *metrics.Collector
	logger    *slog.Logger

	mu          sync.Mutex
	latest      string
	debounce    *time.Timer
	lastFired   time.Time
	fingerprint string
	fpClear     *time.Timer
	rateLimited bool
	now         func() time.Time
}

// NewTextSource creates a text channel source driving events
func NewTextSource(
	cfg *config.Config,
	page dom.Page,
	events Events,
	collector *metrics.Collector,
	logger *slog.Logger,
) *TextSource {
	return &TextSource{
		cfg:       cfg.Engine,
		selectors: cfg.Selectors,
		phrases:   cfg.Phrases,
		page:      page,
		events:    events,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements Source
func (s *TextSource) Name() string { return ChannelText }

// Start attaches watchers to the notification and main content regions
func (s *TextSource) Start() (func(), error) {
	var stops []func()
	for _, sel := range [][]string{s.selectors.Notification, s.selectors.MainContent} {
		if len(sel) == 0 {
			continue
		}
		stop, err := s.page.WatchText(sel, s.onMutation)
		if err != nil {
			for _, st := range stops {
				st()
			}
			return nil, err
		}
		stops = append(stops, stop)

		// One scan of whatever is already on screen; a message shown
		// before the watcher attached must still be seen
		if el, err := s.page.Find(sel); err == nil {
			s.onMutation(el.Text())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.debounce != nil {
				s.debounce.Stop()
			}
			if s.fpClear != nil {
				s.fpClear.Stop()
			}
			s.mu.Unlock()
			for _, st := range stops {
				st()
			}
		})
	}, nil
}

// onMutation records the newest text and arms the debounce timer. Each
// mutation inside the window replaces the previous timer, so a burst of
// re-renders produces a single evaluation of the final text.
func (s *TextSource) onMutation(text string) {
	if s.matchRateLimit(text) {
		return
	}

	s.mu.Lock()
	s.latest = text
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce(), s.evaluate)
	s.mu.Unlock()
}

// matchRateLimit fires the rate-limit callback immediately on a match.
// It latches: the site stays rate limited for the rest of the session, so
// one callback is enough.
func (s *TextSource) matchRateLimit(text string) bool {
	phrase, ok := matchAny(text, s.phrases.RateLimit)
	if !ok {
		return false
	}

	s.mu.Lock()
	already := s.rateLimited
	s.rateLimited = true
	s.mu.Unlock()
	if already {
		return true
	}

	s.collector.RecordSignal(ChannelText, KindRateLimit)
	s.logger.Warn("Rate limit phrase on page", "phrase", phrase)
	s.events.OnRateLimit()
	return true
}

// evaluate runs once the debounce window goes quiet
func (s *TextSource) evaluate() {
	s.mu.Lock()
	text := s.latest
	s.mu.Unlock()

	phrase, ok := matchAny(text, s.phrases.Moderation)
	if !ok {
		s.scheduleFingerprintClear()
		return
	}
	// The matched phrase is the fingerprint, so a reworded toast that
	// carries the same phrase is still the same occurrence.
	fp := phrase

	s.mu.Lock()
	now := s.now()
	if fp == s.fingerprint {
		// The message is still on screen: a clear scheduled while it was
		// briefly absent no longer applies.
		if s.fpClear != nil {
			s.fpClear.Stop()
			s.fpClear = nil
		}
		s.mu.Unlock()
		s.logger.Debug("Suppressing repeated moderation text", "phrase", phrase)
		return
	}
	if now.Sub(s.lastFired) < s.cfg.SignalCooldown() {
		s.mu.Unlock()
		s.logger.Debug("Moderation signal inside cooldown, dropped", "phrase", phrase)
		return
	}
	s.lastFired = now
	s.fingerprint = fp
	if s.fpClear != nil {
		s.fpClear.Stop()
		s.fpClear = nil
	}
	s.mu.Unlock()

	s.collector.RecordSignal(ChannelText, KindModeration)
	s.logger.Info("Moderation phrase on page",
		"phrase", phrase,
		"text", util.TruncateString(text, 120))
	s.events.MarkFailureDetected()
}

// scheduleFingerprintClear forgets the last fingerprint once the matched
// text has been gone for the hold window, so the same message shown again
// later counts as a new event
func (s *TextSource) scheduleFingerprintClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fingerprint == "" || s.fpClear != nil {
		return
	}
	s.fpClear = time.AfterFunc(s.cfg.SignalHold(), func() {
		s.mu.Lock()
		s.fingerprint = ""
		s.fpClear = nil
		s.mu.Unlock()
	})
}

func matchAny(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if util.ContainsPhrase(text, p) {
			return p, true
		}
	}
	return "", false
}
