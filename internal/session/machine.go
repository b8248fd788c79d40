// Package session owns the per-generation retry session: the retry budget,
// the single-use retry permission token, cooldown pacing, failure layer
// accounting, and the session outcome. It drives the resubmit click and
// persists itself so a reload resumes instead of forgetting.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/dom"
	"github.com/jason-merrell/grok-auto-retry/internal/logbuf"
	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/internal/storage"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// ClickResult describes the outcome of a submit click attempt
type ClickResult string

const (
	// ClickAttempted means the prompt was written and the control activated
	ClickAttempted ClickResult = "attempted"
	// ClickDeferred means the cooldown had not elapsed; exactly one
	// re-invocation is scheduled for the remaining wait
	ClickDeferred ClickResult = "deferred"
	// ClickBlocked means no retry permission token was held
	ClickBlocked ClickResult = "blocked"
	// ClickNoTarget means the button or input could not be located
	ClickNoTarget ClickResult = "no_target"
)

// ErrSessionInactive is reported when a click is requested outside an
// active session.
var ErrSessionInactive = errors.New("no active session")

// ErrNoPermit is reported when a click is requested without the single-use
// retry permission token
var ErrNoPermit = errors.New("no retry permission token held")

// tabRecord is the session-scoped state persisted in the tab area
type tabRecord struct {
	State   models.SessionState   `json:"state"`
	Outcome models.SessionOutcome `json:"outcome"`
	Summary models.SessionSummary `json:"summary"`
}

// Machine is the per-session retry state machine
type Machine struct {
	cfg       config.EngineConfig
	selectors config.SelectorConfig
	page      dom.Page
	store     *storage.Store
	registry  *Registry
	ring      *logbuf.Ring
	collector *metrics.Collector
	logger    *slog.Logger

	limiter *rate.Limiter // click pacing: one click per cooldown window

	mu           sync.Mutex
	mediaID      string
	sessionKey   string
	persistent   models.PersistentState
	state        models.SessionState
	outcome      models.SessionOutcome
	summary      models.SessionSummary
	lastClick    time.Time
	lastSignal   time.Time
	pendingClick *time.Timer // deferred click, single flight
	continuation *time.Timer // inter-video continuation, single flight
	resumeGuard  *time.Timer
	schedStop    chan struct{}
	now          func() time.Time
}

// New creates a machine for one page. Call Load before use.
func New(
	cfg *config.Config,
	page dom.Page,
	store *storage.Store,
	registry *Registry,
	ring *logbuf.Ring,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		cfg:       cfg.Engine,
		selectors: cfg.Selectors,
		page:      page,
		store:     store,
		registry:  registry,
		ring:      ring,
		collector: collector,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(cfg.Engine.ClickCooldown()), 1),
		outcome:   models.OutcomeIdle,
		now:       time.Now,
	}
}

// Load reads persisted state for mediaID, applying defaults for a media id
// never seen before. The session key starts as the media id; identity
// migration may re-key it later.
func (m *Machine) Load(mediaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mediaID = mediaID
	m.sessionKey = mediaID

	found, err := storage.GetJSON(m.store.Durable, durableKey(mediaID), &m.persistent)
	if err != nil {
		return fmt.Errorf("failed to load persistent state: %w", err)
	}
	if !found {
		m.persistent = models.PersistentState{
			MaxRetries:       m.cfg.MaxRetries,
			AutoRetryEnabled: m.cfg.AutoRetryEnabled,
			VideoGoal:        m.cfg.VideoGoal,
			OriginalMediaID:  mediaID,
			VideoGroup:       []string{mediaID},
		}
	}

	var rec tabRecord
	found, err = storage.GetJSON(m.store.Tab, tabKey(m.sessionKey), &rec)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if found {
		m.state = rec.State
		m.outcome = rec.Outcome
		m.summary = rec.Summary
	} else {
		m.state = models.SessionState{}
		m.outcome = models.OutcomeIdle
	}
	return nil
}

// StartSession begins a fresh session, resetting all session-scoped fields
// and recording the session identity for the other components
func (m *Machine) StartSession(prompt string) {
	m.mu.Lock()
	m.state = models.SessionState{IsSessionActive: true}
	m.outcome = models.OutcomePending
	if prompt != "" {
		m.persistent.LastPromptValue = prompt
	}
	m.ring.Clear()
	m.registry.SetIdentity(m.mediaID, m.sessionKey)
	m.persistLocked()
	maxRetries, goal := m.persistent.MaxRetries, m.persistent.VideoGoal
	auto := m.persistent.AutoRetryEnabled && maxRetries > 0
	mediaID := m.mediaID
	m.mu.Unlock()

	m.logger.Info("Session started",
		"media_id", mediaID,
		"max_retries", maxRetries,
		"video_goal", goal,
		"auto_retry", auto)

	if auto {
		m.StartScheduler()
	}
}

// ClickMakeVideoButton writes the prompt and activates the submit control.
// Inside the cooldown window it schedules exactly one deferred
// re-invocation (replacing any pending one) and reports ClickDeferred.
// Without overridePermit the single-use retry token is required.
func (m *Machine) ClickMakeVideoButton(prompt string, overridePermit bool) (ClickResult, error) {
	m.mu.Lock()

	if !m.state.IsSessionActive {
		m.mu.Unlock()
		m.collector.RecordClick(string(ClickBlocked))
		m.logger.Warn("Click outside an active session, ignoring")
		return ClickBlocked, ErrSessionInactive
	}

	res := m.limiter.Reserve()
	if wait := res.DelayFrom(m.now()); wait > 0 {
		res.Cancel()
		m.scheduleDeferredClickLocked(prompt, overridePermit, wait)
		m.mu.Unlock()
		m.collector.RecordClick(string(ClickDeferred))
		m.logger.Debug("Click inside cooldown, deferred", "wait", wait)
		return ClickDeferred, nil
	}

	if !overridePermit && !m.state.CanRetry {
		res.Cancel()
		m.mu.Unlock()
		m.collector.RecordClick(string(ClickBlocked))
		m.logger.Warn("Click without retry permission, ignoring")
		return ClickBlocked, ErrNoPermit
	}

	if prompt == "" {
		prompt = m.persistent.LastPromptValue
	}
	m.mu.Unlock()

	button, err := m.page.Find(m.selectors.MakeVideoButton)
	if err != nil {
		return m.clickNoTarget(res, "button", err)
	}
	input, err := m.page.Find(m.selectors.PromptInput)
	if err != nil {
		return m.clickNoTarget(res, "prompt input", err)
	}

	if err := input.SetValue(prompt); err != nil {
		return m.clickNoTarget(res, "prompt input", err)
	}
	if err := button.Click(); err != nil {
		return m.clickNoTarget(res, "button", err)
	}

	m.mu.Lock()
	now := m.now()
	m.lastClick = now
	m.state.LastAttemptTime = now
	// The token is consumed in the same update as the click it permitted
	m.state.CanRetry = false
	if prompt != "" {
		m.persistent.LastPromptValue = prompt
	}
	m.persistLocked()
	m.mu.Unlock()

	m.collector.RecordClick(string(ClickAttempted))
	m.logger.Info("Submitted video generation", "prompt_len", len(prompt))
	return ClickAttempted, nil
}

func (m *Machine) clickNoTarget(res *rate.Reservation, what string, err error) (ClickResult, error) {
	// A failed locate must not burn the cooldown window
	res.Cancel()
	m.collector.RecordClick(string(ClickNoTarget))
	m.logger.Warn("Click target missing, state unchanged", "target", what, "error", err)
	return ClickNoTarget, err
}

// scheduleDeferredClickLocked replaces any pending deferred click with a
// new one for the remaining wait. Single flight: never two outstanding.
func (m *Machine) scheduleDeferredClickLocked(prompt string, overridePermit bool, wait time.Duration) {
	if m.pendingClick != nil {
		m.pendingClick.Stop()
	}
	m.pendingClick = time.AfterFunc(wait, func() {
		m.safeCall("deferred click", func() {
			m.mu.Lock()
			m.pendingClick = nil
			active := m.state.IsSessionActive
			m.mu.Unlock()
			if active {
				m.ClickMakeVideoButton(prompt, overridePermit)
			}
		})
	})
}

// MarkFailureDetected classifies a correlated failure signal by how far
// generation progressed, updates the layer counters, and grants the retry
// permission token unless the signal landed inside the click guard window
// (in which case it is treated as noise racing a just-issued click).
func (m *Machine) MarkFailureDetected() models.FailureLayer {
	progress := m.bestProgress()

	m.mu.Lock()
	now := m.now()
	m.lastSignal = now
	m.state.LastFailureTime = now

	var layer models.FailureLayer
	switch {
	case progress <= m.cfg.Layer1MaxProgress:
		layer = models.Layer1
		m.state.Layer1Failures++
	case progress <= m.cfg.Layer2MaxProgress:
		layer = models.Layer2
		m.state.Layer2Failures++
	default:
		layer = models.Layer3
		m.state.Layer3Failures++
		// The site charges for a finished render even when it is then
		// rejected
		m.state.CreditsUsed++
		m.collector.AddCredits(1)
	}

	withinGuard := !m.lastClick.IsZero() && now.Sub(m.lastClick) < m.cfg.ClickGuard()
	if withinGuard {
		m.logger.Debug("Failure signal within click guard, not granting retry",
			"since_click", now.Sub(m.lastClick))
	} else {
		m.state.CanRetry = true
	}
	m.persistLocked()
	m.mu.Unlock()

	m.collector.RecordFailure(strconv.Itoa(int(layer)))
	m.logger.Warn("Generation failure detected",
		"layer", int(layer),
		"progress", progress,
		"granted_retry", !withinGuard)
	return layer
}

// RecordProgress appends a sampled progress point for the current attempt
func (m *Machine) RecordProgress(percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsSessionActive {
		return
	}
	m.state.AttemptProgress = append(m.state.AttemptProgress, models.ProgressRecord{
		Attempt:    m.state.RetryCount,
		Percent:    percent,
		RecordedAt: m.now(),
	})
}

// bestProgress reads the visible percent label if present, falling back to
// the last sampled stream progress
func (m *Machine) bestProgress() int {
	if el, err := m.page.Find(m.selectors.ProgressLabel); err == nil {
		if v, ok := parsePercent(el.Text()); ok {
			return v
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.state.AttemptProgress); n > 0 {
		return m.state.AttemptProgress[n-1].Percent
	}
	return 0
}

// IncrementVideosGenerated records a finished video. Reaching the goal ends
// the session with a success outcome; otherwise one continuation attempt is
// scheduled after the inter-video delay, replacing any previous one.
func (m *Machine) IncrementVideosGenerated() {
	m.mu.Lock()
	if !m.state.IsSessionActive {
		m.mu.Unlock()
		return
	}
	m.lastSignal = m.now()
	m.state.VideosGenerated++
	m.state.CreditsUsed++
	m.collector.AddCredits(1)
	generated := m.state.VideosGenerated
	goal := m.persistent.VideoGoal
	prompt := m.persistent.LastPromptValue

	if generated >= goal {
		m.endSessionLocked(models.OutcomeSuccess)
		m.mu.Unlock()
		return
	}

	m.state.CanRetry = false
	if m.continuation != nil {
		m.continuation.Stop()
	}
	m.continuation = time.AfterFunc(m.cfg.InterVideoDelay(), func() {
		m.safeCall("inter-video continuation", func() {
			m.mu.Lock()
			m.continuation = nil
			active := m.state.IsSessionActive
			m.mu.Unlock()
			if active {
				m.ClickMakeVideoButton(prompt, true)
			}
		})
	})
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Video generated", "count", generated, "goal", goal)
}

// OnRateLimit handles a rate-limit detection: the site will not accept more
// work, so the active session ends immediately
func (m *Machine) OnRateLimit() {
	m.mu.Lock()
	active := m.state.IsSessionActive
	if active {
		m.endSessionLocked(models.OutcomeFailure)
	}
	m.mu.Unlock()
	if active {
		m.logger.Warn("Rate limit reached, session ended")
	}
}

// EndSession snapshots the counters, records the outcome, zeroes all
// session-scoped fields, and cancels every timer the session owned
func (m *Machine) EndSession(outcome models.SessionOutcome) {
	m.mu.Lock()
	m.endSessionLocked(outcome)
	m.mu.Unlock()
}

func (m *Machine) endSessionLocked(outcome models.SessionOutcome) {
	m.summary = models.SessionSummary{
		Outcome:         outcome,
		RetryCount:      m.state.RetryCount,
		VideosGenerated: m.state.VideosGenerated,
		CreditsUsed:     m.state.CreditsUsed,
		Layer1Failures:  m.state.Layer1Failures,
		Layer2Failures:  m.state.Layer2Failures,
		Layer3Failures:  m.state.Layer3Failures,
		EndedAt:         m.now(),
	}
	m.outcome = outcome
	m.state = models.SessionState{}

	// A stale timer must never revive a dead session
	if m.pendingClick != nil {
		m.pendingClick.Stop()
		m.pendingClick = nil
	}
	if m.continuation != nil {
		m.continuation.Stop()
		m.continuation = nil
	}
	if m.resumeGuard != nil {
		m.resumeGuard.Stop()
		m.resumeGuard = nil
	}
	m.stopSchedulerLocked()
	m.registry.Clear()
	m.persistLocked()

	m.collector.RecordSessionEnd(string(outcome))
	level := slog.LevelInfo
	if outcome == models.OutcomeSuccess {
		level = logbuf.LevelSuccess
	}
	m.logger.Log(context.Background(), level, "Session ended",
		"outcome", string(outcome),
		"retries", m.summary.RetryCount,
		"videos", m.summary.VideosGenerated,
		"credits", m.summary.CreditsUsed)
}

// Resume reconciles persisted state after a reload. A session that was
// active with a live retry token keeps going under the scheduler; one that
// cannot be reconstructed is cancelled after a short grace window, so a
// genuine in-flight resumption is not raced.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsSessionActive {
		return
	}

	if m.state.CanRetry && m.persistent.AutoRetryEnabled && m.persistent.MaxRetries > 0 {
		m.logger.Info("Resuming interrupted session", "retry_count", m.state.RetryCount)
		m.registry.SetIdentity(m.mediaID, m.sessionKey)
		m.startSchedulerLocked()
		return
	}

	m.logger.Warn("Active session with no resumable retry state, scheduling cancellation",
		"grace", m.cfg.ResumeGrace())
	m.resumeGuard = time.AfterFunc(m.cfg.ResumeGrace(), func() {
		m.safeCall("resume guard", func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.resumeGuard = nil
			if m.state.IsSessionActive && m.lastClick.IsZero() {
				m.logger.Warn("Session could not be resumed, cancelling")
				m.endSessionLocked(models.OutcomeCancelled)
			}
		})
	})
}

// State returns a copy of the session-scoped fields
func (m *Machine) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Persistent returns a copy of the persistent fields
func (m *Machine) Persistent() models.PersistentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistent
}

// Outcome returns the last session outcome
func (m *Machine) Outcome() models.SessionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// Summary returns the last end-of-session snapshot
func (m *Machine) Summary() models.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// MediaID returns the media id this machine is keyed by
func (m *Machine) MediaID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaID
}

// MigrateTo re-keys the machine to a new media id without disturbing the
// in-flight session: the group membership, retry budget, and counters all
// carry over, and the state persisted under the old keys is left in place
// so anything still reading them keeps working.
func (m *Machine) MigrateTo(newMediaID string) {
	m.mu.Lock()
	oldID := m.mediaID
	if newMediaID == oldID {
		m.mu.Unlock()
		return
	}
	m.persistent.AddToGroup(oldID)
	m.persistent.AddToGroup(newMediaID)
	if m.persistent.OriginalMediaID == "" {
		m.persistent.OriginalMediaID = oldID
	}
	m.mediaID = newMediaID
	m.sessionKey = newMediaID
	m.registry.SetIdentity(m.mediaID, m.sessionKey)
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Session identity migrated", "from", oldID, "to", newMediaID)
}

// SetAutoRetry flips the auto-retry setting and persists it
func (m *Machine) SetAutoRetry(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistent.AutoRetryEnabled = enabled
	m.persistLocked()
}

// SetMaxRetries updates the retry budget and persists it
func (m *Machine) SetMaxRetries(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistent.MaxRetries = n
	m.persistLocked()
}

// SetVideoGoal updates the per-session video target and persists it
func (m *Machine) SetVideoGoal(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistent.VideoGoal = n
	m.persistLocked()
}

// persistLocked writes both areas; storage failures are logged, never fatal
func (m *Machine) persistLocked() {
	if err := storage.SetJSON(m.store.Durable, durableKey(m.mediaID), &m.persistent); err != nil {
		m.logger.Error("Failed to persist durable state", "error", err)
	}
	rec := tabRecord{State: m.state, Outcome: m.outcome, Summary: m.summary}
	if err := storage.SetJSON(m.store.Tab, tabKey(m.sessionKey), &rec); err != nil {
		m.logger.Error("Failed to persist session state", "error", err)
	}
}

// safeCall runs fn, converting a panic into an error log. An escaped panic
// in a timer callback would silently stop the whole automation loop.
func (m *Machine) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered panic in callback", "callback", name, "panic", r)
		}
	}()
	fn()
}

func durableKey(mediaID string) string { return "session/" + mediaID }
func tabKey(sessionKey string) string  { return "tab/" + sessionKey }

// parsePercent extracts a leading integer percentage from label text like
// "62%" or "62 % complete"
func parsePercent(s string) (int, bool) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
