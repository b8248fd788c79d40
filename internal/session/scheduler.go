package session

import (
	"time"

	"github.com/jason-merrell/grok-auto-retry/internal/metrics"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// StartScheduler launches the periodic retry loop. Starting an already
// running scheduler is a no-op.
func (m *Machine) StartScheduler() {
	m.mu.Lock()
	m.startSchedulerLocked()
	m.mu.Unlock()
}

func (m *Machine) startSchedulerLocked() {
	if m.schedStop != nil {
		return
	}
	stop := make(chan struct{})
	m.schedStop = stop
	tick := m.cfg.SchedulerTick()

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.safeCall("scheduler tick", m.schedulerTick)
			case <-stop:
				return
			}
		}
	}()
	m.logger.Debug("Scheduler started", "tick", tick)
}

// StopScheduler halts the retry loop without touching session state
func (m *Machine) StopScheduler() {
	m.mu.Lock()
	m.stopSchedulerLocked()
	m.mu.Unlock()
}

func (m *Machine) stopSchedulerLocked() {
	if m.schedStop != nil {
		close(m.schedStop)
		m.schedStop = nil
	}
}

// schedulerTick is one pass of the retry loop: watchdog first, then retry
// dispatch if the permission token is live
func (m *Machine) schedulerTick() {
	m.mu.Lock()
	if !m.state.IsSessionActive {
		m.mu.Unlock()
		return
	}

	now := m.now()
	if !m.state.LastAttemptTime.IsZero() &&
		m.lastSignal.Before(m.state.LastAttemptTime) &&
		now.Sub(m.state.LastAttemptTime) > m.cfg.SessionTimeout() {
		m.logger.Error("No signal since last attempt, timing out session",
			"waited", now.Sub(m.state.LastAttemptTime))
		m.collector.RecordFailure(metrics.FailureTimeout)
		m.endSessionLocked(models.OutcomeFailure)
		m.mu.Unlock()
		return
	}

	if !m.state.CanRetry {
		m.mu.Unlock()
		return
	}

	if m.state.RetryCount >= m.persistent.MaxRetries {
		m.logger.Warn("Retry budget exhausted",
			"retries", m.state.RetryCount,
			"max", m.persistent.MaxRetries)
		m.endSessionLocked(models.OutcomeFailure)
		m.mu.Unlock()
		return
	}

	// Inside the cooldown the token simply waits for a later tick
	if !m.lastClick.IsZero() && now.Sub(m.lastClick) < m.cfg.ClickCooldown() {
		m.mu.Unlock()
		return
	}

	// Consume the token and count the attempt before the click so a
	// concurrent signal cannot double-dispatch
	m.state.CanRetry = false
	m.state.RetryCount++
	attempt, budget := m.state.RetryCount, m.persistent.MaxRetries
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Dispatching retry", "attempt", attempt, "max", budget)

	result, err := m.ClickMakeVideoButton("", true)
	if result == ClickNoTarget {
		// Nothing was clicked: give the token back for the next tick
		m.mu.Lock()
		m.state.CanRetry = true
		m.state.RetryCount--
		m.persistLocked()
		m.mu.Unlock()
		m.logger.Warn("Retry click found no target, will retry next tick", "error", err)
	}
}
