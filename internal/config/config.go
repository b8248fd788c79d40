package config

import (
	"fmt"
	"time"
)

// Config represents the complete engine configuration
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Selectors SelectorConfig  `toml:"selectors"`
	Phrases   PhraseConfig    `toml:"phrases"`
	Endpoints EndpointConfig  `toml:"endpoints"`
	Proxy     ProxyConfig     `toml:"proxy"`
}

// EngineConfig holds the retry engine tunables. All windows and delays were
// tuned empirically against the target site; treat them as knobs, not truths.
type EngineConfig struct {
	MaxRetries       int  `toml:"max_retries"`        // retry budget per session (1-50)
	VideoGoal        int  `toml:"video_goal"`         // videos to collect per session (1-50)
	AutoRetryEnabled bool `toml:"auto_retry_enabled"` // enables the retry scheduler

	ClickCooldownMS    int `toml:"click_cooldown_ms"`     // min gap between submit clicks (default 8000)
	SchedulerTickMS    int `toml:"scheduler_tick_ms"`     // retry scheduler evaluation interval (default 3000)
	ClickGuardMS       int `toml:"click_guard_ms"`        // failure signals inside this window after a click are noise (default 250)
	DebounceMS         int `toml:"debounce_ms"`           // text-signal debounce (default 100)
	SignalCooldownMS   int `toml:"signal_cooldown_ms"`    // hard cooldown between text-signal firings (default 5000)
	SignalHoldMS       int `toml:"signal_hold_ms"`        // signal must stay absent this long before re-arming (default 2000)
	StreamRearmMS      int `toml:"stream_rearm_ms"`       // stream-signal re-arm delay (default 500)
	InterVideoDelayMS  int `toml:"inter_video_delay_ms"`  // delay before the next video of a multi-video goal (default 8000)
	SessionTimeoutMS   int `toml:"session_timeout_ms"`    // force-end if no attempt resolves within this window (default 120000)
	NavFlagWindowMS    int `toml:"nav_flag_window_ms"`    // programmatic-navigation flag validity (default 15000)
	MigrationDeferMS   int `toml:"migration_defer_ms"`    // single re-evaluation delay for ambiguous navigations (default 400)
	MigrationGraceMS   int `toml:"migration_grace_ms"`    // total grace before migrate-with-warning (default 5000)
	ResumeGraceMS      int `toml:"resume_grace_ms"`       // grace before an unresumable session is cancelled (default 2000)

	Layer1MaxProgress int `toml:"layer1_max_progress"` // progress ceiling for a layer-1 failure (default 15)
	Layer2MaxProgress int `toml:"layer2_max_progress"` // progress ceiling for a layer-2 failure (default 70)

	LogCapacity   int `toml:"log_capacity"`    // session log ring buffer size (default 200)
	TabStateTTLMS int `toml:"tab_state_ttl_ms"` // tab-scoped state retention (default 24h)
}

// SelectorConfig holds ordered selector candidate lists, first match wins.
// Overridable so localized UIs keep working without a code change.
type SelectorConfig struct {
	MakeVideoButton []string `toml:"make_video_button"`
	PromptInput     []string `toml:"prompt_input"`
	Notification    []string `toml:"notification"`
	MainContent     []string `toml:"main_content"`
	SidebarItems    []string `toml:"sidebar_items"`
	ProgressLabel   []string `toml:"progress_label"`
}

// PhraseConfig holds the moderation phrase catalog. Matching is
// case-insensitive and whitespace-normalized.
type PhraseConfig struct {
	Moderation []string `toml:"moderation"`
	RateLimit  []string `toml:"rate_limit"`
}

// EndpointConfig names the intercepted endpoint URL substrings
type EndpointConfig struct {
	ConversationPattern string `toml:"conversation_pattern"`
	PollPattern         string `toml:"poll_pattern"`
}

// ProxyConfig holds the local observation proxy settings
type ProxyConfig struct {
	Listen      string `toml:"listen"`       // local listen address
	Origin      string `toml:"origin"`       // upstream origin to front
	MetricsAddr string `toml:"metrics_addr"` // optional prometheus endpoint, empty disables
}

const (
	// MaxRetryBudget is the upper bound for max_retries
	MaxRetryBudget = 50
	// MaxVideoGoal is the upper bound for video_goal
	MaxVideoGoal = 50
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 1 || c.Engine.MaxRetries > MaxRetryBudget {
		return fmt.Errorf("engine.max_retries must be between 1 and %d (got %d)", MaxRetryBudget, c.Engine.MaxRetries)
	}
	if c.Engine.VideoGoal < 1 || c.Engine.VideoGoal > MaxVideoGoal {
		return fmt.Errorf("engine.video_goal must be between 1 and %d (got %d)", MaxVideoGoal, c.Engine.VideoGoal)
	}
	if c.Engine.ClickCooldownMS < c.Engine.ClickGuardMS {
		return fmt.Errorf("engine.click_cooldown_ms (%d) must not be below engine.click_guard_ms (%d)",
			c.Engine.ClickCooldownMS, c.Engine.ClickGuardMS)
	}
	if c.Engine.Layer1MaxProgress < 0 || c.Engine.Layer1MaxProgress > 100 {
		return fmt.Errorf("engine.layer1_max_progress must be between 0 and 100 (got %d)", c.Engine.Layer1MaxProgress)
	}
	if c.Engine.Layer2MaxProgress <= c.Engine.Layer1MaxProgress || c.Engine.Layer2MaxProgress > 100 {
		return fmt.Errorf("engine.layer2_max_progress must be between %d and 100 (got %d)",
			c.Engine.Layer1MaxProgress+1, c.Engine.Layer2MaxProgress)
	}
	if c.Engine.MigrationDeferMS >= c.Engine.MigrationGraceMS {
		return fmt.Errorf("engine.migration_defer_ms (%d) must be below engine.migration_grace_ms (%d)",
			c.Engine.MigrationDeferMS, c.Engine.MigrationGraceMS)
	}
	if c.Engine.LogCapacity < 1 {
		return fmt.Errorf("engine.log_capacity must be at least 1 (got %d)", c.Engine.LogCapacity)
	}
	if len(c.Selectors.MakeVideoButton) == 0 {
		return fmt.Errorf("selectors.make_video_button requires at least one candidate")
	}
	if len(c.Selectors.PromptInput) == 0 {
		return fmt.Errorf("selectors.prompt_input requires at least one candidate")
	}
	if len(c.Phrases.Moderation) == 0 {
		return fmt.Errorf("phrases.moderation requires at least one phrase")
	}
	if c.Endpoints.ConversationPattern == "" {
		return fmt.Errorf("endpoints.conversation_pattern is required")
	}
	if c.Endpoints.PollPattern == "" {
		return fmt.Errorf("endpoints.poll_pattern is required")
	}
	return nil
}

// Duration accessors so callers never multiply milliseconds by hand.

func (e EngineConfig) ClickCooldown() time.Duration   { return ms(e.ClickCooldownMS) }
func (e EngineConfig) SchedulerTick() time.Duration   { return ms(e.SchedulerTickMS) }
func (e EngineConfig) ClickGuard() time.Duration      { return ms(e.ClickGuardMS) }
func (e EngineConfig) Debounce() time.Duration        { return ms(e.DebounceMS) }
func (e EngineConfig) SignalCooldown() time.Duration  { return ms(e.SignalCooldownMS) }
func (e EngineConfig) SignalHold() time.Duration      { return ms(e.SignalHoldMS) }
func (e EngineConfig) StreamRearm() time.Duration     { return ms(e.StreamRearmMS) }
func (e EngineConfig) InterVideoDelay() time.Duration { return ms(e.InterVideoDelayMS) }
func (e EngineConfig) SessionTimeout() time.Duration  { return ms(e.SessionTimeoutMS) }
func (e EngineConfig) NavFlagWindow() time.Duration   { return ms(e.NavFlagWindowMS) }
func (e EngineConfig) MigrationDefer() time.Duration  { return ms(e.MigrationDeferMS) }
func (e EngineConfig) MigrationGrace() time.Duration  { return ms(e.MigrationGraceMS) }
func (e EngineConfig) ResumeGrace() time.Duration     { return ms(e.ResumeGraceMS) }
func (e EngineConfig) TabStateTTL() time.Duration     { return ms(e.TabStateTTLMS) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
