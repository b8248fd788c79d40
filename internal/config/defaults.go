package config

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.VideoGoal == 0 {
		e.VideoGoal = 1
	}
	if e.ClickCooldownMS == 0 {
		e.ClickCooldownMS = 8000
	}
	if e.SchedulerTickMS == 0 {
		e.SchedulerTickMS = 3000
	}
	if e.ClickGuardMS == 0 {
		e.ClickGuardMS = 250
	}
	if e.DebounceMS == 0 {
		e.DebounceMS = 100
	}
	if e.SignalCooldownMS == 0 {
		e.SignalCooldownMS = 5000
	}
	if e.SignalHoldMS == 0 {
		e.SignalHoldMS = 2000
	}
	if e.StreamRearmMS == 0 {
		e.StreamRearmMS = 500
	}
	if e.InterVideoDelayMS == 0 {
		e.InterVideoDelayMS = 8000
	}
	if e.SessionTimeoutMS == 0 {
		e.SessionTimeoutMS = 120000
	}
	if e.NavFlagWindowMS == 0 {
		e.NavFlagWindowMS = 15000
	}
	if e.MigrationDeferMS == 0 {
		e.MigrationDeferMS = 400
	}
	if e.MigrationGraceMS == 0 {
		e.MigrationGraceMS = 5000
	}
	if e.ResumeGraceMS == 0 {
		e.ResumeGraceMS = 2000
	}
	if e.Layer1MaxProgress == 0 {
		e.Layer1MaxProgress = 15
	}
	if e.Layer2MaxProgress == 0 {
		e.Layer2MaxProgress = 70
	}
	if e.LogCapacity == 0 {
		e.LogCapacity = 200
	}
	if e.TabStateTTLMS == 0 {
		e.TabStateTTLMS = 24 * 60 * 60 * 1000
	}

	s := &cfg.Selectors
	if len(s.MakeVideoButton) == 0 {
		s.MakeVideoButton = DefaultMakeVideoButtonSelectors()
	}
	if len(s.PromptInput) == 0 {
		s.PromptInput = DefaultPromptInputSelectors()
	}
	if len(s.Notification) == 0 {
		s.Notification = DefaultNotificationSelectors()
	}
	if len(s.MainContent) == 0 {
		s.MainContent = DefaultMainContentSelectors()
	}
	if len(s.SidebarItems) == 0 {
		s.SidebarItems = DefaultSidebarSelectors()
	}
	if len(s.ProgressLabel) == 0 {
		s.ProgressLabel = DefaultProgressLabelSelectors()
	}

	if len(cfg.Phrases.Moderation) == 0 {
		cfg.Phrases.Moderation = DefaultModerationPhrases()
	}
	if len(cfg.Phrases.RateLimit) == 0 {
		cfg.Phrases.RateLimit = DefaultRateLimitPhrases()
	}

	if cfg.Endpoints.ConversationPattern == "" {
		cfg.Endpoints.ConversationPattern = "/rest/app-chat/conversations/"
	}
	if cfg.Endpoints.PollPattern == "" {
		cfg.Endpoints.PollPattern = "/rest/media/post/list"
	}

	if cfg.Proxy.Listen == "" {
		cfg.Proxy.Listen = "127.0.0.1:8471"
	}
	if cfg.Proxy.Origin == "" {
		cfg.Proxy.Origin = "https://grok.com"
	}
}

// DefaultMakeVideoButtonSelectors returns the default candidates for the
// primary submit control, most specific first
func DefaultMakeVideoButtonSelectors() []string {
	return []string{
		`button[aria-label="Make video"]`,
		`button[aria-label="Redo"]`,
		`button[data-testid="make-video"]`,
		`form button[type="submit"]`,
	}
}

// DefaultPromptInputSelectors returns the default candidates for the prompt input
func DefaultPromptInputSelectors() []string {
	return []string{
		`textarea[aria-label="Make a video"]`,
		`textarea[data-testid="video-prompt"]`,
		`form textarea`,
	}
}

// DefaultNotificationSelectors returns the default candidates for the toast region
func DefaultNotificationSelectors() []string {
	return []string{
		`[role="alert"]`,
		`[data-sonner-toaster]`,
		`.toast-region`,
	}
}

// DefaultMainContentSelectors returns the fallback scan region
func DefaultMainContentSelectors() []string {
	return []string{
		`main`,
		`#root`,
	}
}

// DefaultSidebarSelectors returns candidates for the related-media sidebar items
func DefaultSidebarSelectors() []string {
	return []string{
		`aside a[href*="/media/"]`,
		`nav[aria-label="History"] a`,
	}
}

// DefaultProgressLabelSelectors returns candidates for the visible percent label
func DefaultProgressLabelSelectors() []string {
	return []string{
		`[data-testid="generation-progress"]`,
		`.video-progress-label`,
	}
}

// DefaultModerationPhrases returns the stock moderation rejection phrases
func DefaultModerationPhrases() []string {
	return []string{
		"content moderated",
		"moderated video",
		"this video was moderated",
		"violates our acceptable use policy",
		"unable to generate this video",
	}
}

// DefaultRateLimitPhrases returns the stock rate-limit phrases
func DefaultRateLimitPhrases() []string {
	return []string{
		"you've reached your limit",
		"rate limit reached",
	}
}
