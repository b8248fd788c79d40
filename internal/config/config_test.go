package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.ClickCooldown() != 8*time.Second {
		t.Errorf("expected default click cooldown 8s, got %v", cfg.Engine.ClickCooldown())
	}
	if cfg.Engine.ClickGuard() != 250*time.Millisecond {
		t.Errorf("expected default click guard 250ms, got %v", cfg.Engine.ClickGuard())
	}
	if cfg.Engine.LogCapacity != 200 {
		t.Errorf("expected default log capacity 200, got %d", cfg.Engine.LogCapacity)
	}
	if len(cfg.Selectors.MakeVideoButton) == 0 {
		t.Error("expected default make_video_button selectors")
	}
	if len(cfg.Phrases.Moderation) == 0 {
		t.Error("expected default moderation phrases")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[engine]
max_retries = 5
video_goal = 2
auto_retry_enabled = true
click_cooldown_ms = 4000

[selectors]
make_video_button = ['button[aria-label="Rehacer"]']
prompt_input = ['textarea[aria-label="Crear un video"]']
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.ClickCooldown() != 4*time.Second {
		t.Errorf("expected click cooldown 4s, got %v", cfg.Engine.ClickCooldown())
	}
	// Overridden selectors win over defaults, non-English UIs included
	if got := cfg.Selectors.MakeVideoButton[0]; got != `button[aria-label="Rehacer"]` {
		t.Errorf("expected custom button selector first, got %q", got)
	}
	if got := cfg.Selectors.PromptInput[0]; got != `textarea[aria-label="Crear un video"]` {
		t.Errorf("expected custom input selector first, got %q", got)
	}
	// Unset sections still get defaults
	if cfg.Engine.SchedulerTick() != 3*time.Second {
		t.Errorf("expected default scheduler tick, got %v", cfg.Engine.SchedulerTick())
	}
	if len(cfg.Selectors.Notification) == 0 {
		t.Error("expected default notification selectors")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max_retries too high", func(c *Config) { c.Engine.MaxRetries = 51 }},
		{"max_retries zero", func(c *Config) { c.Engine.MaxRetries = -1 }},
		{"video_goal too high", func(c *Config) { c.Engine.VideoGoal = 99 }},
		{"cooldown below guard", func(c *Config) { c.Engine.ClickCooldownMS = 100 }},
		{"layer2 below layer1", func(c *Config) { c.Engine.Layer2MaxProgress = 10 }},
		{"defer above grace", func(c *Config) { c.Engine.MigrationDeferMS = 6000 }},
		{"no button selectors", func(c *Config) { c.Selectors.MakeVideoButton = nil }},
		{"no moderation phrases", func(c *Config) { c.Phrases.Moderation = nil }},
		{"no conversation pattern", func(c *Config) { c.Endpoints.ConversationPattern = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
