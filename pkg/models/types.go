package models

import "time"

// AttemptStatus describes how far a single generation attempt has progressed
type AttemptStatus string

const (
	// AttemptPending means no progress has been observed yet
	AttemptPending AttemptStatus = "pending"
	// AttemptRunning means progress is between 1 and 99 percent
	AttemptRunning AttemptStatus = "running"
	// AttemptCompleted means the render finished without moderation
	AttemptCompleted AttemptStatus = "completed"
	// AttemptModerated means the attempt was rejected by moderation
	AttemptModerated AttemptStatus = "moderated"
)

// VideoAttempt is one generation try observed on the wire.
// Status is always derived from Progress and Moderated, never stored.
type VideoAttempt struct {
	AttemptID  string    `json:"attempt_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Progress   int       `json:"progress"` // 0-100
	Moderated  bool      `json:"moderated"`
	Prompt     string    `json:"prompt,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// Status derives the attempt status from its current fields
func (a *VideoAttempt) Status() AttemptStatus {
	switch {
	case a.Moderated:
		return AttemptModerated
	case a.Progress >= 100:
		return AttemptCompleted
	case a.Progress > 0:
		return AttemptRunning
	default:
		return AttemptPending
	}
}

// ParentSession groups the attempts spawned by one prompt submission
type ParentSession struct {
	ParentID             string    `json:"parent_id"`
	PromptText           string    `json:"prompt_text,omitempty"`
	LastUserEventID      string    `json:"last_user_event_id,omitempty"`
	LastAssistantEventID string    `json:"last_assistant_event_id,omitempty"`
	AttemptIDs           []string  `json:"attempt_ids"` // append-only, insertion order
	LastUpdate           time.Time `json:"last_update"`
}

// SessionOutcome is the terminal classification of a retry session
type SessionOutcome string

const (
	OutcomeIdle      SessionOutcome = "idle"
	OutcomePending   SessionOutcome = "pending"
	OutcomeSuccess   SessionOutcome = "success"
	OutcomeFailure   SessionOutcome = "failure"
	OutcomeCancelled SessionOutcome = "cancelled"
)

// FailureLayer classifies a moderation rejection by how far generation got
// before being blocked. Layer 3 rejections still consume site credits.
type FailureLayer int

const (
	// LayerNone means no classification was possible
	LayerNone FailureLayer = 0
	// Layer1 is an early rejection (prompt-level, low progress)
	Layer1 FailureLayer = 1
	// Layer2 is a mid-generation rejection
	Layer2 FailureLayer = 2
	// Layer3 is a post-generation rejection of a finished render
	Layer3 FailureLayer = 3
)

// PersistentState holds the RetrySession fields that survive navigation and
// reload. Keyed by the stable media resource id in the durable store area.
type PersistentState struct {
	MaxRetries       int      `json:"max_retries"`
	AutoRetryEnabled bool     `json:"auto_retry_enabled"`
	LastPromptValue  string   `json:"last_prompt_value"`
	VideoGoal        int      `json:"video_goal"`
	VideoGroup       []string `json:"video_group"` // ordered set of related resource ids
	OriginalMediaID  string   `json:"original_media_id"`
}

// InGroup reports whether id is a member of the video group
func (p *PersistentState) InGroup(id string) bool {
	for _, g := range p.VideoGroup {
		if g == id {
			return true
		}
	}
	return false
}

// AddToGroup appends id to the video group if not already present
func (p *PersistentState) AddToGroup(id string) {
	if !p.InGroup(id) {
		p.VideoGroup = append(p.VideoGroup, id)
	}
}

// ProgressRecord is one sampled progress point of an attempt
type ProgressRecord struct {
	Attempt    int       `json:"attempt"`
	Percent    int       `json:"percent"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SessionState holds the RetrySession fields scoped to one active session.
// Cleared at session end; keyed by the session key in the tab store area.
type SessionState struct {
	RetryCount      int              `json:"retry_count"`
	IsSessionActive bool             `json:"is_session_active"`
	VideosGenerated int              `json:"videos_generated"`
	LastAttemptTime time.Time        `json:"last_attempt_time"`
	LastFailureTime time.Time        `json:"last_failure_time"`
	CanRetry        bool             `json:"can_retry"` // single-use permission token
	AttemptProgress []ProgressRecord `json:"attempt_progress"`
	CreditsUsed     int              `json:"credits_used"`
	Layer1Failures  int              `json:"layer1_failures"`
	Layer2Failures  int              `json:"layer2_failures"`
	Layer3Failures  int              `json:"layer3_failures"`
}

// SessionSummary is the snapshot taken when a session ends
type SessionSummary struct {
	Outcome         SessionOutcome `json:"outcome"`
	RetryCount      int            `json:"retry_count"`
	VideosGenerated int            `json:"videos_generated"`
	CreditsUsed     int            `json:"credits_used"`
	Layer1Failures  int            `json:"layer1_failures"`
	Layer2Failures  int            `json:"layer2_failures"`
	Layer3Failures  int            `json:"layer3_failures"`
	EndedAt         time.Time      `json:"ended_at"`
}

// LogLevel is the level of a session log entry
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarn    LogLevel = "warn"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// LogEntry is one line of the bounded session log ring buffer
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}
