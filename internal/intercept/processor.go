package intercept

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jason-merrell/grok-auto-retry/internal/eventstore"
	"github.com/jason-merrell/grok-auto-retry/internal/util"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// Wire shapes for the conversation stream. Each streamed object carries one
// of the nested response variants; unknown variants are ignored.

type streamEnvelope struct {
	Result *streamResult `json:"result"`
}

type streamResult struct {
	Conversation *conversationInfo `json:"conversation"`
	Response     *responseVariants `json:"response"`
}

type conversationInfo struct {
	ConversationID string `json:"conversationId"`
}

type responseVariants struct {
	UserResponse  *userResponse  `json:"userResponse"`
	ModelResponse *modelResponse `json:"modelResponse"`
	VideoResponse *videoProgress `json:"streamingVideoGenerationResponse"`
}

type userResponse struct {
	ResponseID string       `json:"responseId"`
	Message    string       `json:"message"`
	Metadata   *requestMeta `json:"metadata"`
}

type requestMeta struct {
	RequestMetadata *requestMetadata `json:"requestMetadata"`
}

type requestMetadata struct {
	ParentPostID string `json:"parentPostId"`
}

type modelResponse struct {
	ResponseID string `json:"responseId"`
	Message    string `json:"message"`
}

type videoProgress struct {
	VideoID        string `json:"videoId"`
	ParentPostID   string `json:"parentPostId"`
	Progress       int    `json:"progress"`
	Moderated      bool   `json:"moderated"`
	Prompt         string `json:"prompt"`
	ImageReference string `json:"imageReference"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// Poll endpoint document: a flat list of posts with per-post metadata

type pollDocument struct {
	Posts []pollPost `json:"posts"`
}

type pollPost struct {
	Type     string       `json:"type"`
	PostID   string       `json:"postId"`
	Metadata pollMetadata `json:"metadata"`
}

type pollMetadata struct {
	Progress     int    `json:"progress"`
	ParentPostID string `json:"parentPostId"`
	Moderated    bool   `json:"moderated"`
	Prompt       string `json:"prompt"`
}

// Processor turns decoded wire objects into event store mutations. One
// processor serves all tapped responses; the parent id seen on the last
// prompt submission anchors assistant events that arrive without one.
type Processor struct {
	store  *eventstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	conversationID string
	lastParentID   string
}

// NewProcessor creates a processor writing into store
func NewProcessor(store *eventstore.Store, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger, now: time.Now}
}

// HandleConversationObject processes one complete streamed JSON object.
// Parse failures are logged and skipped; the stream keeps flowing.
func (p *Processor) HandleConversationObject(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("Failed to parse stream object",
			"error", err,
			"object", util.TruncateString(string(raw), 200))
		return
	}
	if env.Result == nil {
		return
	}

	if env.Result.Conversation != nil {
		p.handleConversationStart(env.Result.Conversation)
	}
	if env.Result.Response == nil {
		return
	}
	if ur := env.Result.Response.UserResponse; ur != nil {
		p.handleUserResponse(ur)
	}
	if mr := env.Result.Response.ModelResponse; mr != nil {
		p.handleModelResponse(mr)
	}
	if vp := env.Result.Response.VideoResponse; vp != nil {
		p.handleVideoProgress(vp)
	}
}

// HandlePollDocument processes one whole poll/list response body,
// dispatching each post entry individually
func (p *Processor) HandlePollDocument(raw []byte) error {
	var doc pollDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse poll document: %w", err)
	}

	for _, post := range doc.Posts {
		if post.PostID == "" {
			continue
		}
		p.handleVideoProgress(&videoProgress{
			VideoID:      post.PostID,
			ParentPostID: post.Metadata.ParentPostID,
			Progress:     post.Metadata.Progress,
			Moderated:    post.Metadata.Moderated,
			Prompt:       post.Metadata.Prompt,
		})
	}
	return nil
}

func (p *Processor) handleConversationStart(c *conversationInfo) {
	if c.ConversationID == "" {
		return
	}
	p.mu.Lock()
	previous := p.conversationID
	p.conversationID = c.ConversationID
	p.mu.Unlock()

	if previous != "" && previous != c.ConversationID {
		// A new conversation means the old attempts can never resolve.
		p.store.Reset()
		p.logger.Info("Conversation changed, dropping stale state",
			"previous", previous,
			"conversation_id", c.ConversationID)
	}

	p.logger.Debug("Conversation started", "conversation_id", c.ConversationID)
	p.store.Mutate(func(eventstore.Snapshot) *eventstore.Patch {
		return &eventstore.Patch{LastEvent: "conversationStart"}
	})
}

func (p *Processor) handleUserResponse(ur *userResponse) {
	parentID := ""
	if ur.Metadata != nil && ur.Metadata.RequestMetadata != nil {
		parentID = ur.Metadata.RequestMetadata.ParentPostID
	}
	if parentID == "" {
		parentID = ur.ResponseID
	}
	if parentID == "" {
		return
	}

	p.mu.Lock()
	p.lastParentID = parentID
	p.mu.Unlock()

	now := p.now()
	p.store.Mutate(func(snap eventstore.Snapshot) *eventstore.Patch {
		parent := snap.Parents[parentID]
		next := cloneParent(parent, parentID)
		next.PromptText = ur.Message
		next.LastUserEventID = ur.ResponseID
		next.LastUpdate = now
		return &eventstore.Patch{
			Parents:   map[string]*models.ParentSession{parentID: next},
			LastEvent: "promptSubmission",
		}
	})
}

func (p *Processor) handleModelResponse(mr *modelResponse) {
	p.mu.Lock()
	parentID := p.lastParentID
	p.mu.Unlock()
	if parentID == "" {
		return
	}

	now := p.now()
	p.store.Mutate(func(snap eventstore.Snapshot) *eventstore.Patch {
		parent := snap.Parents[parentID]
		next := cloneParent(parent, parentID)
		next.LastAssistantEventID = mr.ResponseID
		next.LastUpdate = now
		return &eventstore.Patch{
			Parents:   map[string]*models.ParentSession{parentID: next},
			LastEvent: "assistantMessage",
		}
	})
}

func (p *Processor) handleVideoProgress(vp *videoProgress) {
	if vp.VideoID == "" {
		return
	}

	parentID := vp.ParentPostID
	if parentID == "" {
		p.mu.Lock()
		parentID = p.lastParentID
		p.mu.Unlock()
	}

	now := p.now()
	p.store.Mutate(func(snap eventstore.Snapshot) *eventstore.Patch {
		prev := snap.Videos[vp.VideoID]

		next := &models.VideoAttempt{
			AttemptID:  vp.VideoID,
			ParentID:   parentID,
			Progress:   clampProgress(vp.Progress),
			Moderated:  vp.Moderated,
			Prompt:     vp.Prompt,
			ImageRef:   vp.ImageReference,
			Width:      vp.Width,
			Height:     vp.Height,
			LastUpdate: now,
		}
		// Flags only latch on: a later poll entry without the moderated
		// flag must not unmoderate an attempt.
		if prev != nil {
			if prev.Moderated {
				next.Moderated = true
			}
			if next.Prompt == "" {
				next.Prompt = prev.Prompt
			}
			if next.ParentID == "" {
				next.ParentID = prev.ParentID
			}
			if next.Progress < prev.Progress {
				next.Progress = prev.Progress
			}
		}

		patch := &eventstore.Patch{
			Videos:    map[string]*models.VideoAttempt{vp.VideoID: next},
			LastEvent: "videoProgress",
		}

		if next.ParentID != "" {
			parent := cloneParent(snap.Parents[next.ParentID], next.ParentID)
			if !containsString(parent.AttemptIDs, vp.VideoID) {
				parent.AttemptIDs = append(parent.AttemptIDs, vp.VideoID)
			}
			parent.LastUpdate = now
			patch.Parents = map[string]*models.ParentSession{next.ParentID: parent}
		}
		return patch
	})
}

// cloneParent copies a parent session for copy-on-write mutation, creating
// an empty one if it was never seen
func cloneParent(p *models.ParentSession, parentID string) *models.ParentSession {
	if p == nil {
		return &models.ParentSession{ParentID: parentID}
	}
	next := *p
	next.AttemptIDs = append([]string(nil), p.AttemptIDs...)
	return &next
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
