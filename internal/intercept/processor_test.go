package intercept

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jason-merrell/grok-auto-retry/internal/eventstore"
	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

func newTestProcessor() (*Processor, *eventstore.Store) {
	store := eventstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessor(store, logger), store
}

func TestUserResponseCreatesParent(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{
		"result":{"response":{"userResponse":{
			"responseId":"u1",
			"message":"a cat surfing",
			"metadata":{"requestMetadata":{"parentPostId":"p1"}}
		}}}
	}`))

	snap := store.Snapshot()
	parent, ok := snap.Parents["p1"]
	if !ok {
		t.Fatal("expected parent p1")
	}
	if parent.PromptText != "a cat surfing" {
		t.Errorf("unexpected prompt: %q", parent.PromptText)
	}
	if parent.LastUserEventID != "u1" {
		t.Errorf("unexpected user event id: %q", parent.LastUserEventID)
	}
	if snap.LastEvent != "promptSubmission" {
		t.Errorf("unexpected last event: %q", snap.LastEvent)
	}
}

func TestModelResponseAnchorsToLastParent(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result":{"response":{"userResponse":{
		"responseId":"u1","message":"x",
		"metadata":{"requestMetadata":{"parentPostId":"p1"}}}}}}`))
	proc.HandleConversationObject([]byte(`{"result":{"response":{"modelResponse":{
		"responseId":"m1","message":"working on it"}}}}`))

	parent := store.Snapshot().Parents["p1"]
	if parent.LastAssistantEventID != "m1" {
		t.Errorf("expected assistant event anchored to p1, got %q", parent.LastAssistantEventID)
	}
}

func TestVideoProgressUpsertsAttempt(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":40,"moderated":false,"prompt":"a cat"}}}}`))
	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":80}}}}`))

	snap := store.Snapshot()
	v := snap.Videos["v1"]
	if v == nil {
		t.Fatal("expected attempt v1")
	}
	if v.Progress != 80 {
		t.Errorf("expected progress 80, got %d", v.Progress)
	}
	if v.Prompt != "a cat" {
		t.Errorf("prompt should carry forward, got %q", v.Prompt)
	}
	if v.Status() != models.AttemptRunning {
		t.Errorf("expected running, got %s", v.Status())
	}

	parent := snap.Parents["p1"]
	if parent == nil || len(parent.AttemptIDs) != 1 || parent.AttemptIDs[0] != "v1" {
		t.Errorf("expected parent p1 with attempt list [v1], got %+v", parent)
	}
}

func TestModeratedFlagLatches(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":100,"moderated":true}}}}`))
	// Later poll entry without the flag must not unmoderate
	if err := proc.HandlePollDocument([]byte(`{"posts":[
		{"type":"VIDEO","postId":"v1","metadata":{"progress":100,"parentPostId":"p1"}}
	]}`)); err != nil {
		t.Fatal(err)
	}

	v := store.Snapshot().Videos["v1"]
	if !v.Moderated || v.Status() != models.AttemptModerated {
		t.Errorf("moderated flag must latch, got moderated=%v status=%s", v.Moderated, v.Status())
	}
}

func TestConversationChangeResetsStore(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result":{"conversation":{"conversationId":"c1"}}}`))
	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":40}}}}`))
	proc.HandleConversationObject([]byte(`{"result":{"conversation":{"conversationId":"c2"}}}`))

	snap := store.Snapshot()
	if len(snap.Videos) != 0 || len(snap.Parents) != 0 {
		t.Errorf("expected empty store after conversation change, got %d videos %d parents",
			len(snap.Videos), len(snap.Parents))
	}

	// Re-announcing the same conversation must not reset.
	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v2","parentPostId":"p2","progress":10}}}}`))
	proc.HandleConversationObject([]byte(`{"result":{"conversation":{"conversationId":"c2"}}}`))
	if len(store.Snapshot().Videos) != 1 {
		t.Error("repeated conversation id must not drop state")
	}
}

func TestPollDocumentDispatchesEachPost(t *testing.T) {
	proc, store := newTestProcessor()

	err := proc.HandlePollDocument([]byte(`{"posts":[
		{"type":"VIDEO","postId":"v1","metadata":{"progress":10,"parentPostId":"p1"}},
		{"type":"VIDEO","postId":"v2","metadata":{"progress":100,"parentPostId":"p1","moderated":true}},
		{"type":"VIDEO","postId":"","metadata":{}}
	]}`))
	if err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	if len(snap.Videos) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(snap.Videos))
	}
	if snap.Videos["v2"].Status() != models.AttemptModerated {
		t.Errorf("expected v2 moderated, got %s", snap.Videos["v2"].Status())
	}
	parent := snap.Parents["p1"]
	if len(parent.AttemptIDs) != 2 {
		t.Errorf("expected 2 attempt ids on parent, got %v", parent.AttemptIDs)
	}
}

func TestMalformedObjectSkipped(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result": not json`))
	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":5}}}}`))

	if store.Snapshot().Videos["v1"] == nil {
		t.Error("stream must survive a malformed object")
	}
}

func TestProgressClamped(t *testing.T) {
	proc, store := newTestProcessor()

	proc.HandleConversationObject([]byte(`{"result":{"response":{"streamingVideoGenerationResponse":{
		"videoId":"v1","parentPostId":"p1","progress":150}}}}`))

	if got := store.Snapshot().Videos["v1"].Progress; got != 100 {
		t.Errorf("expected clamped progress 100, got %d", got)
	}
}
