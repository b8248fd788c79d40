package intercept

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

const (
	testConversationPattern = "/rest/app-chat/conversations/"
	testPollPattern         = "/rest/media/post/list"
)

func newTestTap() (*Tap, *Processor, *httptest.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/app-chat/conversations/new", func(w http.ResponseWriter, r *http.Request) {
		// Chat-style stream: one JSON object per line
		io.WriteString(w, `{"result":{"conversation":{"conversationId":"c1"}}}`+"\n")
		io.WriteString(w, `{"result":{"response":{"userResponse":{"responseId":"u1","message":"a dog","metadata":{"requestMetadata":{"parentPostId":"p1"}}}}}}`+"\n")
		io.WriteString(w, `{"result":{"response":{"streamingVideoGenerationResponse":{"videoId":"v1","parentPostId":"p1","progress":100,"moderated":true}}}}`+"\n")
	})
	mux.HandleFunc("/rest/media/post/list", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"posts":[{"type":"VIDEO","postId":"v9","metadata":{"progress":55,"parentPostId":"p2"}}]}`)
	})
	mux.HandleFunc("/unrelated", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"hello":"world"}`)
	})
	server := httptest.NewServer(mux)

	proc, _ := newTestProcessor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tap := Wrap(http.DefaultTransport, proc, testConversationPattern, testPollPattern, logger)
	return tap, proc, server
}

func TestTapConversationStream(t *testing.T) {
	tap, proc, server := newTestTap()
	defer server.Close()

	client := &http.Client{Transport: tap}
	resp, err := client.Get(server.URL + "/rest/app-chat/conversations/new")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	// The page still receives the unmodified stream
	if len(body) == 0 || body[0] != '{' {
		t.Error("original body must pass through untouched")
	}

	snap := proc.store.Snapshot()
	if snap.Parents["p1"] == nil {
		t.Fatal("expected parent p1 recovered from stream")
	}
	v := snap.Videos["v1"]
	if v == nil || v.Status() != models.AttemptModerated {
		t.Errorf("expected moderated attempt v1, got %+v", v)
	}
}

func TestTapPollResponse(t *testing.T) {
	tap, proc, server := newTestTap()
	defer server.Close()

	client := &http.Client{Transport: tap}
	resp, err := client.Get(server.URL + "/rest/media/post/list")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	v := proc.store.Snapshot().Videos["v9"]
	if v == nil || v.Progress != 55 {
		t.Errorf("expected poll-observed attempt v9 at 55%%, got %+v", v)
	}
}

func TestTapIgnoresUnmatchedURLs(t *testing.T) {
	tap, proc, server := newTestTap()
	defer server.Close()

	client := &http.Client{Transport: tap}
	resp, err := client.Get(server.URL + "/unrelated")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if v := proc.store.Snapshot().Version; v != 0 {
		t.Errorf("unmatched URL must not touch the store, version %d", v)
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	tap, _, server := newTestTap()
	defer server.Close()

	again := Wrap(tap, nil, "x", "y", nil)
	if again != tap {
		t.Error("wrapping a tap must return the same tap")
	}
}
