package intercept

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jason-merrell/grok-auto-retry/internal/util"
)

// Tap is a read-only observation layer over an http.RoundTripper. Responses
// whose request URL matches the conversation pattern are scanned
// incrementally as the caller consumes the body; responses matching the
// poll pattern are parsed once the body is fully read. The caller always
// receives the original bytes, and a tap failure never fails the request.
type Tap struct {
	base   http.RoundTripper
	proc   *Processor
	logger *slog.Logger

	conversationPattern string
	pollPattern         string
}

// Wrap decorates base with a tap. Wrapping is idempotent: an already
// wrapped transport is returned unchanged.
func Wrap(base http.RoundTripper, proc *Processor, conversationPattern, pollPattern string, logger *slog.Logger) *Tap {
	if t, ok := base.(*Tap); ok {
		return t
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Tap{
		base:                base,
		proc:                proc,
		logger:              logger,
		conversationPattern: conversationPattern,
		pollPattern:         pollPattern,
	}
}

// RoundTrip implements http.RoundTripper
func (t *Tap) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}

	url := req.URL.String()
	switch {
	case strings.Contains(url, t.conversationPattern):
		t.logger.Debug("Tapping conversation response", "url", util.TruncateString(url, 120))
		scanner := NewObjectScanner()
		resp.Body = &tapReader{
			inner: resp.Body,
			onChunk: func(chunk []byte) {
				scanner.Feed(chunk, t.proc.HandleConversationObject)
			},
		}
	case strings.Contains(url, t.pollPattern):
		t.logger.Debug("Tapping poll response", "url", util.TruncateString(url, 120))
		buf := getBuffer()
		resp.Body = &tapReader{
			inner:   resp.Body,
			onChunk: func(chunk []byte) { buf.Write(chunk) },
			onDone: func() {
				if err := t.proc.HandlePollDocument(buf.Bytes()); err != nil {
					t.logger.Warn("Poll response not parseable", "error", err)
				}
				putBuffer(buf)
			},
		}
	}
	return resp, nil
}

// tapReader forwards reads unchanged while feeding each chunk to onChunk.
// onDone fires exactly once, at EOF or Close, whichever comes first.
type tapReader struct {
	inner   io.ReadCloser
	onChunk func([]byte)
	onDone  func()
	once    sync.Once
}

func (r *tapReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 && r.onChunk != nil {
		r.onChunk(p[:n])
	}
	if err == io.EOF {
		r.finish()
	}
	return n, err
}

func (r *tapReader) Close() error {
	r.finish()
	return r.inner.Close()
}

func (r *tapReader) finish() {
	if r.onDone != nil {
		r.once.Do(r.onDone)
	}
}
