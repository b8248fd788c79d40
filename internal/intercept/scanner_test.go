package intercept

import "testing"

func feedAll(s *ObjectScanner, chunks []string) []string {
	var out []string
	for _, c := range chunks {
		s.Feed([]byte(c), func(obj []byte) {
			out = append(out, string(obj))
		})
	}
	return out
}

func TestScannerWholeObject(t *testing.T) {
	got := feedAll(NewObjectScanner(), []string{`{"a":1}`})
	if len(got) != 1 || got[0] != `{"a":1}` {
		t.Errorf("unexpected objects: %v", got)
	}
}

func TestScannerSplitAcrossChunks(t *testing.T) {
	got := feedAll(NewObjectScanner(), []string{`{"a":{"b"`, `:"c"},"d":`, `2}`})
	if len(got) != 1 || got[0] != `{"a":{"b":"c"},"d":2}` {
		t.Errorf("unexpected objects: %v", got)
	}
}

func TestScannerMultipleObjectsPerChunk(t *testing.T) {
	got := feedAll(NewObjectScanner(), []string{`{"a":1}{"b":2}` + "\n" + `{"c":3}`})
	if len(got) != 3 {
		t.Fatalf("expected 3 objects, got %d: %v", len(got), got)
	}
	if got[1] != `{"b":2}` {
		t.Errorf("unexpected second object: %s", got[1])
	}
}

func TestScannerBracesInsideStrings(t *testing.T) {
	// Structural tracking must ignore braces and escaped quotes in strings
	input := `{"msg":"a } brace and \" quote and {{"}`
	got := feedAll(NewObjectScanner(), []string{input})
	if len(got) != 1 || got[0] != input {
		t.Errorf("unexpected objects: %v", got)
	}
}

func TestScannerEscapeAtChunkBoundary(t *testing.T) {
	got := feedAll(NewObjectScanner(), []string{`{"msg":"a\`, `"}b"}`})
	if len(got) != 1 || got[0] != `{"msg":"a\"}b"}` {
		t.Errorf("unexpected objects: %v", got)
	}
}

func TestScannerIgnoresInterstitialBytes(t *testing.T) {
	got := feedAll(NewObjectScanner(), []string{"  \n[,]", `{"a":1}`, "garbage", `{"b":2}`})
	if len(got) != 2 {
		t.Errorf("expected 2 objects, got %v", got)
	}
}

func TestScannerPendingAndReset(t *testing.T) {
	s := NewObjectScanner()
	s.Feed([]byte(`{"open":`), func([]byte) {
		t.Error("incomplete object must not emit")
	})
	if !s.Pending() {
		t.Error("expected pending state mid-object")
	}
	s.Reset()
	if s.Pending() {
		t.Error("expected clean state after reset")
	}

	got := feedAll(s, []string{`{"b":2}`})
	if len(got) != 1 {
		t.Errorf("scanner unusable after reset: %v", got)
	}
}
