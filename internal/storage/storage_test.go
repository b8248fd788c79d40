package storage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestBadger(t *testing.T) *BadgerArea {
	t.Helper()
	area, err := OpenBadger(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	t.Cleanup(func() { area.Close() })
	return area
}

func testAreas(t *testing.T) map[string]Area {
	return map[string]Area{
		"badger": openTestBadger(t),
		"cache":  NewCacheArea(time.Hour),
	}
}

func TestAreaRoundTrip(t *testing.T) {
	for name, area := range testAreas(t) {
		t.Run(name, func(t *testing.T) {
			if err := area.Set(map[string][]byte{
				"session/a": []byte("one"),
				"session/b": []byte("two"),
			}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			got, err := area.Get("session/a", "session/b", "session/missing")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			want := map[string][]byte{
				"session/a": []byte("one"),
				"session/b": []byte("two"),
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			if err := area.Delete("session/a", "session/never-existed"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			got, err = area.Get("session/a")
			if err != nil {
				t.Fatalf("Get after delete failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected empty result after delete, got %v", got)
			}
		})
	}
}

func TestAreaOnChange(t *testing.T) {
	for name, area := range testAreas(t) {
		t.Run(name, func(t *testing.T) {
			var changed []string
			unsub := area.OnChange(func(key string) {
				changed = append(changed, key)
			})

			if err := area.Set(map[string][]byte{"k1": []byte("v")}); err != nil {
				t.Fatal(err)
			}
			if err := area.Delete("k1"); err != nil {
				t.Fatal(err)
			}
			unsub()
			if err := area.Set(map[string][]byte{"k2": []byte("v")}); err != nil {
				t.Fatal(err)
			}

			want := []string{"k1", "k1"}
			if diff := cmp.Diff(want, changed); diff != "" {
				t.Errorf("change notifications mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBadgerKeysPrefix(t *testing.T) {
	area := openTestBadger(t)
	if err := area.Set(map[string][]byte{
		"session/a": []byte("1"),
		"session/b": []byte("1"),
		"other/c":   []byte("1"),
	}); err != nil {
		t.Fatal(err)
	}

	keys, err := area.Keys("session/")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestJSONHelpers(t *testing.T) {
	area := NewCacheArea(time.Hour)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := SetJSON(area, "p", payload{Name: "x", Count: 3}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got payload
	ok, err := GetJSON(area, "p", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON failed: ok=%v err=%v", ok, err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("unexpected payload: %+v", got)
	}

	ok, err = GetJSON(area, "absent", &got)
	if err != nil {
		t.Fatalf("GetJSON absent key errored: %v", err)
	}
	if ok {
		t.Error("expected ok=false for absent key")
	}
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	area, err := OpenBadger(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := area.Set(map[string][]byte{"persist": []byte("yes")}); err != nil {
		t.Fatal(err)
	}
	if err := area.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBadger(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get("persist")
	if err != nil {
		t.Fatal(err)
	}
	if string(got["persist"]) != "yes" {
		t.Errorf("expected persisted value after reopen, got %v", got)
	}
}
