package entry

import (
	"sync"
	"testing"
	"time"
)

func TestNewIDUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("NewID returned empty string")
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDurationIncomplete(t *testing.T) {
	t.Parallel()

	e := &Entry{StartedAt: time.Now()}
	if d, ok := e.Duration(); ok || d != 0 {
		t.Fatalf("Duration()=(%v,%v), want (0,false) without completion", d, ok)
	}

	e = &Entry{CompletedAt: time.Now()}
	if d, ok := e.Duration(); ok || d != 0 {
		t.Fatalf("Duration()=(%v,%v), want (0,false) without start", d, ok)
	}
}

func TestDurationComplete(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &Entry{StartedAt: start, CompletedAt: start.Add(250 * time.Millisecond)}
	d, ok := e.Duration()
	if !ok {
		t.Fatal("Duration()=(_,false), want true")
	}
	if d != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", d)
	}
}

func TestHasResponse(t *testing.T) {
	t.Parallel()

	if (&Entry{}).HasResponse() {
		t.Fatal("HasResponse()=true for zero status")
	}
	if !(&Entry{StatusCode: 404}).HasResponse() {
		t.Fatal("HasResponse()=false for status 404")
	}
}

func TestDecodedBodiesCached(t *testing.T) {
	t.Parallel()

	e := &Entry{
		RequestBody:  []byte(`{"a":1}`),
		ResponseBody: []byte("plain"),
	}
	first := e.DecodedRequestBody()
	if first != "{\n  \"a\": 1\n}" {
		t.Fatalf("DecodedRequestBody()=%q", first)
	}
	// Mutating the raw bytes must not change the cached decode.
	e.RequestBody[2] = 'x'
	if got := e.DecodedRequestBody(); got != first {
		t.Fatalf("cached decode changed: %q vs %q", got, first)
	}
	if got := e.DecodedResponseBody(); got != "plain" {
		t.Fatalf("DecodedResponseBody()=%q, want %q", got, "plain")
	}
}

func TestDecodedBodyConcurrent(t *testing.T) {
	t.Parallel()

	e := &Entry{RequestBody: []byte(`{"n":42}`)}
	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.DecodedRequestBody()
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		if got != results[0] {
			t.Fatalf("goroutine %d saw %q, others saw %q", i, got, results[0])
		}
	}
}
