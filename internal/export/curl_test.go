package export

import (
	"net/http"
	"strings"
	"testing"

	"github.com/httptap/httptap/internal/entry"
)

func TestToCurlSimpleGet(t *testing.T) {
	t.Parallel()

	e := &entry.Entry{Method: "GET", URL: "https://example.com/path"}
	got := ToCurl(e)
	want := "curl https://example.com/path"
	if got != want {
		t.Fatalf("ToCurl=%q, want %q", got, want)
	}
}

func TestToCurlPostWithHeadersAndBody(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer token123")
	e := &entry.Entry{
		Method:         "POST",
		URL:            "https://api.example.com/items?x=1&y=2",
		RequestHeaders: h,
		RequestBody:    []byte(`{"name":"a"}`),
	}

	got := ToCurl(e)
	if !strings.HasPrefix(got, "curl -X POST ") {
		t.Fatalf("ToCurl=%q, want -X POST prefix", got)
	}
	// Headers render in sorted key order for stable output.
	auth := strings.Index(got, "-H 'Authorization: Bearer token123'")
	ct := strings.Index(got, "-H 'Content-Type: application/json'")
	if auth == -1 || ct == -1 || auth > ct {
		t.Fatalf("headers missing or unordered in %q", got)
	}
	if !strings.Contains(got, "-d '") {
		t.Fatalf("body flag missing in %q", got)
	}
	if !strings.HasSuffix(got, "'https://api.example.com/items?x=1&y=2'") {
		t.Fatalf("URL not quoted at end of %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("command is not single-line: %q", got)
	}
}

func TestToCurlSendsRawCapturedBody(t *testing.T) {
	t.Parallel()

	// Compact JSON must be replayed byte-for-byte, not re-indented
	// the way the detail view renders it.
	e := &entry.Entry{
		Method:      "POST",
		URL:         "https://example.com",
		RequestBody: []byte(`{"name":"a","nested":{"k":1}}`),
	}
	got := ToCurl(e)
	if !strings.Contains(got, `-d '{"name":"a","nested":{"k":1}}'`) {
		t.Fatalf("body not rendered verbatim in %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("command is not single-line: %q", got)
	}
}

func TestToCurlQuotesSingleQuotes(t *testing.T) {
	t.Parallel()

	e := &entry.Entry{
		Method:      "POST",
		URL:         "https://example.com",
		RequestBody: []byte("it's quoted"),
	}
	got := ToCurl(e)
	if !strings.Contains(got, `-d 'it'\''s quoted'`) {
		t.Fatalf("single quote not spliced in %q", got)
	}
}

func TestToCurlDuplicateHeaderValues(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")
	e := &entry.Entry{Method: "GET", URL: "https://example.com", RequestHeaders: h}

	got := ToCurl(e)
	first := strings.Index(got, "-H 'Accept: application/json'")
	second := strings.Index(got, "-H 'Accept: text/plain'")
	if first == -1 || second == -1 || first > second {
		t.Fatalf("duplicate headers lost or reordered in %q", got)
	}
}

func TestToCurlEmptyEntryNeverFails(t *testing.T) {
	t.Parallel()

	got := ToCurl(&entry.Entry{})
	if !strings.HasPrefix(got, "curl") {
		t.Fatalf("ToCurl on zero entry = %q", got)
	}
}

func TestToCurlBinaryBodyFallsBackToPlaceholder(t *testing.T) {
	t.Parallel()

	e := &entry.Entry{
		Method:      "POST",
		URL:         "https://example.com",
		RequestBody: []byte{0xff, 0xfe, 0x01},
	}
	got := ToCurl(e)
	if !strings.Contains(got, "3 bytes") {
		t.Fatalf("binary body placeholder missing in %q", got)
	}
}

func TestToCurlDeterministic(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("B-Header", "2")
	h.Set("A-Header", "1")
	h.Set("C-Header", "3")
	e := &entry.Entry{Method: "GET", URL: "https://example.com", RequestHeaders: h}

	first := ToCurl(e)
	for i := 0; i < 20; i++ {
		if got := ToCurl(e); got != first {
			t.Fatalf("output varies across renders: %q vs %q", got, first)
		}
	}
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain-safe_1.0:/@", "plain-safe_1.0:/@"},
		{"has space", "'has space'"},
		{"semi;colon", "'semi;colon'"},
		{"a'b", `'a'\''b'`},
		{"$HOME", "'$HOME'"},
		{"back`tick", "'back`tick'"},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.in); got != tc.want {
			t.Fatalf("shellQuote(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
