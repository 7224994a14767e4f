package codec

import (
	"strings"
	"testing"
)

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	if got := Decode(nil); got != "" {
		t.Fatalf("Decode(nil)=%q, want empty", got)
	}
	if got := Decode([]byte{}); got != "" {
		t.Fatalf("Decode([])=%q, want empty", got)
	}
}

func TestDecodeJSONPrettyPrints(t *testing.T) {
	t.Parallel()

	got := Decode([]byte(`{"b":1,"a":{"c":[1,2]}}`))
	want := "{\n  \"a\": {\n    \"c\": [\n      1,\n      2\n    ]\n  },\n  \"b\": 1\n}"
	if got != want {
		t.Fatalf("Decode json=%q, want %q", got, want)
	}
}

func TestDecodeMalformedJSONFallsBackToText(t *testing.T) {
	t.Parallel()

	body := `{"unterminated": `
	if got := Decode([]byte(body)); got != body {
		t.Fatalf("Decode=%q, want raw text %q", got, body)
	}
}

func TestDecodePlainText(t *testing.T) {
	t.Parallel()

	body := "plain text, not json"
	if got := Decode([]byte(body)); got != body {
		t.Fatalf("Decode=%q, want %q", got, body)
	}
}

func TestDecodeBinaryPlaceholder(t *testing.T) {
	t.Parallel()

	got := Decode([]byte{0xff, 0xfe, 0x00, 0x81})
	if !strings.Contains(got, "4 bytes") {
		t.Fatalf("Decode binary=%q, want placeholder naming 4 bytes", got)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	t.Parallel()

	body := []byte(`{"k":"v"}`)
	first := Decode(body)
	second := Decode(body)
	if first != second {
		t.Fatalf("Decode not deterministic: %q vs %q", first, second)
	}
}
