// Package codec renders captured HTTP bodies as human-readable text.
package codec

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Decode converts a raw body into display text. JSON payloads are
// pretty-printed, other valid UTF-8 passes through unchanged, and
// binary data degrades to a placeholder naming the byte count. Decode
// never fails.
func Decode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if pretty, ok := prettyJSON(data); ok {
		return pretty
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return fmt.Sprintf("<binary body, %d bytes>", len(data))
}

func prettyJSON(data []byte) (string, bool) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}
