package export

import (
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/httptap/httptap/internal/entry"
)

// ToCurl renders an entry as a single curl command a developer can
// paste into a shell to replay the request. Rendering never fails:
// missing fields are skipped and a body that is not valid text falls
// back to its decoded placeholder.
func ToCurl(e *entry.Entry) string {
	parts := []string{"curl"}

	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		parts = append(parts, "-X", shellQuote(method))
	}

	for _, k := range sortedHeaderKeys(e.RequestHeaders) {
		for _, v := range e.RequestHeaders[k] {
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	if len(e.RequestBody) > 0 {
		parts = append(parts, "-d", shellQuote(bodyArgument(e)))
	}

	parts = append(parts, shellQuote(e.URL))
	return strings.Join(parts, " ")
}

// bodyArgument returns the exact captured bytes when they are valid
// text, so replaying the command sends what the host sent rather than
// a re-formatted rendering. Binary bodies degrade to the decoded
// placeholder.
func bodyArgument(e *entry.Entry) string {
	if utf8.Valid(e.RequestBody) {
		return string(e.RequestBody)
	}
	return e.DecodedRequestBody()
}

// sortedHeaderKeys fixes the header order so the same entry always
// renders the same command.
func sortedHeaderKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shellQuote wraps s in POSIX single quotes, splicing embedded single
// quotes, so any byte sequence survives the shell unmodified.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:@%+=", r):
		default:
			return false
		}
	}
	return true
}
