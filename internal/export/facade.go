// Package export gives read-only consumers (list screens, detail
// screens, exporters) a query surface over the log store.
package export

import (
	"strconv"
	"strings"

	"github.com/httptap/httptap/internal/entry"
	"github.com/httptap/httptap/internal/logstore"
)

// Facade wraps a log store and never mutates it.
type Facade struct {
	store *logstore.Store
}

func New(store *logstore.Store) *Facade {
	return &Facade{store: store}
}

// All returns every stored entry, oldest first.
func (f *Facade) All() []*entry.Entry {
	return f.store.All()
}

// Search returns the entries whose method, URL, or status contains
// text, case-insensitively. Empty text matches everything.
func (f *Facade) Search(text string) []*entry.Entry {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return f.store.All()
	}
	return f.store.Find(func(e *entry.Entry) bool {
		return matches(e, needle)
	})
}

// Entry looks up one entry by ID.
func (f *Facade) Entry(id string) (*entry.Entry, bool) {
	return f.store.Get(id)
}

// DecodedRequestBody returns the entry's request body as display
// text, decoding at most once.
func (f *Facade) DecodedRequestBody(e *entry.Entry) string {
	return e.DecodedRequestBody()
}

// DecodedResponseBody returns the entry's response body as display
// text, decoding at most once.
func (f *Facade) DecodedResponseBody(e *entry.Entry) string {
	return e.DecodedResponseBody()
}

func matches(e *entry.Entry, needle string) bool {
	if strings.Contains(strings.ToLower(e.Method), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(e.URL), needle) {
		return true
	}
	if e.StatusCode != 0 && strings.Contains(strconv.Itoa(e.StatusCode), needle) {
		return true
	}
	return false
}
