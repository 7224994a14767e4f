// Package persist offers opt-in durable storage for finalized
// exchange entries. Nothing here runs unless the host configures a
// storage driver.
package persist

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/httptap/httptap/internal/entry"
)

// Record is the storage-ready form of an entry: headers flattened to
// JSON, duration precomputed.
type Record struct {
	ID              string
	Method          string
	URL             string
	RequestHeaders  string
	RequestBody     []byte
	ResponseStatus  int
	ResponseHeaders string
	ResponseBody    []byte
	Failure         string
	DurationMS      int64
	StartedAt       time.Time
	CompletedAt     time.Time
	CreatedAt       time.Time
}

// FromEntry flattens a finalized entry into a Record.
func FromEntry(e *entry.Entry) *Record {
	if e == nil {
		return nil
	}
	r := &Record{
		ID:              e.ID,
		Method:          e.Method,
		URL:             e.URL,
		RequestHeaders:  headersToJSON(e.RequestHeaders),
		RequestBody:     e.RequestBody,
		ResponseStatus:  e.StatusCode,
		ResponseHeaders: headersToJSON(e.ResponseHeaders),
		ResponseBody:    e.ResponseBody,
		Failure:         e.Failure,
		StartedAt:       e.StartedAt.UTC(),
		CompletedAt:     e.CompletedAt.UTC(),
		CreatedAt:       time.Now().UTC(),
	}
	if d, ok := e.Duration(); ok {
		r.DurationMS = d.Milliseconds()
	}
	return r
}

func headersToJSON(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(data)
}
