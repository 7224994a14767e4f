// Package correlate assembles asynchronous interception events into
// finalized exchange entries.
package correlate

import (
	"net/http"
	"time"

	"github.com/httptap/httptap/internal/entry"
)

// DefaultMaxBodySize bounds how much of each body an entry retains.
const DefaultMaxBodySize = 1 << 20

// exchange accumulates the fragments of one in-flight exchange until
// it is finished or failed.
type exchange struct {
	method            string
	url               string
	requestHeaders    http.Header
	requestBody       []byte
	requestTruncated  bool
	responseHeaders   http.Header
	responseBody      []byte
	responseTruncated bool
	statusCode        int
	startedAt         time.Time
}

// Table maps ephemeral exchange IDs to in-flight accumulators. Table
// is not safe for concurrent use; Pipeline serializes all access
// through its worker goroutine.
type Table struct {
	inflight map[string]*exchange
	maxBody  int
}

// NewTable builds a table that retains at most maxBodySize bytes per
// body. Zero or negative selects DefaultMaxBodySize.
func NewTable(maxBodySize int) *Table {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Table{
		inflight: make(map[string]*exchange),
		maxBody:  maxBodySize,
	}
}

// Begin opens an accumulator for id. A duplicate Begin for an id still
// in flight discards the earlier accumulator: the newest writer wins.
// A body longer than the table limit is kept truncated and flagged.
func (t *Table) Begin(id, method, url string, headers http.Header, body []byte, at time.Time) {
	t.inflight[id] = &exchange{
		method:           method,
		url:              url,
		requestHeaders:   headers,
		requestBody:      limitBytes(body, t.maxBody),
		requestTruncated: len(body) > t.maxBody,
		startedAt:        at,
	}
}

// AppendData records response fragments for id. The first non-zero
// status and the first non-nil headers win; body chunks concatenate in
// arrival order up to the table limit. Unknown ids are ignored.
func (t *Table) AppendData(id string, status int, headers http.Header, chunk []byte) {
	x, ok := t.inflight[id]
	if !ok {
		return
	}
	if x.statusCode == 0 && status != 0 {
		x.statusCode = status
	}
	if x.responseHeaders == nil && headers != nil {
		x.responseHeaders = headers
	}

	remaining := t.maxBody - len(x.responseBody)
	if remaining <= 0 {
		if len(chunk) > 0 {
			x.responseTruncated = true
		}
		return
	}
	if len(chunk) > remaining {
		x.responseTruncated = true
		chunk = chunk[:remaining]
	}
	if len(chunk) > 0 {
		x.responseBody = append(x.responseBody, chunk...)
	}
}

// Finish finalizes id into an Entry and removes it from the table.
// The second return is false when id is unknown, which includes a
// second Finish or Fail for the same id.
func (t *Table) Finish(id string, at time.Time) (*entry.Entry, bool) {
	x, ok := t.inflight[id]
	if !ok {
		return nil, false
	}
	delete(t.inflight, id)
	return x.finalize("", at), true
}

// Fail finalizes id with a failure reason and removes it from the
// table. Unknown ids return false.
func (t *Table) Fail(id, reason string, at time.Time) (*entry.Entry, bool) {
	x, ok := t.inflight[id]
	if !ok {
		return nil, false
	}
	delete(t.inflight, id)
	return x.finalize(reason, at), true
}

// InFlight returns the number of open accumulators.
func (t *Table) InFlight() int {
	return len(t.inflight)
}

// finalize builds the immutable Entry. Fragments that never arrived
// keep their zero values rather than turning into errors.
func (x *exchange) finalize(failure string, at time.Time) *entry.Entry {
	return &entry.Entry{
		ID:                    entry.NewID(),
		Method:                x.method,
		URL:                   x.url,
		Failure:               failure,
		RequestHeaders:        x.requestHeaders,
		ResponseHeaders:       x.responseHeaders,
		RequestBody:           x.requestBody,
		ResponseBody:          x.responseBody,
		RequestBodyTruncated:  x.requestTruncated,
		ResponseBodyTruncated: x.responseTruncated,
		StatusCode:            x.statusCode,
		StartedAt:             x.startedAt,
		CompletedAt:           at,
	}
}

func limitBytes(data []byte, max int) []byte {
	if data == nil {
		return nil
	}
	if len(data) > max {
		data = data[:max]
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied
}
