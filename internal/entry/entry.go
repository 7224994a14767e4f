// Package entry defines the finalized record of a single observed
// HTTP exchange.
package entry

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/httptap/httptap/internal/codec"
)

// Entry is the immutable record of one finished exchange. Fields that
// were never observed keep their zero value: StatusCode 0 means no
// response arrived, an empty Failure means the exchange did not fail.
// Entries are shared across goroutines after finalization, so nothing
// may mutate them; the decoded-body cache is the only lazy state and
// is guarded by sync.Once.
type Entry struct {
	ID      string
	Method  string
	URL     string
	Failure string

	RequestHeaders  http.Header
	ResponseHeaders http.Header

	RequestBody           []byte
	ResponseBody          []byte
	RequestBodyTruncated  bool
	ResponseBodyTruncated bool

	StatusCode  int
	StartedAt   time.Time
	CompletedAt time.Time

	reqDecodeOnce  sync.Once
	reqDecoded     string
	respDecodeOnce sync.Once
	respDecoded    string
}

// NewID returns a stable identifier for a finalized entry, distinct
// from the ephemeral exchange ID used during correlation.
func NewID() string {
	return uuid.NewString()
}

// Failed reports whether the exchange ended in a transport failure.
func (e *Entry) Failed() bool {
	return e.Failure != ""
}

// HasResponse reports whether any response status was observed.
func (e *Entry) HasResponse() bool {
	return e.StatusCode != 0
}

// Duration returns the elapsed time between start and completion. The
// second return is false when either timestamp is missing.
func (e *Entry) Duration() (time.Duration, bool) {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0, false
	}
	return e.CompletedAt.Sub(e.StartedAt), true
}

// DecodedRequestBody returns the request body as display text. The
// decode runs once and the result is cached; concurrent callers get
// the same string.
func (e *Entry) DecodedRequestBody() string {
	e.reqDecodeOnce.Do(func() {
		e.reqDecoded = codec.Decode(e.RequestBody)
	})
	return e.reqDecoded
}

// DecodedResponseBody returns the response body as display text,
// cached the same way as DecodedRequestBody.
func (e *Entry) DecodedResponseBody() string {
	e.respDecodeOnce.Do(func() {
		e.respDecoded = codec.Decode(e.ResponseBody)
	})
	return e.respDecoded
}
