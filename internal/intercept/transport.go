package intercept

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxBodySize bounds captured bytes per body.
const DefaultMaxBodySize = 1 << 20

// Options tunes what the transport captures.
type Options struct {
	// CaptureBodies controls whether request and response bodies are
	// reported. Status and headers are always reported.
	CaptureBodies bool
	// MaxBodySize bounds captured bytes per body. Zero or less selects
	// DefaultMaxBodySize.
	MaxBodySize int
	// RedactHeaders lists header names (case-insensitive) whose values
	// are replaced before they reach the observer.
	RedactHeaders []string
}

const redactedValue = "[REDACTED]"

// Transport wraps an http.RoundTripper and reports every exchange to
// a NetworkObserver. Observation is strictly passive: requests and
// responses pass through unmodified, and a panicking observer is
// logged and swallowed rather than breaking traffic.
type Transport struct {
	base      http.RoundTripper
	observer  NetworkObserver
	options   Options
	logger    *slog.Logger
	redactSet map[string]struct{}
}

// NewTransport builds an observing transport over base. A nil base
// falls back to http.DefaultTransport at call time; a nil logger
// falls back to slog.Default().
func NewTransport(base http.RoundTripper, observer NetworkObserver, options Options, logger *slog.Logger) *Transport {
	if options.MaxBodySize <= 0 {
		options.MaxBodySize = DefaultMaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	redactSet := make(map[string]struct{}, len(options.RedactHeaders))
	for _, name := range options.RedactHeaders {
		redactSet[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Transport{
		base:      base,
		observer:  observer,
		options:   options,
		logger:    logger,
		redactSet: redactSet,
	}
}

// observedHeaders clones h with denylisted values replaced, so
// credentials never leave the transport.
func (t *Transport) observedHeaders(h http.Header) http.Header {
	clone := h.Clone()
	if len(t.redactSet) == 0 {
		return clone
	}
	for name, values := range clone {
		if _, ok := t.redactSet[strings.ToLower(name)]; !ok {
			continue
		}
		for i := range values {
			values[i] = redactedValue
		}
	}
	return clone
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := newExchangeID()
	started := time.Now()

	var requestBody []byte
	if t.options.CaptureBodies {
		// Read one byte past the limit so downstream can tell a full
		// capture from a truncated one, then restore the stream.
		captured, restored := captureRequestBody(req.Body, t.options.MaxBodySize)
		requestBody = captured
		req.Body = restored
	}

	t.observe(func(o NetworkObserver) {
		o.OnStart(id, req.Method, req.URL.String(), t.observedHeaders(req.Header), requestBody, started)
	})

	resp, err := t.roundTripBase(req)
	if err != nil {
		t.observe(func(o NetworkObserver) {
			o.OnFailed(id, err.Error(), time.Now())
		})
		return resp, err
	}

	t.observe(func(o NetworkObserver) {
		o.OnData(id, resp.StatusCode, t.observedHeaders(resp.Header), nil)
	})

	resp.Body = &observedBody{
		body:       resp.Body,
		transport:  t,
		id:         id,
		maxForward: t.options.MaxBodySize,
		capture:    t.options.CaptureBodies,
	}
	return resp, nil
}

func (t *Transport) roundTripBase(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// observe shields traffic from observer faults.
func (t *Transport) observe(fn func(NetworkObserver)) {
	if t.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("network observer panicked", "panic", r)
		}
	}()
	fn(t.observer)
}

// observedBody reports response bytes as the caller consumes them and
// finalizes the exchange exactly once at EOF, read error, or Close.
type observedBody struct {
	body       io.ReadCloser
	transport  *Transport
	id         string
	capture    bool
	maxForward int
	forwarded  int
	finishOnce sync.Once
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 && b.capture && b.forwarded <= b.maxForward {
		chunk := p[:n]
		b.forwarded += n
		b.transport.observe(func(o NetworkObserver) {
			o.OnData(b.id, 0, nil, chunk)
		})
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			b.complete()
		} else {
			b.fail(err.Error())
		}
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.body.Close()
	// Closing before EOF abandons the rest of the body; the exchange
	// still completes with whatever was read.
	b.complete()
	return err
}

func (b *observedBody) complete() {
	b.finishOnce.Do(func() {
		b.transport.observe(func(o NetworkObserver) {
			o.OnComplete(b.id, time.Now())
		})
	})
}

func (b *observedBody) fail(reason string) {
	b.finishOnce.Do(func() {
		b.transport.observe(func(o NetworkObserver) {
			o.OnFailed(b.id, reason, time.Now())
		})
	})
}

type readerWithCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readerWithCloser) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// captureRequestBody drains up to maxBodySize+1 bytes and rebuilds a
// body that replays them before continuing from the original stream.
// A read failure is deferred into the restored body so the transport
// sees the same error the caller would have.
func captureRequestBody(body io.ReadCloser, maxBodySize int) ([]byte, io.ReadCloser) {
	if body == nil || body == http.NoBody {
		return nil, body
	}

	limited := &io.LimitedReader{R: body, N: int64(maxBodySize) + 1}
	prefix, err := io.ReadAll(limited)

	rest := io.Reader(body)
	if err != nil {
		rest = errReader{err: err}
	}
	restored := &readerWithCloser{
		Reader: io.MultiReader(bytes.NewReader(prefix), rest),
		closer: body,
	}
	if len(prefix) == 0 {
		prefix = nil
	}
	return prefix, restored
}

// newExchangeID returns a process-unique token for one in-flight
// exchange.
func newExchangeID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "xchg-" + uuid.NewString()
	}
	return "xchg-" + hex.EncodeToString(buf[:])
}
