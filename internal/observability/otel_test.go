package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/httptap/httptap/internal/config"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		wantEndpoint  string
		wantInsecure  bool
		wantErrSubstr string
	}{
		{
			name:         "host and port",
			input:        "collector:4318",
			wantEndpoint: "collector:4318",
		},
		{
			name:         "http url",
			input:        "http://collector:4318",
			wantEndpoint: "collector:4318",
			wantInsecure: true,
		},
		{
			name:         "https url",
			input:        "https://collector:4318",
			wantEndpoint: "collector:4318",
		},
		{
			name:          "invalid scheme",
			input:         "ftp://collector:4318",
			wantErrSubstr: "scheme must be http or https",
		},
		{
			name:          "empty endpoint",
			input:         "   ",
			wantErrSubstr: "must not be empty",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotEndpoint, gotInsecure, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErrSubstr != "" {
				if err == nil {
					t.Fatalf("normalizeOTLPEndpoint(%q) error=nil, want %q", tt.input, tt.wantErrSubstr)
				}
				if got := err.Error(); !strings.Contains(got, tt.wantErrSubstr) {
					t.Fatalf("error=%q, want substring %q", got, tt.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error=%v", tt.input, err)
			}
			if gotEndpoint != tt.wantEndpoint {
				t.Fatalf("endpoint=%q, want %q", gotEndpoint, tt.wantEndpoint)
			}
			if gotInsecure != tt.wantInsecure {
				t.Fatalf("insecure=%v, want %v", gotInsecure, tt.wantInsecure)
			}
		})
	}
}

func TestRoutePatternForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/healthz", want: "/healthz"},
		{path: "/api/entries", want: "/api/entries/*"},
		{path: "/api/entries/abc123/curl", want: "/api/entries/*"},
		{path: "/api/events", want: "/api/*"},
		{path: "/custom", want: "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := routePatternForPath(tt.path); got != tt.want {
				t.Fatalf("routePatternForPath(%q)=%q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestSpanNames(t *testing.T) {
	t.Parallel()

	if got := serverSpanName("GET", "/api/entries"); got != "GET /api/entries/*" {
		t.Fatalf("serverSpanName=%q, want %q", got, "GET /api/entries/*")
	}
	if got := serverSpanName("", "/healthz"); got != "UNKNOWN /healthz" {
		t.Fatalf("serverSpanName=%q, want %q", got, "UNKNOWN /healthz")
	}
}

func TestSetupDisabledReturnsInertRuntime(t *testing.T) {
	t.Parallel()

	runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", nil, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if runtime.Enabled() {
		t.Fatal("runtime enabled despite Enabled=false")
	}

	// None of the hooks should panic on a disabled runtime.
	runtime.RecordExchangeCaptured("GET", 200)
	runtime.RecordExchangeDropped()
	runtime.RecordEntryEvicted()
	runtime.RecordWriteFailure("write_batch", 3)
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNilRuntimeIsSafe(t *testing.T) {
	t.Parallel()

	var runtime *Runtime
	if runtime.Enabled() {
		t.Fatal("nil runtime reports enabled")
	}
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil runtime: %v", err)
	}
}

func TestWrapHTTPHandlerDisabledPassthrough(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	wrapped := runtime.WrapHTTPHandler(inner)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entries", nil))

	if !called {
		t.Fatal("inner handler never ran")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestWrapHTTPHandlerNilHandler(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	wrapped := runtime.WrapHTTPHandler(nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404 from NotFoundHandler", rec.Code)
	}
}

func TestSetupRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Setup(context.Background(), config.OTelConfig{
		Enabled:                true,
		Endpoint:               "ftp://collector:4318",
		ServiceName:            "httptap-test",
		TracesEnabled:          true,
		SamplingRatio:          1,
		ExportTimeoutMS:        1000,
		MetricExportIntervalMS: 1000,
	}, "test", nil, nil)
	if err == nil {
		t.Fatal("expected an error for an unsupported endpoint scheme")
	}
}
