package api

import (
	"net/http"
	"time"

	"github.com/httptap/httptap/internal/correlate"
	"github.com/httptap/httptap/internal/logstore"
	"github.com/httptap/httptap/internal/persist"
)

const diagnosticsSchemaVersion = "capture-diagnostics.v1"

type DiagnosticsOptions struct {
	Store               *logstore.Store
	PipelineDiagnostics func() correlate.Diagnostics
	WriterDiagnostics   func() persist.WriterDiagnostics
}

type diagnosticsResponse struct {
	SchemaVersion string                     `json:"schema_version"`
	GeneratedAt   time.Time                  `json:"generated_at"`
	Log           *logDiagnostics            `json:"log,omitempty"`
	Pipeline      *correlate.Diagnostics     `json:"pipeline,omitempty"`
	Writer        *persist.WriterDiagnostics `json:"writer,omitempty"`
}

type logDiagnostics struct {
	EntryCount int   `json:"entry_count"`
	Capacity   int   `json:"capacity"`
	Evicted    int64 `json:"evicted"`
}

func DiagnosticsHandler(options DiagnosticsOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		response := diagnosticsResponse{
			SchemaVersion: diagnosticsSchemaVersion,
			GeneratedAt:   time.Now().UTC(),
		}
		if options.Store != nil {
			response.Log = &logDiagnostics{
				EntryCount: options.Store.Len(),
				Capacity:   options.Store.Capacity(),
				Evicted:    options.Store.Evicted(),
			}
		}
		if options.PipelineDiagnostics != nil {
			d := options.PipelineDiagnostics()
			response.Pipeline = &d
		}
		if options.WriterDiagnostics != nil {
			d := options.WriterDiagnostics()
			response.Writer = &d
		}

		writeJSON(w, http.StatusOK, response)
	})
}
