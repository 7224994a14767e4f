// Package api serves the inspection endpoints over the captured log.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/httptap/httptap/internal/correlate"
	"github.com/httptap/httptap/internal/export"
	"github.com/httptap/httptap/internal/logstore"
	"github.com/httptap/httptap/internal/persist"
)

type RouterOptions struct {
	AppVersion    string
	Store         *logstore.Store
	Facade        *export.Facade
	StorageDriver string
	StoragePath   string

	// Diagnostics snapshots; nil funcs mean the component is not running.
	PipelineDiagnostics func() correlate.Diagnostics
	WriterDiagnostics   func() persist.WriterDiagnostics
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/healthz", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
		StoragePath:   options.StoragePath,
		Store:         options.Store,
	}))
	mux.Handle("/api/entries", EntriesHandler(options.Facade, options.Store))
	mux.Handle("/api/entries/", EntryDetailHandler(options.Facade))
	mux.Handle("/api/events", EventsHandler(options.Store))
	mux.Handle("/api/diagnostics", DiagnosticsHandler(DiagnosticsOptions{
		Store:               options.Store,
		PipelineDiagnostics: options.PipelineDiagnostics,
		WriterDiagnostics:   options.WriterDiagnostics,
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "httptap",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
