package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/httptap/httptap/internal/entry"
	"github.com/httptap/httptap/internal/export"
	"github.com/httptap/httptap/internal/logstore"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 500
)

type entriesResponse struct {
	Items []entrySummary `json:"items"`
	Total int            `json:"total"`
}

type entrySummary struct {
	ID          string     `json:"id"`
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	Status      int        `json:"status,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type entryDetail struct {
	ID                    string      `json:"id"`
	Method                string      `json:"method"`
	URL                   string      `json:"url"`
	Status                int         `json:"status,omitempty"`
	Failure               string      `json:"failure,omitempty"`
	RequestHeaders        http.Header `json:"request_headers,omitempty"`
	ResponseHeaders       http.Header `json:"response_headers,omitempty"`
	RequestBody           string      `json:"request_body,omitempty"`
	ResponseBody          string      `json:"response_body,omitempty"`
	RequestBodyTruncated  bool        `json:"request_body_truncated,omitempty"`
	ResponseBodyTruncated bool        `json:"response_body_truncated,omitempty"`
	DurationMS            int64       `json:"duration_ms,omitempty"`
	StartedAt             time.Time   `json:"started_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
}

type entryPathRoute struct {
	ID     string
	Action string
}

// EntriesHandler lists captured entries (GET) and clears the log (DELETE).
func EntriesHandler(facade *export.Facade, store *logstore.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if facade == nil {
				writeError(w, http.StatusServiceUnavailable, "capture log is not configured")
				return
			}
			handleEntriesList(w, r, facade)
		case http.MethodDelete:
			if store == nil {
				writeError(w, http.StatusServiceUnavailable, "capture log is not configured")
				return
			}
			store.Clear()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE, OPTIONS")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func handleEntriesList(w http.ResponseWriter, r *http.Request, facade *export.Facade) {
	query := r.URL.Query()

	limit, err := parseIntQuery(query.Get("limit"), "limit", 1, maxEntryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultEntryLimit
	}
	status, err := parseIntQuery(query.Get("status"), "status", 100, 599)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method := strings.ToUpper(strings.TrimSpace(query.Get("method")))

	matched := facade.Search(query.Get("q"))
	filtered := matched[:0:0]
	for _, e := range matched {
		if method != "" && !strings.EqualFold(e.Method, method) {
			continue
		}
		if status != 0 && e.StatusCode != status {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)
	// Newest entries win when the result exceeds the page limit.
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	items := make([]entrySummary, 0, len(filtered))
	for _, e := range filtered {
		items = append(items, summarizeEntry(e))
	}
	writeJSON(w, http.StatusOK, entriesResponse{Items: items, Total: total})
}

// EntryDetailHandler serves one entry (GET /api/entries/{id}) and its
// shell replay (GET /api/entries/{id}/curl).
func EntryDetailHandler(facade *export.Facade) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if facade == nil {
			writeError(w, http.StatusServiceUnavailable, "capture log is not configured")
			return
		}

		route, ok := parseEntryPathRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		e, found := facade.Entry(route.ID)
		if !found {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}

		switch route.Action {
		case "":
			writeJSON(w, http.StatusOK, detailEntry(e))
		case "curl":
			writeJSON(w, http.StatusOK, map[string]string{
				"command": export.ToCurl(e),
			})
		default:
			http.NotFound(w, r)
		}
	})
}

func summarizeEntry(e *entry.Entry) entrySummary {
	summary := entrySummary{
		ID:        e.ID,
		Method:    e.Method,
		URL:       e.URL,
		Status:    e.StatusCode,
		Failure:   e.Failure,
		StartedAt: e.StartedAt,
	}
	if !e.CompletedAt.IsZero() {
		completed := e.CompletedAt
		summary.CompletedAt = &completed
	}
	if d, ok := e.Duration(); ok {
		summary.DurationMS = d.Milliseconds()
	}
	return summary
}

func detailEntry(e *entry.Entry) entryDetail {
	detail := entryDetail{
		ID:                    e.ID,
		Method:                e.Method,
		URL:                   e.URL,
		Status:                e.StatusCode,
		Failure:               e.Failure,
		RequestHeaders:        e.RequestHeaders,
		ResponseHeaders:       e.ResponseHeaders,
		RequestBody:           e.DecodedRequestBody(),
		ResponseBody:          e.DecodedResponseBody(),
		RequestBodyTruncated:  e.RequestBodyTruncated,
		ResponseBodyTruncated: e.ResponseBodyTruncated,
		StartedAt:             e.StartedAt,
	}
	if !e.CompletedAt.IsZero() {
		completed := e.CompletedAt
		detail.CompletedAt = &completed
	}
	if d, ok := e.Duration(); ok {
		detail.DurationMS = d.Milliseconds()
	}
	return detail
}

func parseEntryPathRoute(path string) (entryPathRoute, bool) {
	prefix := "/api/entries/"
	if !strings.HasPrefix(path, prefix) {
		return entryPathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return entryPathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	if len(parts) > 2 {
		return entryPathRoute{}, false
	}
	if strings.TrimSpace(parts[0]) == "" {
		return entryPathRoute{}, false
	}
	route := entryPathRoute{ID: parts[0]}
	if len(parts) == 2 {
		route.Action = strings.TrimSpace(parts[1])
		if route.Action == "" {
			return entryPathRoute{}, false
		}
	}
	return route, true
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}
