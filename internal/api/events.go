package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/httptap/httptap/internal/logstore"
)

const eventsHeartbeatInterval = 15 * time.Second

type eventPayload struct {
	Kind  string       `json:"kind"`
	Entry *entryDetail `json:"entry,omitempty"`
	Size  int          `json:"size"`
}

// EventsHandler streams log changes as server-sent events. Each add or
// clear becomes one event; periodic comments keep idle connections open.
func EventsHandler(store *logstore.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "capture log is not configured")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		events, cancel := store.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(eventsHeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case event, open := <-events:
				if !open {
					return
				}
				if err := writeSSEEvent(w, event); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeSSEEvent(w http.ResponseWriter, event logstore.Event) error {
	payload := eventPayload{Size: event.Size}
	switch event.Kind {
	case logstore.EventAdd:
		payload.Kind = "add"
		if event.Entry != nil {
			detail := detailEntry(event.Entry)
			payload.Entry = &detail
		}
	case logstore.EventClear:
		payload.Kind = "clear"
	default:
		payload.Kind = "unknown"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", payload.Kind, data)
	return err
}
