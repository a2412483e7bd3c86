package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const keepAliveInterval = 15 * time.Second

// Events handles GET /api/v1/events: a server-sent-events feed of task
// changes. The first event is a snapshot of every live task; a slow
// client loses intermediate updates rather than slowing the store.
func (h *REST) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := h.tracker.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case change, open := <-sub.Changes():
			if !open {
				return // tracker shut down
			}
			data, err := json.Marshal(change)
			if err != nil {
				h.logger.Error("marshal change failed", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, data)
			flusher.Flush()
		}
	}
}
