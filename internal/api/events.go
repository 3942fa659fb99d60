package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

// handleEvents streams an owner's realtime events as server-sent events until
// the client goes away.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Events == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "realtime events are not configured")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		owner := chi.URLParam(r, "owner")
		sub := deps.Events.Subscribe(owner)
		defer sub.Cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					slog.Warn("encoding realtime event failed", "owner", owner, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
				flusher.Flush()
			}
		}
	}
}
