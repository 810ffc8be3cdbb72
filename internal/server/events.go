// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pdiddy/review-engine/internal/events"
)

// sseKeepAlive is the interval of comment lines that hold an idle stream
// open through proxies.
var sseKeepAlive = 15 * time.Second

// streamEvents handles GET /api/events. It opens with the current pool
// status and steps, then forwards every bus event as one SSE message named
// by the event type. A subscriber that falls behind is dropped by the bus
// and its stream ends; the client reconnects and gets a fresh snapshot.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The server write timeout would cut long streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch, unsubscribe := s.d.Bus.Subscribe(0)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	now := time.Now()
	st := s.d.Pool.Status()
	steps, _ := s.d.Orchestrator.Steps()
	sendSSEEvent(w, flusher, events.Event{Type: events.PoolStatusChanged, At: now, Pool: &st})
	sendSSEEvent(w, flusher, events.Event{Type: events.StepChanged, At: now, Steps: steps})

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, e)
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	flusher.Flush()
}
