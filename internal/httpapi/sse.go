package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleTaskStream pushes task snapshots over SSE until the task
// reaches a terminal state or the client goes away.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.manager.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send emits the current snapshot and reports whether streaming
	// should continue.
	send := func() bool {
		job, err := s.manager.Get(id)
		if err != nil {
			return false
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return !job.Status.Terminal()
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
