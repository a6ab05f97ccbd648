package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixir/research-trend-service/internal/pipeline"
	"github.com/helixir/research-trend-service/internal/task"
)

const (
	// sseKeepAliveInterval is how often a comment line keeps idle connections open.
	sseKeepAliveInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string           `json:"event_type"`
	Status    string           `json:"status,omitempty"`
	Progress  *task.Event      `json:"progress,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Pipeline  *pipeline.Status `json:"pipeline,omitempty"`
}

// streamProgress handles GET /api/v1/pipeline/progress (SSE).
//
// The stream opens with the current pipeline status, then forwards every progress
// event. It ends after a terminal event (Done or Cancelled), when the client goes
// away, or after sseMaxDuration.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the status so no event between the two is lost.
	events, unsubscribe := s.progress.Subscribe()
	defer unsubscribe()

	// The server write timeout would cut long runs short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	status := s.manager.Status()
	sendSSEEvent(w, flusher, sseEvent{
		EventType: "stream_started",
		Status:    status.State,
		Message:   "progress stream started",
		Timestamp: time.Now(),
		Pipeline:  &status,
	})

	ctx := r.Context()
	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case e, open := <-events:
			if !open {
				return
			}
			eventType := "progress"
			if e.Terminal() {
				eventType = eventTypeFor(e.Label)
			}
			sendSSEEvent(w, flusher, sseEvent{
				EventType: eventType,
				Progress:  &e,
				Message:   e.Label,
				Timestamp: time.Now(),
			})
			if e.Terminal() {
				return
			}
		}
	}
}

// eventTypeFor maps a terminal progress label to its SSE event type.
func eventTypeFor(label string) string {
	if label == task.LabelCancelled {
		return "cancelled"
	}
	return "completed"
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
