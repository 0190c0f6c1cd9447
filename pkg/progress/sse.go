package progress

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// SSEHandler streams bus events as Server-Sent Events for clients that
// cannot speak WebSocket. Each event is written as
//
//	event: <type>
//	data: <json>
//
// Filtering by taskId behaves as in Handler.
type SSEHandler struct {
	Bus    *Bus
	Logger zerolog.Logger
	Buffer int
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	taskID := r.URL.Query().Get("taskId")
	sub := h.Bus.Subscribe(taskID, h.Buffer)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.Logger.Warn().Err(err).Msg("marshal progress event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			flusher.Flush()
			if taskID != "" && e.Type == EventComplete {
				return
			}
		}
	}
}
