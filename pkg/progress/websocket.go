package progress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Handler streams bus events to WebSocket clients as JSON text frames. The
// taskId query parameter narrows the stream to one task; a filtered stream
// is closed normally after that task's task-complete event.
type Handler struct {
	Bus    *Bus
	Logger zerolog.Logger
	// Buffer is the per-connection queue length (DefaultBuffer if zero).
	Buffer int
	// AcceptOptions are passed to websocket.Accept, e.g. to allow
	// cross-origin dashboards.
	AcceptOptions *websocket.AcceptOptions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.AcceptOptions)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	taskID := r.URL.Query().Get("taskId")
	log := h.Logger.With().Str("component", "progress").Str("task", taskID).Logger()

	sub := h.Bus.Subscribe(taskID, h.Buffer)
	defer sub.Close()

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	log.Debug().Msg("progress subscriber connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Uint64("dropped", sub.Dropped()).Msg("progress subscriber gone")
			return
		case e, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("progress write failed")
				}
				return
			}
			if taskID != "" && e.Type == EventComplete {
				conn.Close(websocket.StatusNormalClosure, "task complete")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
