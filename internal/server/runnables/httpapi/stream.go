package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/routeforge/routeforge/internal/events"
)

// wsWriteTimeout bounds one WebSocket frame write.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream carries no credentials and the engine sits behind the
	// deployment's own perimeter.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream serves the SSE push stream: history replay, then live frames,
// until client close or subscription completion.
func (r *Runner) handleStream(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		r.writeJSON(w, http.StatusInternalServerError, response{Success: false, Error: "streaming unsupported"})
		return
	}

	processID := req.URL.Query().Get("processId")
	sub := r.bus.Subscribe(processID)
	defer r.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	r.logger.Debug("Stream attached", "process", processID)
	for {
		select {
		case <-req.Context().Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				if err := sub.Err(); err != nil {
					r.logger.Debug("Stream completed", "process", processID, "reason", err)
				}
				return
			}
			if err := writeSSEFrame(w, frame); err != nil {
				r.logger.Debug("Stream write failed", "process", processID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame renders one named SSE event.
func writeSSEFrame(w http.ResponseWriter, frame events.Frame) error {
	var payload []byte
	if frame.Event != nil {
		data, err := json.Marshal(frame.Event)
		if err != nil {
			return err
		}
		payload = data
	} else {
		payload = []byte(frame.Data)
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Name, payload)
	return err
}

// handleWebSocket mirrors the push stream over a WebSocket connection for
// clients that cannot hold an SSE response open.
func (r *Runner) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	processID := req.URL.Query().Get("processId")
	sub := r.bus.Subscribe(processID)
	defer r.bus.Unsubscribe(sub)

	// Reader goroutine drains client frames so pings and close frames are
	// processed; any read error cancels the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-done:
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				deadline := time.Now().Add(wsWriteTimeout)
				reason := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, reason, deadline)
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				r.logger.Debug("WebSocket write failed", "process", processID, "error", err)
				return
			}
		}
	}
}
