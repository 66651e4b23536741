package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"prep-session-service/internal/app"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outboundMessage struct {
	Type    string    `json:"type"`
	Payload app.Event `json:"payload"`
}

// watch upgrades the request and streams session events until the client
// disconnects. The connection is read-only from the client's perspective;
// mutations go through the REST surface.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	events, cancel, err := h.engine.Watch(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "session", Payload: event}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
