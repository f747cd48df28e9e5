package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sutera/worldloader/internal/events"
)

const (
	// Number of recent events to send on connection
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are already authenticated by the route group.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSEvents streams the event log over a WebSocket: the recent
// backlog first, then live events until either side goes away. The
// optional events query parameter is a comma-separated filter as
// accepted by events.Subscribe.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if q := r.URL.Query().Get("events"); q != "" {
		filter = strings.Split(q, ",")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := events.Subscribe(filter...)
	defer events.Unsubscribe(sub)

	for _, e := range events.RecentEvents(recentEventsCount) {
		if !events.Match(filter, e.Name) {
			continue
		}
		if err := writeEvent(conn, e); err != nil {
			log.Printf("ws write recent event failed: %v", err)
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("ws write event failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent sends e as a text frame. An event that cannot be encoded,
// such as one carrying a NaN field, is logged and skipped; only write
// failures end the stream.
func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("ws skipping event %s: %v", e.Name, err)
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
