package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/user/moodcam/internal/store"
)

const (
	liveWriteTimeout = 10 * time.Second
	liveReadTimeout  = 120 * time.Second
)

// handleLiveFeed streams capture records over a websocket as they are
// appended to the session. The feed closes when the session stops, is
// deleted, or the client disconnects.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.GetDetail(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	feed, cancel := s.svc.Subscribe(id)
	defer cancel()

	// Drain client messages so pings and close frames are processed.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetReadLimit(1 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerGone:
			return
		case rec, ok := <-feed:
			if !ok {
				deadline := time.Now().Add(time.Second)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
				_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(liveEvent{Type: "capture", Capture: rec}); err != nil {
				return
			}
			s.metrics.WSMessages.WithLabelValues("outbound").Inc()
		}
	}
}

type liveEvent struct {
	Type    string        `json:"type"`
	Capture store.Capture `json:"capture"`
}
