package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/crmrebs/leadconsole/internal/leads"
)

// liveEvent tells a dashboard that a collection snapshot changed; the
// dashboard re-fetches through the normal API rather than receiving data
// over the socket.
type liveEvent struct {
	View    string `json:"view"`
	Version uint64 `json:"version"`
}

type liveHub struct {
	logger leads.Logger

	mu   sync.Mutex
	subs map[chan liveEvent]struct{}
}

func newLiveHub(logger leads.Logger) *liveHub {
	return &liveHub{logger: logger, subs: map[chan liveEvent]struct{}{}}
}

func (h *liveHub) subscribe() (chan liveEvent, func()) {
	ch := make(chan liveEvent, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// broadcast never blocks; a subscriber that cannot keep up drops events
// and catches up on its next re-fetch.
func (h *liveHub) broadcast(ev liveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if authErr := s.checkSession(r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	// Server-push only; CloseRead surfaces client disconnects through the
	// returned context.
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.baseCtx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
