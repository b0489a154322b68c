package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth happens in middleware; the socket itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateFrame is one websocket message: a state snapshot, a notice, or both
// never at once.
type StateFrame struct {
	Type   string          `json:"type"` // "state" or "notice"
	State  *ActiveCallView `json:"state,omitempty"`
	Notice *Notice         `json:"notice,omitempty"`
}

// StateSocketHandler streams call state snapshots and notices to a client.
type StateSocketHandler struct {
	hub *Hub
}

func NewStateSocketHandler(hub *Hub) *StateSocketHandler {
	return &StateSocketHandler{hub: hub}
}

// Serve upgrades the connection and pushes every snapshot change and notice
// until the client disconnects.
func (h *StateSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Warn("websocket upgrade failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	orch := h.hub.Orchestrator(userID)
	snapshots, cancel := orch.Watch()
	defer cancel()
	notices := h.hub.Notices(userID)

	// Reader only consumes control frames; any read error means the client
	// is gone.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	writeFrame := func(frame StateFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Base().Debug("websocket write failed",
				zap.String("user_id", userID), zap.Error(err))
			return false
		}
		return true
	}

	if !writeFrame(StateFrame{Type: "state", State: callView(orch.Snapshot())}) {
		return
	}

	for {
		select {
		case <-done:
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if !writeFrame(StateFrame{Type: "state", State: callView(snapshot)}) {
				return
			}
		case notice := <-notices:
			if !writeFrame(StateFrame{Type: "notice", Notice: &notice}) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
