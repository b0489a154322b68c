package handler

import (
	"context"
	"sync"

	"github.com/reelchat/call-service/internal/orchestrator"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// Notice is a user-facing call event: a ring or a toast. Notices are
// delivered over the state websocket alongside snapshots.
type Notice struct {
	Kind     string            `json:"kind"` // "ring" or "toast"
	Text     string            `json:"text,omitempty"`
	Incoming *IncomingCallView `json:"incoming,omitempty"`
}

// OrchestratorFactory builds the per-user call supervisor. The hub passes
// the notifier the orchestrator must use.
type OrchestratorFactory func(userID string, notifier orchestrator.Notifier) *orchestrator.Orchestrator

// Hub owns one orchestrator per connected user, created lazily on first use.
type Hub struct {
	mu       sync.Mutex
	users    map[string]*userSession
	factory  OrchestratorFactory
	baseCtx  context.Context
	shutdown context.CancelFunc
}

type userSession struct {
	orch    *orchestrator.Orchestrator
	notices chan Notice
}

// sessionNotifier bridges orchestrator events into the user's notice stream.
// Sends never block; a full buffer drops the oldest semantics are acceptable
// for toasts.
type sessionNotifier struct {
	s *userSession
}

func (n *sessionNotifier) IncomingRing(ic *orchestrator.IncomingCall) {
	view := incomingView(ic)
	select {
	case n.s.notices <- Notice{Kind: "ring", Incoming: view}:
	default:
	}
}

func (n *sessionNotifier) Toast(text string) {
	select {
	case n.s.notices <- Notice{Kind: "toast", Text: text}:
	default:
	}
}

// NewHub creates the per-user orchestrator registry.
func NewHub(factory OrchestratorFactory) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		users:    make(map[string]*userSession),
		factory:  factory,
		baseCtx:  ctx,
		shutdown: cancel,
	}
}

// session returns the user's session, creating and starting the
// orchestrator on first use.
func (h *Hub) session(userID string) *userSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.users[userID]; ok {
		return s
	}
	s := &userSession{notices: make(chan Notice, 32)}
	s.orch = h.factory(userID, &sessionNotifier{s: s})
	if err := s.orch.Start(h.baseCtx); err != nil {
		logger.Base().Error("failed to start incoming-call listener",
			zap.String("user_id", userID), zap.Error(err))
	}
	h.users[userID] = s
	return s
}

// Orchestrator returns the user's call supervisor.
func (h *Hub) Orchestrator(userID string) *orchestrator.Orchestrator {
	return h.session(userID).orch
}

// Notices returns the user's notice stream.
func (h *Hub) Notices(userID string) <-chan Notice {
	return h.session(userID).notices
}

// Close tears every orchestrator down.
func (h *Hub) Close() {
	h.shutdown()
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, s := range h.users {
		s.orch.Close()
		delete(h.users, userID)
	}
}
