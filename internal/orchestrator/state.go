package orchestrator

import (
	"sync"

	"github.com/jinzhu/copier"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/peerlink"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// ActiveCall is the complete observable state of the one in-progress call.
// It is never mutated in place: every change produces a new snapshot that
// replaces the old one, so observers can hold a snapshot without locking.
type ActiveCall struct {
	Session *domain.CallSession
	Peer    *domain.Profile

	LocalStream  media.Stream
	ScreenStream media.Stream
	Remote       peerlink.RemoteStream
	Connection   peerlink.ConnectionState

	IsAudioEnabled  bool
	IsVideoEnabled  bool
	IsScreenSharing bool
	IsRecording     bool
	RecordingPath   string

	// Peer-side flags driven by informational signals.
	PeerScreenSharing bool
	PeerRecording     bool

	// Volumes are playback-side and purely local; they never cross the
	// signaling channel outbound.
	LocalVolume  int
	RemoteVolume int

	SelectedCamera     string
	SelectedMicrophone string
	SelectedSpeaker    string
	Devices            media.DeviceList

	Quality domain.ConnectionQuality
	Stats   domain.CallStats

	Messages []*domain.CallMessage
}

// clone produces the next snapshot: durable records are deep-copied so the
// old snapshot stays immutable, live handles (streams, remote tracks) are
// shared because they represent the same underlying resources.
func (a *ActiveCall) clone() *ActiveCall {
	out := *a
	if a.Session != nil {
		session := &domain.CallSession{}
		if err := copier.Copy(session, a.Session); err != nil {
			logger.Base().Error("failed to clone call session", zap.Error(err))
			session = a.Session
		}
		out.Session = session
	}
	out.Messages = make([]*domain.CallMessage, len(a.Messages))
	copy(out.Messages, a.Messages)
	return &out
}

// IncomingCall is a ringing call waiting for the user to answer or decline.
type IncomingCall struct {
	Session *domain.CallSession
	Caller  *domain.Profile
}

// stateStore holds the current snapshot and fans updates out to watchers.
type stateStore struct {
	mu       sync.RWMutex
	current  *ActiveCall
	incoming *IncomingCall
	watchers map[chan *ActiveCall]struct{}
}

func newStateStore() *stateStore {
	return &stateStore{watchers: make(map[chan *ActiveCall]struct{})}
}

// Current returns the latest snapshot, nil when no call is active.
func (s *stateStore) Current() *ActiveCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// set installs a fresh snapshot, replacing whatever was there.
func (s *stateStore) set(call *ActiveCall) {
	s.mu.Lock()
	s.current = call
	s.notifyLocked()
	s.mu.Unlock()
}

// mutate clones the current snapshot, applies fn and swaps the result in.
// A nil current snapshot is a no-op returning nil; callers racing teardown
// must tolerate that.
func (s *stateStore) mutate(fn func(*ActiveCall)) *ActiveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	next := s.current.clone()
	fn(next)
	s.current = next
	s.notifyLocked()
	return next
}

// clear drops the snapshot and notifies watchers with nil.
func (s *stateStore) clear() {
	s.mu.Lock()
	s.current = nil
	s.notifyLocked()
	s.mu.Unlock()
}

// Watch returns a channel receiving each new snapshot (nil on teardown) and
// a cancel function. Slow watchers lose intermediate snapshots, never the
// subscription.
func (s *stateStore) Watch() (<-chan *ActiveCall, func()) {
	ch := make(chan *ActiveCall, 8)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	if s.current != nil {
		ch <- s.current
	}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *stateStore) notifyLocked() {
	for ch := range s.watchers {
		select {
		case ch <- s.current:
		default:
		}
	}
}

// setIncoming records a ringing call. Returns false when another ring is
// already pending; the second caller gets a busy treatment elsewhere.
func (s *stateStore) setIncoming(ic *IncomingCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incoming != nil {
		return false
	}
	s.incoming = ic
	return true
}

// takeIncoming removes and returns the pending ring, nil when there is none.
func (s *stateStore) takeIncoming() *IncomingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic := s.incoming
	s.incoming = nil
	return ic
}

// Incoming returns the pending ring without consuming it.
func (s *stateStore) Incoming() *IncomingCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incoming
}
