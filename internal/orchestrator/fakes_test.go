package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/repository"
	"github.com/reelchat/call-service/internal/signaling"
)

// ---- media fakes ----

type fakeTrack struct {
	id      string
	kind    media.TrackKind
	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Kind() media.TrackKind { return t.kind }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}
func (t *fakeTrack) OnEnded(handler func()) {
	t.mu.Lock()
	t.onEnded = handler
	t.mu.Unlock()
}

// Stop fires the end handler once, matching capture tracks where closing the
// source ends the track.
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	ended := t.onEnded
	fire := !t.stopped && ended != nil
	t.stopped = true
	t.onEnded = nil
	t.mu.Unlock()
	if fire {
		ended()
	}
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
	mu     sync.Mutex
	closed bool
}

func newFakeStream(withVideo bool) *fakeStream {
	s := &fakeStream{id: uuid.New().String()}
	s.tracks = append(s.tracks, &fakeTrack{id: uuid.New().String(), kind: media.TrackKindAudio, enabled: true})
	if withVideo {
		s.tracks = append(s.tracks, &fakeTrack{id: uuid.New().String(), kind: media.TrackKindVideo, enabled: true})
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }
func (s *fakeStream) Tracks() []media.Track {
	out := make([]media.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}
func (s *fakeStream) TrackOfKind(kind media.TrackKind) (media.Track, bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}
func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, t := range s.tracks {
		t.Stop()
	}
}
func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	mu        sync.Mutex
	acquired  []*fakeStream
	acquireN  int
	displayN  int
	failWith  error
	blockOn   chan struct{} // when set, Acquire waits for a receive
	acquiring chan struct{} // signaled when Acquire begins
}

func (f *fakeSource) Acquire(ctx context.Context, callType domain.CallType, sel media.Selection) (media.Stream, error) {
	f.mu.Lock()
	f.acquireN++
	block := f.blockOn
	notify := f.acquiring
	fail := f.failWith
	f.mu.Unlock()

	if notify != nil {
		notify <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}
	s := newFakeStream(callType == domain.CallTypeVideo)
	f.mu.Lock()
	f.acquired = append(f.acquired, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSource) AcquireDisplay(ctx context.Context) (media.Stream, error) {
	f.mu.Lock()
	f.displayN++
	f.mu.Unlock()
	s := &fakeStream{id: uuid.New().String()}
	s.tracks = append(s.tracks, &fakeTrack{id: uuid.New().String(), kind: media.TrackKindVideo, enabled: true})
	return s, nil
}

func (f *fakeSource) EnumerateDevices(ctx context.Context) media.DeviceList {
	return media.Partition([]media.Device{
		{ID: "cam-1", Label: "Front Camera", Kind: media.DeviceKindCamera},
		{ID: "cam-2", Label: "Back Camera", Kind: media.DeviceKindCamera},
		{ID: "mic-1", Label: "Built-in Microphone", Kind: media.DeviceKindMicrophone},
		{ID: "spk-1", Label: "Speaker", Kind: media.DeviceKindSpeaker},
	})
}

func (f *fakeSource) acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquireN
}

// ---- peer link fake ----

type fakeLink struct {
	mu        sync.Mutex
	attached  []media.Stream
	replaced  map[media.TrackKind]media.Track
	offers    int
	answered  []domain.SessionDescription
	accepted  []domain.SessionDescription
	cands     []domain.ICECandidate
	closed    bool
	offerFail error
}

func newFakeLink() *fakeLink {
	return &fakeLink{replaced: make(map[media.TrackKind]media.Track)}
}

func (l *fakeLink) AttachLocalStream(stream media.Stream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = append(l.attached, stream)
	return nil
}

func (l *fakeLink) ReplaceTrack(kind media.TrackKind, track media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaced[kind] = track
	return nil
}

func (l *fakeLink) CreateOffer() (domain.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offerFail != nil {
		return domain.SessionDescription{}, l.offerFail
	}
	l.offers++
	return domain.SessionDescription{Type: "offer", SDP: "v=0 offer\r\n"}, nil
}

func (l *fakeLink) AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answered = append(l.answered, offer)
	return domain.SessionDescription{Type: "answer", SDP: "v=0 answer\r\n"}, nil
}

func (l *fakeLink) AcceptAnswer(answer domain.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accepted = append(l.accepted, answer)
	return nil
}

func (l *fakeLink) AddRemoteCandidate(cand domain.ICECandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cands = append(l.cands, cand)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ---- signaling fake ----

type fakeBus struct {
	mu       sync.Mutex
	signals  []*domain.CallSignal
	messages []*domain.CallMessage
	sessions []*domain.CallSession
	incoming []*domain.CallSession
	handlers map[string]signaling.CallHandlers
	repos    repository.Manager
	// sendHook observes each signal as it is sent, before it is recorded.
	sendHook func(*domain.CallSignal)
}

func newFakeBus(repos repository.Manager) *fakeBus {
	return &fakeBus{handlers: make(map[string]signaling.CallHandlers), repos: repos}
}

func (b *fakeBus) SendSignal(ctx context.Context, callID, senderID string, signalType domain.SignalType, payload any) (*domain.CallSignal, error) {
	data, err := domain.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	sig := &domain.CallSignal{
		ID:         uuid.New().String(),
		CallID:     callID,
		SenderID:   senderID,
		SignalType: signalType,
		SignalData: data,
		CreatedAt:  time.Now(),
	}
	if err := b.repos.Signals().Create(ctx, sig); err != nil {
		return nil, err
	}
	b.mu.Lock()
	hook := b.sendHook
	b.signals = append(b.signals, sig)
	b.mu.Unlock()
	if hook != nil {
		hook(sig)
	}
	return sig, nil
}

func (b *fakeBus) SendMessage(ctx context.Context, callID, senderID, content string) (*domain.CallMessage, error) {
	msg := &domain.CallMessage{
		ID:        uuid.New().String(),
		CallID:    callID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	handlers := b.handlers[callID]
	b.mu.Unlock()
	// Messages echo back to the sender, matching the real channel.
	if handlers.OnMessage != nil {
		handlers.OnMessage(msg)
	}
	return msg, nil
}

func (b *fakeBus) PublishSession(ctx context.Context, session *domain.CallSession) error {
	b.mu.Lock()
	b.sessions = append(b.sessions, session)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) NotifyIncoming(ctx context.Context, session *domain.CallSession) error {
	b.mu.Lock()
	b.incoming = append(b.incoming, session)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) SubscribeCall(ctx context.Context, callID, selfID string, handlers signaling.CallHandlers) (func(), error) {
	b.mu.Lock()
	b.handlers[callID] = handlers
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, callID)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBus) SubscribeIncoming(ctx context.Context, userID string, handler func(*domain.CallSession)) (func(), error) {
	return func() {}, nil
}

func (b *fakeBus) sentOfType(signalType domain.SignalType) []*domain.CallSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.CallSignal
	for _, s := range b.signals {
		if s.SignalType == signalType {
			out = append(out, s)
		}
	}
	return out
}

func (b *fakeBus) lastSession() *domain.CallSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

// ---- repository fakes ----

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*domain.CallSession
}

func (m *memSessions) Create(ctx context.Context, session *domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.rows[session.ID] = &cp
	return nil
}

func (m *memSessions) GetByID(ctx context.Context, id string) (*domain.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memSessions) Transition(ctx context.Context, id string, to domain.CallStatus, mutate func(*domain.CallSession)) (*domain.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, errors.New("call session not found")
	}
	if !domain.CanTransition(row.Status, to) {
		return nil, fmt.Errorf("illegal call status transition %s -> %s", row.Status, to)
	}
	row.Status = to
	if mutate != nil {
		mutate(row)
	}
	cp := *row
	return &cp, nil
}

type memSignals struct {
	mu   sync.Mutex
	rows []*domain.CallSignal
}

func (m *memSignals) Create(ctx context.Context, signal *domain.CallSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, signal)
	return nil
}

func (m *memSignals) LatestByType(ctx context.Context, callID string, signalType domain.SignalType) (*domain.CallSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].CallID == callID && m.rows[i].SignalType == signalType {
			return m.rows[i], nil
		}
	}
	return nil, nil
}

type memMessages struct {
	mu   sync.Mutex
	rows []*domain.CallMessage
}

func (m *memMessages) Create(ctx context.Context, message *domain.CallMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, message)
	return nil
}

func (m *memMessages) ListByCall(ctx context.Context, callID string) ([]*domain.CallMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CallMessage
	for _, msg := range m.rows {
		if msg.CallID == callID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memProfiles struct {
	rows map[string]*domain.Profile
}

func (m *memProfiles) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	return m.rows[id], nil
}

type memRepos struct {
	sessions *memSessions
	signals  *memSignals
	messages *memMessages
	profiles *memProfiles
}

func newMemRepos() *memRepos {
	return &memRepos{
		sessions: &memSessions{rows: make(map[string]*domain.CallSession)},
		signals:  &memSignals{},
		messages: &memMessages{},
		profiles: &memProfiles{rows: map[string]*domain.Profile{
			"alice": {ID: "alice", Username: "alice", DisplayName: "Alice"},
			"bob":   {ID: "bob", Username: "bob", DisplayName: "Bob"},
		}},
	}
}

func (m *memRepos) Sessions() repository.CallSessionRepository { return m.sessions }
func (m *memRepos) Signals() repository.CallSignalRepository   { return m.signals }
func (m *memRepos) Messages() repository.CallMessageRepository { return m.messages }
func (m *memRepos) Profiles() repository.ProfileRepository     { return m.profiles }
func (m *memRepos) Ping(ctx context.Context) error             { return nil }
func (m *memRepos) Close() error                               { return nil }

// ---- notifier fake ----

type fakeNotifier struct {
	mu     sync.Mutex
	rings  []*IncomingCall
	toasts []string
}

func (n *fakeNotifier) IncomingRing(ic *IncomingCall) {
	n.mu.Lock()
	n.rings = append(n.rings, ic)
	n.mu.Unlock()
}

func (n *fakeNotifier) Toast(text string) {
	n.mu.Lock()
	n.toasts = append(n.toasts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) toastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toasts)
}
