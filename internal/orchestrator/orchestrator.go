// Package orchestrator supervises the one active call of a user: it owns the
// call lifecycle end to end and is the only component allowed to touch the
// session status, the peer link and the capture streams together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/peerlink"
	"github.com/reelchat/call-service/internal/recording"
	"github.com/reelchat/call-service/internal/repository"
	"github.com/reelchat/call-service/internal/signaling"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrNoIncomingCall = errors.New("no incoming call")
)

// DeviceSwitchError reports a failed or rejected device switch. The previous
// device keeps streaming when a switch fails.
type DeviceSwitchError struct {
	Kind media.DeviceKind
	Err  error
}

func (e *DeviceSwitchError) Error() string {
	return fmt.Sprintf("failed to switch %s: %v", e.Kind, e.Err)
}

func (e *DeviceSwitchError) Unwrap() error {
	return e.Err
}

// PeerLink is the transport surface the orchestrator drives. Implemented by
// peerlink.Link in production.
type PeerLink interface {
	AttachLocalStream(stream media.Stream) error
	ReplaceTrack(kind media.TrackKind, track media.Track) error
	CreateOffer() (domain.SessionDescription, error)
	AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error)
	AcceptAnswer(answer domain.SessionDescription) error
	AddRemoteCandidate(cand domain.ICECandidate) error
	Close() error
}

// EventBus is the signaling surface the orchestrator uses. Implemented by
// signaling.Bus.
type EventBus interface {
	SendSignal(ctx context.Context, callID, senderID string, signalType domain.SignalType, payload any) (*domain.CallSignal, error)
	SendMessage(ctx context.Context, callID, senderID, content string) (*domain.CallMessage, error)
	PublishSession(ctx context.Context, session *domain.CallSession) error
	NotifyIncoming(ctx context.Context, session *domain.CallSession) error
	SubscribeCall(ctx context.Context, callID, selfID string, handlers signaling.CallHandlers) (func(), error)
	SubscribeIncoming(ctx context.Context, userID string, handler func(*domain.CallSession)) (func(), error)
}

// Recording is the handle for an in-progress local recording.
type Recording interface {
	Path() string
	Stop() (string, error)
}

// Notifier surfaces user-facing call events (rings, toasts). Implementations
// must not block.
type Notifier interface {
	IncomingRing(ic *IncomingCall)
	Toast(text string)
}

// Config carries the per-user orchestrator configuration.
type Config struct {
	SelfID        string
	STUNServers   []string
	StatsInterval time.Duration
	RecordingDir  string
	// RingTimeout is how long an outgoing call rings before it is marked
	// missed. Zero means the 30 second default.
	RingTimeout time.Duration
}

const defaultRingTimeout = 30 * time.Second

// Orchestrator supervises at most one active call at a time. All lifecycle
// operations are serialized on an internal mutex; observers read lock-free
// snapshots.
type Orchestrator struct {
	cfg      Config
	repos    repository.Manager
	bus      EventBus
	source   media.Source
	notifier Notifier

	state *stateStore

	// callMu serializes lifecycle operations; switchMu is the single-slot
	// guard that rejects overlapping device switches instead of queueing them.
	callMu   sync.Mutex
	switchMu sync.Mutex

	link            PeerLink
	recorder        Recording
	unsubscribeCall func()
	unsubscribeRing func()
	stopIncoming    func()
	ringTimer       *time.Timer

	newLink        func(callID string) (PeerLink, error)
	startRecording func(src media.Recordable, withVideo bool) (Recording, error)
}

// New wires an orchestrator for one user.
func New(cfg Config, repos repository.Manager, bus EventBus, source media.Source, notifier Notifier) *Orchestrator {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}
	o := &Orchestrator{
		cfg:      cfg,
		repos:    repos,
		bus:      bus,
		source:   source,
		notifier: notifier,
		state:    newStateStore(),
	}
	o.newLink = func(callID string) (PeerLink, error) {
		linkCfg := peerlink.Config{
			STUNServers:   cfg.STUNServers,
			StatsInterval: cfg.StatsInterval,
		}
		if provider, ok := source.(interface {
			CodecSelector() *mediadevices.CodecSelector
		}); ok {
			linkCfg.CodecSelector = provider.CodecSelector()
		}
		return peerlink.New(callID, linkCfg, o.linkHandlers(callID))
	}
	o.startRecording = func(src media.Recordable, withVideo bool) (Recording, error) {
		return recording.Start(cfg.RecordingDir, src, withVideo)
	}
	return o
}

// Start attaches the global incoming-call listener.
func (o *Orchestrator) Start(ctx context.Context) error {
	cancel, err := o.bus.SubscribeIncoming(ctx, o.cfg.SelfID, o.handleIncoming)
	if err != nil {
		return err
	}
	o.callMu.Lock()
	o.stopIncoming = cancel
	o.callMu.Unlock()
	return nil
}

// Close detaches the incoming listener and tears down any active call.
func (o *Orchestrator) Close() {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.stopIncoming != nil {
		o.stopIncoming()
		o.stopIncoming = nil
	}
	o.teardownLocked()
}

// Snapshot returns the current call state, nil when idle.
func (o *Orchestrator) Snapshot() *ActiveCall {
	return o.state.Current()
}

// IncomingRing returns the pending ring, nil when there is none.
func (o *Orchestrator) IncomingRing() *IncomingCall {
	return o.state.Incoming()
}

// Watch streams state snapshots to an observer.
func (o *Orchestrator) Watch() (<-chan *ActiveCall, func()) {
	return o.state.Watch()
}

// StartCall places an outgoing call. Side effects happen in a fixed order:
// local media is acquired first, so a denied camera aborts before any row or
// push exists; only then is the session created, the callee rung and the
// offer sent.
func (o *Orchestrator) StartCall(ctx context.Context, conversationID, calleeID string, callType domain.CallType) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	if o.state.Current() != nil {
		return nil, ErrCallInProgress
	}

	stream, err := o.source.Acquire(ctx, callType, media.Selection{})
	if err != nil {
		return nil, err
	}

	session := &domain.CallSession{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CallerID:       o.cfg.SelfID,
		CalleeID:       calleeID,
		Status:         domain.CallStatusPending,
		CallType:       callType,
		CreatedAt:      time.Now(),
	}
	if err := o.repos.Sessions().Create(ctx, session); err != nil {
		stream.Close()
		return nil, err
	}

	peer, err := o.repos.Profiles().GetByID(ctx, calleeID)
	if err != nil {
		logger.Base().Warn("failed to resolve callee profile",
			zap.String("callee_id", calleeID), zap.Error(err))
	}

	o.state.set(&ActiveCall{
		Session:        session,
		Peer:           peer,
		LocalStream:    stream,
		Connection:     peerlink.StateNew,
		IsAudioEnabled: true,
		IsVideoEnabled: callType == domain.CallTypeVideo,
		LocalVolume:    100,
		RemoteVolume:   100,
		Devices:        o.source.EnumerateDevices(ctx),
	})

	if err := o.setupTransport(ctx, session.ID, stream, true); err != nil {
		o.teardownLocked()
		return nil, err
	}

	ringing, err := o.repos.Sessions().Transition(ctx, session.ID, domain.CallStatusRinging, nil)
	if err != nil {
		o.teardownLocked()
		return nil, err
	}
	o.state.mutate(func(a *ActiveCall) { a.Session = ringing })

	if err := o.bus.NotifyIncoming(ctx, ringing); err != nil {
		logger.Base().Error("failed to ring callee", zap.String("call_id", session.ID), zap.Error(err))
		o.teardownLocked()
		return nil, err
	}
	if err := o.bus.PublishSession(ctx, ringing); err != nil {
		logger.Base().Warn("failed to publish ringing session", zap.String("call_id", session.ID), zap.Error(err))
	}

	o.ringTimer = time.AfterFunc(o.cfg.RingTimeout, func() { o.onRingTimeout(session.ID) })

	logger.Base().Info("call started",
		zap.String("call_id", session.ID),
		zap.String("callee_id", calleeID),
		zap.String("call_type", string(callType)))
	return o.state.Current(), nil
}

// AnswerCall accepts the pending ring. Answering while another call is
// active marks the new session busy instead of joining it. A missing offer
// is tolerated: the answer side waits for the offer to arrive by push.
func (o *Orchestrator) AnswerCall(ctx context.Context) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	ic := o.state.takeIncoming()
	if ic == nil {
		return nil, ErrNoIncomingCall
	}
	o.cancelRingWatchLocked()

	if o.state.Current() != nil {
		o.markBusy(ctx, ic.Session)
		return nil, ErrCallInProgress
	}

	stream, err := o.source.Acquire(ctx, ic.Session.CallType, media.Selection{})
	if err != nil {
		return nil, err
	}

	o.state.set(&ActiveCall{
		Session:        ic.Session,
		Peer:           ic.Caller,
		LocalStream:    stream,
		Connection:     peerlink.StateNew,
		IsAudioEnabled: true,
		IsVideoEnabled: ic.Session.CallType == domain.CallTypeVideo,
		LocalVolume:    100,
		RemoteVolume:   100,
		Devices:        o.source.EnumerateDevices(ctx),
	})

	if err := o.setupTransport(ctx, ic.Session.ID, stream, false); err != nil {
		o.teardownLocked()
		return nil, err
	}

	if err := o.acceptStoredOffer(ctx, ic.Session.ID); err != nil {
		o.teardownLocked()
		return nil, err
	}

	connected, err := o.repos.Sessions().Transition(ctx, ic.Session.ID, domain.CallStatusConnected, func(s *domain.CallSession) {
		now := time.Now()
		s.StartedAt = &now
	})
	if err != nil {
		o.teardownLocked()
		return nil, err
	}
	o.state.mutate(func(a *ActiveCall) { a.Session = connected })

	if err := o.bus.PublishSession(ctx, connected); err != nil {
		logger.Base().Warn("failed to publish connected session", zap.String("call_id", connected.ID), zap.Error(err))
	}

	logger.Base().Info("call answered", zap.String("call_id", connected.ID))
	return o.state.Current(), nil
}

// DeclineCall rejects the pending ring. No media is ever acquired on this
// path.
func (o *Orchestrator) DeclineCall(ctx context.Context) error {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	ic := o.state.takeIncoming()
	if ic == nil {
		return ErrNoIncomingCall
	}
	o.cancelRingWatchLocked()

	declined, err := o.repos.Sessions().Transition(ctx, ic.Session.ID, domain.CallStatusDeclined, nil)
	if err != nil {
		return err
	}
	if err := o.bus.PublishSession(ctx, declined); err != nil {
		logger.Base().Warn("failed to publish declined session", zap.String("call_id", declined.ID), zap.Error(err))
	}
	logger.Base().Info("call declined", zap.String("call_id", declined.ID))
	return nil
}

// EndCall hangs up the active call. The duration is computed from the
// connected timestamp, floored at zero for calls that never connected.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil {
		return ErrNoActiveCall
	}
	callID := active.Session.ID

	// Persist the terminal status before telling the peer: a crash between
	// the two must never leave a hung-up call live in the store.
	now := time.Now()
	ended, err := o.repos.Sessions().Transition(ctx, callID, domain.CallStatusEnded, func(s *domain.CallSession) {
		s.EndedAt = &now
		d := s.DurationAt(now)
		s.DurationSeconds = &d
	})
	if err != nil {
		logger.Base().Warn("failed to persist call end", zap.String("call_id", callID), zap.Error(err))
	} else if err := o.bus.PublishSession(ctx, ended); err != nil {
		logger.Base().Warn("failed to publish ended session", zap.String("call_id", callID), zap.Error(err))
	}

	if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalHangup, struct{}{}); err != nil {
		logger.Base().Warn("failed to deliver hangup", zap.String("call_id", callID), zap.Error(err))
	}

	logger.Base().Info("call ended", zap.String("call_id", callID))
	o.teardownLocked()
	return nil
}

// setupTransport subscribes to the call channel, creates the peer link,
// attaches the local stream and, for the caller, produces and sends the
// offer.
func (o *Orchestrator) setupTransport(ctx context.Context, callID string, stream media.Stream, caller bool) error {
	unsubscribe, err := o.bus.SubscribeCall(ctx, callID, o.cfg.SelfID, signaling.CallHandlers{
		OnSignal:  o.handleSignal,
		OnMessage: o.handleMessage,
		OnSession: o.handleSessionUpdate,
	})
	if err != nil {
		return err
	}
	o.unsubscribeCall = unsubscribe

	link, err := o.newLink(callID)
	if err != nil {
		return err
	}
	o.link = link

	if err := link.AttachLocalStream(stream); err != nil {
		return err
	}

	if caller {
		offer, err := link.CreateOffer()
		if err != nil {
			return err
		}
		if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalOffer, offer); err != nil {
			return err
		}
	}
	return nil
}

// acceptStoredOffer loads the caller's offer from the signal log and answers
// it. Answering before the offer row exists is not an error; the offer will
// be handled when it arrives by push.
func (o *Orchestrator) acceptStoredOffer(ctx context.Context, callID string) error {
	stored, err := o.repos.Signals().LatestByType(ctx, callID, domain.SignalOffer)
	if err != nil {
		return err
	}
	if stored == nil {
		logger.Base().Warn("answering before the offer arrived", zap.String("call_id", callID))
		return nil
	}
	offer, err := stored.DecodeSessionDescription()
	if err != nil {
		return err
	}
	answer, err := o.link.AcceptOffer(offer)
	if err != nil {
		return err
	}
	if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalAnswer, answer); err != nil {
		return err
	}
	return nil
}

// markBusy transitions a ringing session to busy and publishes the update.
func (o *Orchestrator) markBusy(ctx context.Context, session *domain.CallSession) {
	busy, err := o.repos.Sessions().Transition(ctx, session.ID, domain.CallStatusBusy, nil)
	if err != nil {
		logger.Base().Warn("failed to mark call busy", zap.String("call_id", session.ID), zap.Error(err))
		return
	}
	if err := o.bus.PublishSession(ctx, busy); err != nil {
		logger.Base().Warn("failed to publish busy session", zap.String("call_id", busy.ID), zap.Error(err))
	}
}

// onRingTimeout marks an outgoing call missed when the callee never
// answered within the ring window.
func (o *Orchestrator) onRingTimeout(callID string) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil || active.Session.ID != callID || active.Session.Status != domain.CallStatusRinging {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	missed, err := o.repos.Sessions().Transition(ctx, callID, domain.CallStatusMissed, nil)
	if err != nil {
		logger.Base().Warn("failed to mark call missed", zap.String("call_id", callID), zap.Error(err))
	} else if err := o.bus.PublishSession(ctx, missed); err != nil {
		logger.Base().Warn("failed to publish missed session", zap.String("call_id", callID), zap.Error(err))
	}

	o.notifier.Toast("No answer")
	logger.Base().Info("call missed", zap.String("call_id", callID))
	o.teardownLocked()
}

// handleIncoming reacts to a ring on the personal incoming channel. Only
// ringing sessions count; anything else on the channel is a replay or a
// stale publish and is ignored. A user already in a call answers with busy
// without ever surfacing the ring.
func (o *Orchestrator) handleIncoming(session *domain.CallSession) {
	if session.Status != domain.CallStatusRinging {
		logger.Base().Warn("ignoring non-ringing session on incoming channel",
			zap.String("call_id", session.ID), zap.String("status", string(session.Status)))
		return
	}

	o.callMu.Lock()
	defer o.callMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.state.Current() != nil {
		o.markBusy(ctx, session)
		return
	}

	caller, err := o.repos.Profiles().GetByID(ctx, session.CallerID)
	if err != nil {
		logger.Base().Warn("failed to resolve caller profile",
			zap.String("caller_id", session.CallerID), zap.Error(err))
	}

	ic := &IncomingCall{Session: session, Caller: caller}
	if !o.state.setIncoming(ic) {
		o.markBusy(ctx, session)
		return
	}

	// Watch the call channel while ringing so a caller-side cancel clears
	// the ring instead of leaving it dangling.
	cancelWatch, err := o.bus.SubscribeCall(context.Background(), session.ID, o.cfg.SelfID, signaling.CallHandlers{
		OnSession: o.handleRingAbandoned,
	})
	if err != nil {
		logger.Base().Warn("failed to watch ringing call", zap.String("call_id", session.ID), zap.Error(err))
	} else {
		o.unsubscribeRing = cancelWatch
	}

	logger.Base().Info("incoming call",
		zap.String("call_id", session.ID),
		zap.String("caller_id", session.CallerID))
	o.notifier.IncomingRing(ic)
}

// handleRingAbandoned clears a pending ring whose session went terminal
// before the user reacted (caller hung up or the ring timed out).
func (o *Orchestrator) handleRingAbandoned(session *domain.CallSession) {
	if !session.Status.IsTerminal() {
		return
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()

	ic := o.state.Incoming()
	if ic == nil || ic.Session.ID != session.ID {
		return
	}
	o.state.takeIncoming()
	o.cancelRingWatchLocked()
	if session.Status == domain.CallStatusMissed {
		o.notifier.Toast("Missed call")
	}
	logger.Base().Info("ring abandoned",
		zap.String("call_id", session.ID),
		zap.String("status", string(session.Status)))
}

func (o *Orchestrator) cancelRingWatchLocked() {
	if o.unsubscribeRing != nil {
		o.unsubscribeRing()
		o.unsubscribeRing = nil
	}
}

// teardownLocked releases everything the call held. Idempotent and tolerant
// of partial setup; every resource is nil-checked because teardown runs from
// any failure point of the setup sequence.
func (o *Orchestrator) teardownLocked() {
	if o.ringTimer != nil {
		o.ringTimer.Stop()
		o.ringTimer = nil
	}
	if o.recorder != nil {
		if _, err := o.recorder.Stop(); err != nil {
			logger.Base().Warn("failed to finalize recording", zap.Error(err))
		}
		o.recorder = nil
	}
	if o.link != nil {
		if err := o.link.Close(); err != nil {
			logger.Base().Warn("failed to close peer link", zap.Error(err))
		}
		o.link = nil
	}
	if active := o.state.Current(); active != nil {
		if active.ScreenStream != nil {
			active.ScreenStream.Close()
		}
		if active.LocalStream != nil {
			active.LocalStream.Close()
		}
	}
	if o.unsubscribeCall != nil {
		o.unsubscribeCall()
		o.unsubscribeCall = nil
	}
	o.state.clear()
}

// Cleanup tears down the active call without persisting a status change.
// Used on shutdown and after fatal transport errors that were already
// persisted.
func (o *Orchestrator) Cleanup() {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	o.teardownLocked()
}
