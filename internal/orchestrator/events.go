package orchestrator

import (
	"context"
	"time"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/peerlink"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// linkHandlers wires the peer link callbacks for one call. Callbacks run on
// transport goroutines; anything that needs callMu hops to a new goroutine
// first because the link may be closed while callMu is held.
func (o *Orchestrator) linkHandlers(callID string) peerlink.Handlers {
	return peerlink.Handlers{
		OnLocalCandidate: func(cand domain.ICECandidate) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalICECandidate, cand); err != nil {
				logger.Base().Warn("failed to deliver ice candidate",
					zap.String("call_id", callID), zap.Error(err))
			}
		},
		OnRemoteTrack: func(remote peerlink.RemoteStream) {
			o.state.mutate(func(a *ActiveCall) { a.Remote = remote })
		},
		OnStateChange: func(state peerlink.ConnectionState) {
			o.state.mutate(func(a *ActiveCall) { a.Connection = state })
			if state == peerlink.StateFailed || state == peerlink.StateDisconnected {
				go o.onTransportFailure(callID, state)
			}
		},
		OnQuality: func(quality domain.ConnectionQuality, stats domain.CallStats) {
			o.state.mutate(func(a *ActiveCall) {
				a.Quality = quality
				a.Stats = stats
			})
		},
	}
}

// onTransportFailure ends a call whose transport died. Runs on its own
// goroutine; by the time it gets the lock the call may already be gone.
func (o *Orchestrator) onTransportFailure(callID string, state peerlink.ConnectionState) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil || active.Session.ID != callID || active.Session.Status.IsTerminal() {
		return
	}

	logger.Base().Error("transport failed",
		zap.String("call_id", callID), zap.String("state", string(state)))
	o.notifier.Toast("Connection lost")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	ended, err := o.repos.Sessions().Transition(ctx, callID, domain.CallStatusEnded, func(s *domain.CallSession) {
		s.EndedAt = &now
		d := s.DurationAt(now)
		s.DurationSeconds = &d
	})
	if err != nil {
		logger.Base().Warn("failed to persist transport failure", zap.String("call_id", callID), zap.Error(err))
	} else if err := o.bus.PublishSession(ctx, ended); err != nil {
		logger.Base().Warn("failed to publish ended session", zap.String("call_id", callID), zap.Error(err))
	}
	o.teardownLocked()
}

// handleSignal dispatches one inbound control signal. Signals authored by
// this user were already filtered out by the subscription. A malformed
// payload is logged and dropped; it must never take the call down.
func (o *Orchestrator) handleSignal(sig *domain.CallSignal) {
	switch sig.SignalType {
	case domain.SignalOffer:
		o.handleRemoteOffer(sig)
	case domain.SignalAnswer:
		o.handleRemoteAnswer(sig)
	case domain.SignalICECandidate:
		o.handleRemoteCandidate(sig)
	case domain.SignalHangup:
		go o.remoteHangup(sig.CallID)
	case domain.SignalScreenShareStart:
		o.state.mutate(func(a *ActiveCall) { a.PeerScreenSharing = true })
		o.peerToast(sig, " started sharing their screen")
	case domain.SignalScreenShareStop:
		o.state.mutate(func(a *ActiveCall) { a.PeerScreenSharing = false })
		o.peerToast(sig, " stopped sharing their screen")
	case domain.SignalRecordingStart:
		o.state.mutate(func(a *ActiveCall) { a.PeerRecording = true })
		o.peerToast(sig, " started recording")
	case domain.SignalRecordingStop:
		o.state.mutate(func(a *ActiveCall) { a.PeerRecording = false })
		o.peerToast(sig, " stopped recording")
	case domain.SignalCameraSwitch, domain.SignalAudioSwitch:
		if _, err := sig.DecodeDeviceSwitch(); err != nil {
			o.dropMalformed(sig, err)
			return
		}
		o.peerToast(sig, " switched devices")
	case domain.SignalVolumeControl:
		// Never emitted by this client, but applied when received so older
		// peers that still send it keep working.
		vc, err := sig.DecodeVolumeControl()
		if err != nil {
			o.dropMalformed(sig, err)
			return
		}
		o.state.mutate(func(a *ActiveCall) { a.RemoteVolume = vc.Volume })
	default:
		logger.Base().Warn("unknown signal type",
			zap.String("call_id", sig.CallID), zap.String("signal_type", string(sig.SignalType)))
	}
}

func (o *Orchestrator) handleRemoteOffer(sig *domain.CallSignal) {
	offer, err := sig.DecodeSessionDescription()
	if err != nil {
		o.dropMalformed(sig, err)
		return
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.link == nil {
		return
	}
	answer, err := o.link.AcceptOffer(offer)
	if err != nil {
		logger.Base().Error("failed to accept offer", zap.String("call_id", sig.CallID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.bus.SendSignal(ctx, sig.CallID, o.cfg.SelfID, domain.SignalAnswer, answer); err != nil {
		logger.Base().Warn("failed to deliver answer", zap.String("call_id", sig.CallID), zap.Error(err))
	}
}

func (o *Orchestrator) handleRemoteAnswer(sig *domain.CallSignal) {
	answer, err := sig.DecodeSessionDescription()
	if err != nil {
		o.dropMalformed(sig, err)
		return
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.link == nil {
		return
	}
	if err := o.link.AcceptAnswer(answer); err != nil {
		logger.Base().Error("failed to accept answer", zap.String("call_id", sig.CallID), zap.Error(err))
	}
}

func (o *Orchestrator) handleRemoteCandidate(sig *domain.CallSignal) {
	cand, err := sig.DecodeICECandidate()
	if err != nil {
		o.dropMalformed(sig, err)
		return
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.link == nil {
		return
	}
	if err := o.link.AddRemoteCandidate(cand); err != nil {
		logger.Base().Warn("failed to add remote candidate", zap.String("call_id", sig.CallID), zap.Error(err))
	}
}

// remoteHangup tears down after the other party hung up. The remote side
// already persisted the ended status; this side only releases resources.
func (o *Orchestrator) remoteHangup(callID string) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil || active.Session.ID != callID {
		return
	}
	o.notifier.Toast("Call ended")
	logger.Base().Info("remote hangup", zap.String("call_id", callID))
	o.teardownLocked()
}

// handleMessage appends an inbound (or echoed own) chat message.
func (o *Orchestrator) handleMessage(msg *domain.CallMessage) {
	o.state.mutate(func(a *ActiveCall) {
		if a.Session.ID != msg.CallID {
			return
		}
		a.Messages = append(a.Messages, msg)
	})
}

// handleSessionUpdate mirrors a pushed session row into the snapshot. A
// terminal status from the other side tears this side down too.
func (o *Orchestrator) handleSessionUpdate(session *domain.CallSession) {
	if !session.Status.IsTerminal() {
		if session.Status == domain.CallStatusConnected {
			o.callMu.Lock()
			if o.ringTimer != nil {
				o.ringTimer.Stop()
				o.ringTimer = nil
			}
			o.callMu.Unlock()
		}
		o.state.mutate(func(a *ActiveCall) {
			if a.Session.ID == session.ID {
				a.Session = session
			}
		})
		return
	}

	o.callMu.Lock()
	defer o.callMu.Unlock()
	active := o.state.Current()
	if active == nil || active.Session.ID != session.ID {
		return
	}
	o.state.mutate(func(a *ActiveCall) { a.Session = session })
	switch session.Status {
	case domain.CallStatusDeclined:
		o.notifier.Toast("Call declined")
	case domain.CallStatusBusy:
		o.notifier.Toast("User is busy")
	case domain.CallStatusMissed:
		o.notifier.Toast("No answer")
	default:
		o.notifier.Toast("Call ended")
	}
	logger.Base().Info("session went terminal",
		zap.String("call_id", session.ID), zap.String("status", string(session.Status)))
	o.teardownLocked()
}

func (o *Orchestrator) peerToast(sig *domain.CallSignal, suffix string) {
	name := "Peer"
	if active := o.state.Current(); active != nil && active.Peer != nil {
		name = active.Peer.Label()
	}
	o.notifier.Toast(name + suffix)
}

func (o *Orchestrator) dropMalformed(sig *domain.CallSignal, err error) {
	logger.Base().Warn("dropping malformed signal",
		zap.String("call_id", sig.CallID),
		zap.String("signal_type", string(sig.SignalType)),
		zap.Error(err))
}
