// Package peerlink owns the real-time media transport for one call: one
// peer connection per call, candidate exchange, remote-track attachment,
// connection-state transitions and periodic statistics sampling.
package peerlink

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultStatsInterval = 2 * time.Second
	keyframeInterval     = 3 * time.Second
)

// ConnectionState is the coarse transport state surfaced to the orchestrator.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Terminal reports whether the transport cannot recover from this state.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateDisconnected || s == StateClosed
}

// RemoteTrack describes one track received from the remote party.
type RemoteTrack struct {
	ID   string
	Kind media.TrackKind
	SSRC uint32
}

// RemoteStream is the handle for the remote party's media. It is replaced
// wholesale each time a track arrives.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

// Handlers are the named transition handlers wired at construction, keeping
// the signaling protocol testable apart from the transport.
type Handlers struct {
	OnLocalCandidate func(domain.ICECandidate)
	OnRemoteTrack    func(RemoteStream)
	OnStateChange    func(ConnectionState)
	OnQuality        func(domain.ConnectionQuality, domain.CallStats)
}

// Config carries the fixed transport configuration.
type Config struct {
	STUNServers   []string
	StatsInterval time.Duration
	// CodecSelector, when set, populates the media engine with the capture
	// pipeline's codecs. Nil falls back to pion's default codec set.
	CodecSelector *mediadevices.CodecSelector
}

// Local is implemented by media tracks that can bind to a peer connection.
type Local interface {
	Local() webrtc.TrackLocal
}

// Link wraps one peer connection for the lifetime of one call.
type Link struct {
	callID   string
	pc       *webrtc.PeerConnection
	handlers Handlers

	mu        sync.Mutex
	senders   map[media.TrackKind]*webrtc.RTPSender
	remote    RemoteStream
	connected bool

	inbound *inboundStats

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a peer connection with the fixed transport profile: the
// configured reflection servers, all-candidates policy, max-bundle and
// required RTCP multiplexing.
func New(callID string, cfg Config, handlers Handlers) (*Link, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.CodecSelector != nil {
		cfg.CodecSelector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         []webrtc.ICEServer{{URLs: cfg.STUNServers}},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = defaultStatsInterval
	}

	l := &Link{
		callID:     callID,
		pc:         pc,
		handlers:   handlers,
		senders:  make(map[media.TrackKind]*webrtc.RTPSender),
		inbound:  newInboundStats(),
		done:     make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || l.handlers.OnLocalCandidate == nil {
			return
		}
		// Candidates are emitted as discovered, even before the remote
		// description is set; the remote connection object buffers them.
		init := c.ToJSON()
		l.handlers.OnLocalCandidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		l.handleRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Base().Info("peer connection state change",
			zap.String("call_id", l.callID), zap.String("state", state.String()))
		mapped := mapConnectionState(state)
		l.mu.Lock()
		l.connected = mapped == StateConnected
		l.mu.Unlock()
		if l.handlers.OnStateChange != nil {
			l.handlers.OnStateChange(mapped)
		}
	})

	go l.sampleLoop(interval)

	return l, nil
}

func mapConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}

// AttachLocalStream adds every track of a capture stream to the connection.
func (l *Link) AttachLocalStream(stream media.Stream) error {
	for _, track := range stream.Tracks() {
		local, ok := track.(Local)
		if !ok {
			return fmt.Errorf("track %s cannot bind to a peer connection", track.ID())
		}
		sender, err := l.pc.AddTrack(local.Local())
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		l.mu.Lock()
		l.senders[track.Kind()] = sender
		l.mu.Unlock()
	}
	return nil
}

// ReplaceTrack swaps the outgoing track of the given kind without
// renegotiating the session. Used by camera switch, audio-device switch and
// screen-share start/stop.
func (l *Link) ReplaceTrack(kind media.TrackKind, track media.Track) error {
	l.mu.Lock()
	sender, ok := l.senders[kind]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("no outgoing %s track to replace", kind)
	}
	local, okLocal := track.(Local)
	if !okLocal {
		return fmt.Errorf("track %s cannot bind to a peer connection", track.ID())
	}
	if err := sender.ReplaceTrack(local.Local()); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", kind, err)
	}
	return nil
}

// CreateOffer produces and installs the local offer.
func (l *Link) CreateOffer() (domain.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return domain.SessionDescription{Type: "offer", SDP: offer.SDP}, nil
}

// AcceptOffer installs a remote offer and produces the local answer.
func (l *Link) AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return domain.SessionDescription{Type: "answer", SDP: answer.SDP}, nil
}

// AcceptAnswer installs the remote answer.
func (l *Link) AcceptAnswer(answer domain.SessionDescription) error {
	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

// AddRemoteCandidate adds a remote ICE candidate to the connection.
func (l *Link) AddRemoteCandidate(cand domain.ICECandidate) error {
	err := l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.pc.Close()
	})
	return err
}

// handleRemoteTrack registers an arriving remote track, replaces the remote
// stream handle wholesale and starts the inbound drain.
func (l *Link) handleRemoteTrack(track *webrtc.TrackRemote) {
	kind := media.TrackKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.TrackKindVideo
	}
	logger.Base().Info("remote track arrived",
		zap.String("call_id", l.callID),
		zap.String("kind", string(kind)),
		zap.String("stream_id", track.StreamID()))

	l.mu.Lock()
	remote := RemoteStream{ID: track.StreamID()}
	remote.Tracks = append(remote.Tracks, l.remote.Tracks...)
	remote.Tracks = append(remote.Tracks, RemoteTrack{
		ID:   track.ID(),
		Kind: kind,
		SSRC: uint32(track.SSRC()),
	})
	l.remote = remote
	l.mu.Unlock()

	if l.handlers.OnRemoteTrack != nil {
		l.handlers.OnRemoteTrack(remote)
	}

	if kind == media.TrackKindVideo {
		go l.keyframeLoop(uint32(track.SSRC()))
	}
	go l.drainRemoteTrack(track)
}

// drainRemoteTrack reads inbound RTP and feeds the track's own accounting;
// each SSRC gets separate counters at its codec clock rate. Read errors end
// the drain; the connection state handler owns failure reporting.
func (l *Link) drainRemoteTrack(track *webrtc.TrackRemote) {
	acct := l.inbound.track(uint32(track.SSRC()), track.Codec().ClockRate)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		acct.record(pkt, len(pkt.Payload), time.Now())
	}
}

// keyframeLoop periodically requests a keyframe for a remote video track so
// a late joiner or a lossy stretch recovers a clean reference frame.
func (l *Link) keyframeLoop(ssrc uint32) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			err := l.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			})
			if err != nil {
				return
			}
		}
	}
}

// sampleLoop publishes a stats sample and its quality classification on a
// fixed interval while the connection is up. Collection failures are logged
// and swallowed; they must never affect call state.
func (l *Link) sampleLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			connected := l.connected
			l.mu.Unlock()
			if !connected || l.handlers.OnQuality == nil {
				continue
			}
			stats := l.sample()
			l.handlers.OnQuality(Classify(stats), stats)
		}
	}
}

// sample assembles a CallStats from the per-track inbound accounting and the
// selected candidate pair's round trip time.
func (l *Link) sample() domain.CallStats {
	packets, bytes, lost, jitterMs := l.inbound.snapshot()
	stats := domain.CallStats{
		PacketsReceived: packets,
		PacketsLost:     lost,
		BytesReceived:   bytes,
		JitterMs:        jitterMs,
		Timestamp:       time.Now(),
	}

	for _, s := range l.pc.GetStats() {
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			if v.State == webrtc.StatsICECandidatePairStateSucceeded && v.CurrentRoundTripTime > 0 {
				stats.RoundTripMs = v.CurrentRoundTripTime * 1000
			}
		case webrtc.OutboundRTPStreamStats:
			stats.BytesSent += v.BytesSent
		}
	}
	return stats
}
