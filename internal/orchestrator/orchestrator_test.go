package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	orch     *Orchestrator
	repos    *memRepos
	bus      *fakeBus
	source   *fakeSource
	notifier *fakeNotifier
	link     *fakeLink
}

func newTestRig(t *testing.T, selfID string) *testRig {
	t.Helper()
	repos := newMemRepos()
	bus := newFakeBus(repos)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	link := newFakeLink()

	orch := New(Config{
		SelfID:        selfID,
		RecordingDir:  t.TempDir(),
		RingTimeout:   time.Minute,
		StatsInterval: time.Second,
	}, repos, bus, source, notifier)
	orch.newLink = func(callID string) (PeerLink, error) { return link, nil }

	t.Cleanup(orch.Cleanup)
	return &testRig{orch: orch, repos: repos, bus: bus, source: source, notifier: notifier, link: link}
}

func ringingSession(id string) *domain.CallSession {
	return &domain.CallSession{
		ID:       id,
		CallerID: "alice",
		CalleeID: "bob",
		Status:   domain.CallStatusRinging,
		CallType: domain.CallTypeVideo,
	}
}

func TestStartCall(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()

	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)
	require.NotNil(t, active)

	assert.Equal(t, domain.CallStatusRinging, active.Session.Status)
	assert.Equal(t, "alice", active.Session.CallerID)
	assert.Equal(t, "bob", active.Session.CalleeID)
	assert.True(t, active.IsAudioEnabled)
	assert.True(t, active.IsVideoEnabled)
	assert.Equal(t, 100, active.LocalVolume)
	require.NotNil(t, active.Peer)
	assert.Equal(t, "Bob", active.Peer.Label())
	assert.Len(t, active.Devices.Cameras, 2)

	// The offer went out and the callee was rung.
	require.Len(t, rig.bus.sentOfType(domain.SignalOffer), 1)
	require.Len(t, rig.bus.incoming, 1)

	// The row is authoritative and ringing.
	stored, err := rig.repos.sessions.GetByID(ctx, active.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, stored.Status)
}

func TestStartCallAudioOnly(t *testing.T) {
	rig := newTestRig(t, "alice")

	active, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	assert.True(t, active.IsAudioEnabled)
	assert.False(t, active.IsVideoEnabled)
	_, hasVideo := active.LocalStream.TrackOfKind(media.TrackKindVideo)
	assert.False(t, hasVideo)
}

func TestStartCallWhileActive(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()

	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	_, err = rig.orch.StartCall(ctx, "conv-1", "carol", domain.CallTypeVideo)
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, 1, rig.source.acquires())
}

func TestStartCallMediaDenied(t *testing.T) {
	rig := newTestRig(t, "alice")
	rig.source.failWith = &media.AccessError{Op: "get-user-media", Err: errors.New("permission denied")}

	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeVideo)

	var accessErr *media.AccessError
	require.ErrorAs(t, err, &accessErr)
	// Media failed before any row or push.
	assert.Empty(t, rig.bus.incoming)
	assert.Empty(t, rig.bus.signals)
	assert.Nil(t, rig.orch.Snapshot())
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	rig := newTestRig(t, "alice")
	rig.orch.cfg.RingTimeout = 30 * time.Millisecond

	active, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	callID := active.Session.ID

	require.Eventually(t, func() bool {
		stored, _ := rig.repos.sessions.GetByID(context.Background(), callID)
		return stored.Status == domain.CallStatusMissed
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, rig.orch.Snapshot())
	assert.True(t, rig.link.isClosed())
}

func TestIncomingRingSurfaces(t *testing.T) {
	rig := newTestRig(t, "bob")
	session := ringingSession("call-1")
	require.NoError(t, rig.repos.sessions.Create(context.Background(), &domain.CallSession{
		ID: "call-1", CallerID: "alice", CalleeID: "bob",
		Status: domain.CallStatusRinging, CallType: domain.CallTypeVideo,
	}))

	rig.orch.handleIncoming(session)

	ic := rig.orch.IncomingRing()
	require.NotNil(t, ic)
	assert.Equal(t, "call-1", ic.Session.ID)
	require.NotNil(t, ic.Caller)
	assert.Equal(t, "Alice", ic.Caller.Label())
	require.Len(t, rig.notifier.rings, 1)
}

func TestDeclineNeverAcquiresMedia(t *testing.T) {
	rig := newTestRig(t, "bob")
	require.NoError(t, rig.repos.sessions.Create(context.Background(), ringingSession("call-1")))
	rig.orch.handleIncoming(ringingSession("call-1"))

	require.NoError(t, rig.orch.DeclineCall(context.Background()))

	assert.Equal(t, 0, rig.source.acquires())
	stored, _ := rig.repos.sessions.GetByID(context.Background(), "call-1")
	assert.Equal(t, domain.CallStatusDeclined, stored.Status)
	assert.Equal(t, domain.CallStatusDeclined, rig.bus.lastSession().Status)
	assert.Nil(t, rig.orch.IncomingRing())
}

func TestAnswerCall(t *testing.T) {
	rig := newTestRig(t, "bob")
	ctx := context.Background()
	require.NoError(t, rig.repos.sessions.Create(ctx, ringingSession("call-1")))

	// The caller's offer is already in the signal log.
	offerData, err := domain.MarshalPayload(domain.SessionDescription{Type: "offer", SDP: "v=0 offer\r\n"})
	require.NoError(t, err)
	require.NoError(t, rig.repos.signals.Create(ctx, &domain.CallSignal{
		ID: "sig-1", CallID: "call-1", SenderID: "alice",
		SignalType: domain.SignalOffer, SignalData: offerData,
	}))

	rig.orch.handleIncoming(ringingSession("call-1"))
	active, err := rig.orch.AnswerCall(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusConnected, active.Session.Status)
	require.NotNil(t, active.Session.StartedAt)
	require.Len(t, rig.link.answered, 1)
	require.Len(t, rig.bus.sentOfType(domain.SignalAnswer), 1)
	assert.Equal(t, 1, rig.source.acquires())
	assert.Nil(t, rig.orch.IncomingRing())
}

func TestAnswerBeforeOfferArrives(t *testing.T) {
	rig := newTestRig(t, "bob")
	ctx := context.Background()
	require.NoError(t, rig.repos.sessions.Create(ctx, ringingSession("call-1")))

	rig.orch.handleIncoming(ringingSession("call-1"))
	active, err := rig.orch.AnswerCall(ctx)
	require.NoError(t, err)

	// No offer, no answer yet; the call still connects and the offer is
	// handled when it arrives by push.
	assert.Equal(t, domain.CallStatusConnected, active.Session.Status)
	assert.Empty(t, rig.bus.sentOfType(domain.SignalAnswer))

	rig.orch.handleSignal(&domain.CallSignal{
		CallID: "call-1", SenderID: "alice", SignalType: domain.SignalOffer,
		SignalData: json.RawMessage(`{"type":"offer","sdp":"v=0 late\r\n"}`),
	})
	require.Len(t, rig.bus.sentOfType(domain.SignalAnswer), 1)
}

func TestAnswerWhileActiveMarksBusy(t *testing.T) {
	rig := newTestRig(t, "bob")
	ctx := context.Background()

	_, err := rig.orch.StartCall(ctx, "conv-1", "alice", domain.CallTypeAudio)
	require.NoError(t, err)

	require.NoError(t, rig.repos.sessions.Create(ctx, ringingSession("call-2")))
	ic := ringingSession("call-2")
	ic.CallerID = "carol"
	require.True(t, rig.orch.state.setIncoming(&IncomingCall{Session: ic}))

	_, err = rig.orch.AnswerCall(ctx)
	assert.ErrorIs(t, err, ErrCallInProgress)

	stored, _ := rig.repos.sessions.GetByID(ctx, "call-2")
	assert.Equal(t, domain.CallStatusBusy, stored.Status)
}

func TestIncomingWhileActiveMarksBusy(t *testing.T) {
	rig := newTestRig(t, "bob")
	ctx := context.Background()

	_, err := rig.orch.StartCall(ctx, "conv-1", "alice", domain.CallTypeAudio)
	require.NoError(t, err)

	require.NoError(t, rig.repos.sessions.Create(ctx, ringingSession("call-2")))
	rig.orch.handleIncoming(ringingSession("call-2"))

	// The ring never surfaced; the second caller got busy.
	assert.Empty(t, rig.notifier.rings)
	stored, _ := rig.repos.sessions.GetByID(ctx, "call-2")
	assert.Equal(t, domain.CallStatusBusy, stored.Status)
}

func TestIncomingIgnoresNonRinging(t *testing.T) {
	rig := newTestRig(t, "bob")
	ctx := context.Background()

	// A stale replay of an already-answered session must not surface a ring.
	connected := ringingSession("call-1")
	connected.Status = domain.CallStatusConnected
	require.NoError(t, rig.repos.sessions.Create(ctx, connected))
	rig.orch.handleIncoming(connected)

	assert.Nil(t, rig.orch.IncomingRing())
	assert.Empty(t, rig.notifier.rings)
	assert.Empty(t, rig.bus.sessions)

	// Even while in a call, a non-ringing replay must not be marked busy.
	_, err := rig.orch.StartCall(ctx, "conv-1", "alice", domain.CallTypeAudio)
	require.NoError(t, err)

	ended := ringingSession("call-2")
	ended.Status = domain.CallStatusEnded
	require.NoError(t, rig.repos.sessions.Create(ctx, ended))
	rig.orch.handleIncoming(ended)

	stored, _ := rig.repos.sessions.GetByID(ctx, "call-2")
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
}

func TestEndCallNeverConnected(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()

	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)
	callID := active.Session.ID
	stream := active.LocalStream.(*fakeStream)

	require.NoError(t, rig.orch.EndCall(ctx))

	stored, _ := rig.repos.sessions.GetByID(ctx, callID)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 0, *stored.DurationSeconds)
	require.Len(t, rig.bus.sentOfType(domain.SignalHangup), 1)
	assert.True(t, rig.link.isClosed())
	assert.True(t, stream.isClosed())
	assert.Nil(t, rig.orch.Snapshot())

	// Ending again reports no active call.
	assert.ErrorIs(t, rig.orch.EndCall(ctx), ErrNoActiveCall)
}

func TestEndCallPersistsBeforeHangup(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()

	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	callID := active.Session.ID

	// By the time the hangup crosses the wire the row must already be
	// terminal, so a crash mid-hangup cannot leave the call live in the store.
	var statusAtHangup domain.CallStatus
	rig.bus.mu.Lock()
	rig.bus.sendHook = func(sig *domain.CallSignal) {
		if sig.SignalType != domain.SignalHangup {
			return
		}
		stored, err := rig.repos.sessions.GetByID(ctx, callID)
		require.NoError(t, err)
		statusAtHangup = stored.Status
	}
	rig.bus.mu.Unlock()

	require.NoError(t, rig.orch.EndCall(ctx))
	assert.Equal(t, domain.CallStatusEnded, statusAtHangup)
}

func TestCleanupIsIdempotent(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	rig.orch.Cleanup()
	rig.orch.Cleanup()
	assert.Nil(t, rig.orch.Snapshot())
}

func TestToggleAudio(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	sent := len(rig.bus.signals)

	active, err := rig.orch.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, active.IsAudioEnabled)
	track, _ := active.LocalStream.TrackOfKind(media.TrackKindAudio)
	assert.False(t, track.Enabled())

	active, err = rig.orch.ToggleAudio()
	require.NoError(t, err)
	assert.True(t, active.IsAudioEnabled)
	assert.True(t, track.Enabled())

	// Mute is local: no signal was emitted for it.
	assert.Len(t, rig.bus.signals, sent)
}

func TestToggleVideoOnAudioCall(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	_, err = rig.orch.ToggleVideo()
	assert.ErrorContains(t, err, "no video track")
}

func TestToggleScreenShare(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	active, err := rig.orch.ToggleScreenShare(ctx)
	require.NoError(t, err)
	assert.True(t, active.IsScreenSharing)
	require.NotNil(t, active.ScreenStream)
	require.Len(t, rig.bus.sentOfType(domain.SignalScreenShareStart), 1)
	assert.Equal(t, active.ScreenStream.Tracks()[0].ID(), rig.link.replaced[media.TrackKindVideo].ID())

	screen := active.ScreenStream.(*fakeStream)
	active, err = rig.orch.ToggleScreenShare(ctx)
	require.NoError(t, err)
	assert.False(t, active.IsScreenSharing)
	assert.Nil(t, active.ScreenStream)
	assert.True(t, screen.isClosed())
	require.Len(t, rig.bus.sentOfType(domain.SignalScreenShareStop), 1)
	// Camera track restored on the sender.
	camera, _ := active.LocalStream.TrackOfKind(media.TrackKindVideo)
	assert.Equal(t, camera.ID(), rig.link.replaced[media.TrackKindVideo].ID())
}

func TestScreenShareSelfHeals(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	active, err := rig.orch.ToggleScreenShare(ctx)
	require.NoError(t, err)
	require.True(t, active.IsScreenSharing)
	screen := active.ScreenStream.(*fakeStream)

	// The capture dies on its own (shared window closed). Sharing must switch
	// itself off and the camera come back without a user toggle.
	screen.tracks[0].Stop()

	require.Eventually(t, func() bool {
		return !rig.orch.Snapshot().IsScreenSharing
	}, time.Second, 10*time.Millisecond)

	snapshot := rig.orch.Snapshot()
	assert.Nil(t, snapshot.ScreenStream)
	assert.True(t, screen.isClosed())
	require.Len(t, rig.bus.sentOfType(domain.SignalScreenShareStop), 1)
	camera, _ := snapshot.LocalStream.TrackOfKind(media.TrackKindVideo)
	rig.link.mu.Lock()
	restored := rig.link.replaced[media.TrackKindVideo]
	rig.link.mu.Unlock()
	assert.Equal(t, camera.ID(), restored.ID())
}

func TestDeviceSwitch(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)
	old := active.LocalStream.(*fakeStream)

	active, err = rig.orch.SwitchCamera(ctx, "cam-2")
	require.NoError(t, err)
	assert.Equal(t, "cam-2", active.SelectedCamera)
	assert.True(t, old.isClosed())
	assert.NotEqual(t, old.ID(), active.LocalStream.ID())
	require.Len(t, rig.bus.sentOfType(domain.SignalCameraSwitch), 1)

	sw, err := rig.bus.sentOfType(domain.SignalCameraSwitch)[0].DecodeDeviceSwitch()
	require.NoError(t, err)
	assert.Equal(t, "cam-2", sw.DeviceID)
}

func TestDeviceSwitchPreservesMuteState(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	_, err = rig.orch.ToggleAudio()
	require.NoError(t, err)

	active, err := rig.orch.SwitchMicrophone(ctx, "mic-1")
	require.NoError(t, err)
	track, _ := active.LocalStream.TrackOfKind(media.TrackKindAudio)
	assert.False(t, track.Enabled())
	assert.False(t, active.IsAudioEnabled)
}

func TestOverlappingDeviceSwitchRejected(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	block := make(chan struct{})
	acquiring := make(chan struct{}, 1)
	rig.source.mu.Lock()
	rig.source.blockOn = block
	rig.source.acquiring = acquiring
	rig.source.mu.Unlock()

	first := make(chan error, 1)
	go func() {
		_, err := rig.orch.SwitchCamera(ctx, "cam-2")
		first <- err
	}()
	<-acquiring // first switch is mid-acquire and holds the switch slot

	rig.source.mu.Lock()
	rig.source.blockOn = nil
	rig.source.acquiring = nil
	rig.source.mu.Unlock()

	_, err = rig.orch.SwitchCamera(ctx, "cam-1")
	var switchErr *DeviceSwitchError
	require.ErrorAs(t, err, &switchErr)
	assert.ErrorContains(t, err, "in progress")

	close(block)
	require.NoError(t, <-first)
}

func TestSetVolumeIsLocalOnly(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	active, err := rig.orch.SetVolume(true, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, active.RemoteVolume)
	assert.Equal(t, 100, active.LocalVolume)
	assert.Empty(t, rig.bus.sentOfType(domain.SignalVolumeControl))

	_, err = rig.orch.SetVolume(false, 150)
	assert.ErrorContains(t, err, "out of range")
}

func TestInboundVolumeControlApplies(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	rig.orch.handleSignal(&domain.CallSignal{
		CallID: rig.orch.Snapshot().Session.ID, SenderID: "bob",
		SignalType: domain.SignalVolumeControl,
		SignalData: json.RawMessage(`{"volume":25}`),
	})
	assert.Equal(t, 25, rig.orch.Snapshot().RemoteVolume)
}

func TestMalformedSignalIsDropped(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	rig.orch.handleSignal(&domain.CallSignal{
		CallID: "call-1", SenderID: "bob",
		SignalType: domain.SignalAnswer,
		SignalData: json.RawMessage(`garbage`),
	})

	// Dropped without touching the link or the call.
	assert.Empty(t, rig.link.accepted)
	assert.NotNil(t, rig.orch.Snapshot())
}

func TestRemoteHangupTearsDown(t *testing.T) {
	rig := newTestRig(t, "alice")
	active, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	rig.orch.handleSignal(&domain.CallSignal{
		CallID: active.Session.ID, SenderID: "bob",
		SignalType: domain.SignalHangup, SignalData: json.RawMessage(`{}`),
	})

	require.Eventually(t, func() bool {
		return rig.orch.Snapshot() == nil
	}, time.Second, 10*time.Millisecond)
	assert.True(t, rig.link.isClosed())
	assert.GreaterOrEqual(t, rig.notifier.toastCount(), 1)
}

func TestTerminalSessionUpdateTearsDown(t *testing.T) {
	rig := newTestRig(t, "alice")
	active, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	declined := *active.Session
	declined.Status = domain.CallStatusDeclined
	rig.orch.handleSessionUpdate(&declined)

	assert.Nil(t, rig.orch.Snapshot())
	assert.True(t, rig.link.isClosed())
	assert.Contains(t, rig.notifier.toasts, "Call declined")
}

func TestConnectedSessionUpdateStopsRingTimer(t *testing.T) {
	rig := newTestRig(t, "alice")
	rig.orch.cfg.RingTimeout = 40 * time.Millisecond

	active, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	callID := active.Session.ID

	now := time.Now()
	connected := *active.Session
	connected.Status = domain.CallStatusConnected
	connected.StartedAt = &now
	rig.orch.handleSessionUpdate(&connected)

	time.Sleep(100 * time.Millisecond)
	// The ring timer never fired; the call is still up and connected.
	snapshot := rig.orch.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, domain.CallStatusConnected, snapshot.Session.Status)
	stored, _ := rig.repos.sessions.GetByID(context.Background(), callID)
	assert.NotEqual(t, domain.CallStatusMissed, stored.Status)
}

func TestMessagesAppendInOrder(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	require.NoError(t, rig.orch.SendMessage(ctx, "hi"))
	rig.orch.handleMessage(&domain.CallMessage{
		ID: "m2", CallID: active.Session.ID, SenderID: "bob", Content: "hey",
	})

	snapshot := rig.orch.Snapshot()
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "hi", snapshot.Messages[0].Content)
	assert.Equal(t, "hey", snapshot.Messages[1].Content)
}

func TestSnapshotReplacement(t *testing.T) {
	rig := newTestRig(t, "alice")
	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	before := rig.orch.Snapshot()
	after, err := rig.orch.SetVolume(false, 50)
	require.NoError(t, err)

	// The old snapshot is untouched; observers holding it see stale but
	// consistent state.
	assert.Equal(t, 100, before.LocalVolume)
	assert.Equal(t, 50, after.LocalVolume)
	assert.NotSame(t, before, after)
}

func TestWatchSeesUpdates(t *testing.T) {
	rig := newTestRig(t, "alice")
	ch, cancel := rig.orch.Watch()
	defer cancel()

	_, err := rig.orch.StartCall(context.Background(), "conv-1", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	select {
	case snapshot := <-ch:
		require.NotNil(t, snapshot)
	case <-time.After(time.Second):
		t.Fatal("watcher never notified")
	}
}

func TestToggleRecording(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	active, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)
	rig.orch.state.mutate(func(a *ActiveCall) {
		a.LocalStream = &recordableStream{fakeStream: active.LocalStream.(*fakeStream)}
	})

	rec := &fakeRecording{path: "/tmp/call-recording-20260823T120000Z.webm"}
	rig.orch.startRecording = func(src media.Recordable, withVideo bool) (Recording, error) {
		rec.withVideo = withVideo
		return rec, nil
	}

	active, err = rig.orch.ToggleRecording(ctx)
	require.NoError(t, err)
	assert.True(t, active.IsRecording)
	assert.Equal(t, rec.path, active.RecordingPath)
	assert.True(t, rec.withVideo)
	require.Len(t, rig.bus.sentOfType(domain.SignalRecordingStart), 1)

	active, err = rig.orch.ToggleRecording(ctx)
	require.NoError(t, err)
	assert.False(t, active.IsRecording)
	assert.True(t, rec.stopped)
	require.Len(t, rig.bus.sentOfType(domain.SignalRecordingStop), 1)
	assert.Contains(t, rig.notifier.toasts, "Recording saved to "+rec.path)
}

func TestToggleRecordingUnsupportedStream(t *testing.T) {
	rig := newTestRig(t, "alice")
	ctx := context.Background()
	_, err := rig.orch.StartCall(ctx, "conv-1", "bob", domain.CallTypeVideo)
	require.NoError(t, err)

	// The plain fake stream is not recordable; recording must refuse cleanly
	// and leave the call up.
	_, err = rig.orch.ToggleRecording(ctx)
	assert.ErrorContains(t, err, "does not support recording")
	assert.NotNil(t, rig.orch.Snapshot())
}

// recordableStream makes a fake stream satisfy media.Recordable; the readers
// are never pulled because the recorder itself is faked.
type recordableStream struct {
	*fakeStream
}

func (s *recordableStream) AudioReader() (media.FrameReader, error) { return nil, nil }
func (s *recordableStream) VideoReader() (media.FrameReader, error) { return nil, nil }

type fakeRecording struct {
	path      string
	withVideo bool
	stopped   bool
}

func (r *fakeRecording) Path() string { return r.path }
func (r *fakeRecording) Stop() (string, error) {
	r.stopped = true
	return r.path, nil
}
