package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// ToggleAudio mutes or unmutes the microphone. Mute is track-level and
// local; nothing crosses the signaling channel.
func (o *Orchestrator) ToggleAudio() (*ActiveCall, error) {
	return o.toggleTrack(media.TrackKindAudio)
}

// ToggleVideo disables or enables the camera track.
func (o *Orchestrator) ToggleVideo() (*ActiveCall, error) {
	return o.toggleTrack(media.TrackKindVideo)
}

func (o *Orchestrator) toggleTrack(kind media.TrackKind) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil {
		return nil, ErrNoActiveCall
	}
	track, ok := active.LocalStream.TrackOfKind(kind)
	if !ok {
		return nil, fmt.Errorf("call has no %s track", kind)
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)

	return o.state.mutate(func(a *ActiveCall) {
		switch kind {
		case media.TrackKindAudio:
			a.IsAudioEnabled = enabled
		case media.TrackKindVideo:
			a.IsVideoEnabled = enabled
		}
	}), nil
}

// ToggleScreenShare starts or stops screen sharing. Starting replaces the
// outgoing video track with the screen capture; stopping restores the
// camera track. The peer is told either way so it can relabel the remote
// video.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil {
		return nil, ErrNoActiveCall
	}
	callID := active.Session.ID

	if !active.IsScreenSharing {
		screen, err := o.source.AcquireDisplay(ctx)
		if err != nil {
			return nil, err
		}
		track, ok := screen.TrackOfKind(media.TrackKindVideo)
		if !ok {
			screen.Close()
			return nil, errors.New("display capture produced no video track")
		}
		if err := o.link.ReplaceTrack(media.TrackKindVideo, track); err != nil {
			screen.Close()
			return nil, err
		}
		// The capture can end outside our control (shared window closed,
		// permission withdrawn). Restore the camera when it does.
		track.OnEnded(func() { go o.screenShareEnded(callID) })
		if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalScreenShareStart, struct{}{}); err != nil {
			logger.Base().Warn("failed to announce screen share", zap.String("call_id", callID), zap.Error(err))
		}
		return o.state.mutate(func(a *ActiveCall) {
			a.ScreenStream = screen
			a.IsScreenSharing = true
		}), nil
	}

	return o.stopScreenShareLocked(ctx, active)
}

// stopScreenShareLocked restores the camera track and releases the screen
// capture. Caller holds callMu.
func (o *Orchestrator) stopScreenShareLocked(ctx context.Context, active *ActiveCall) (*ActiveCall, error) {
	callID := active.Session.ID
	if camera, ok := active.LocalStream.TrackOfKind(media.TrackKindVideo); ok {
		if err := o.link.ReplaceTrack(media.TrackKindVideo, camera); err != nil {
			return nil, err
		}
	}
	if active.ScreenStream != nil {
		active.ScreenStream.Close()
	}
	if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalScreenShareStop, struct{}{}); err != nil {
		logger.Base().Warn("failed to announce screen share stop", zap.String("call_id", callID), zap.Error(err))
	}
	return o.state.mutate(func(a *ActiveCall) {
		a.ScreenStream = nil
		a.IsScreenSharing = false
	}), nil
}

// screenShareEnded reacts to the screen track ending on its own: sharing is
// switched off and the camera restored as if the user had toggled it. A stop
// we initiated also fires the end handler; by then IsScreenSharing is already
// false and this is a no-op.
func (o *Orchestrator) screenShareEnded(callID string) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil || active.Session.ID != callID || !active.IsScreenSharing {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.stopScreenShareLocked(ctx, active); err != nil {
		logger.Base().Warn("failed to recover from ended screen capture",
			zap.String("call_id", callID), zap.Error(err))
		return
	}
	logger.Base().Info("screen capture ended, camera restored", zap.String("call_id", callID))
}

// ToggleRecording starts or stops the local recording of the local capture
// stream. The artifact never leaves this machine; the peer only gets an
// informational signal for its toast.
func (o *Orchestrator) ToggleRecording(ctx context.Context) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil {
		return nil, ErrNoActiveCall
	}
	callID := active.Session.ID

	if !active.IsRecording {
		src, ok := active.LocalStream.(media.Recordable)
		if !ok {
			return nil, errors.New("local stream does not support recording")
		}
		recorder, err := o.startRecording(src, active.Session.CallType == domain.CallTypeVideo)
		if err != nil {
			return nil, err
		}
		o.recorder = recorder
		if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalRecordingStart, struct{}{}); err != nil {
			logger.Base().Warn("failed to announce recording", zap.String("call_id", callID), zap.Error(err))
		}
		return o.state.mutate(func(a *ActiveCall) {
			a.IsRecording = true
			a.RecordingPath = recorder.Path()
		}), nil
	}

	path, err := o.recorder.Stop()
	o.recorder = nil
	if err != nil {
		logger.Base().Warn("failed to finalize recording", zap.String("call_id", callID), zap.Error(err))
	}
	if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, domain.SignalRecordingStop, struct{}{}); err != nil {
		logger.Base().Warn("failed to announce recording stop", zap.String("call_id", callID), zap.Error(err))
	}
	o.notifier.Toast("Recording saved to " + path)
	return o.state.mutate(func(a *ActiveCall) {
		a.IsRecording = false
		a.RecordingPath = path
	}), nil
}

// SwitchCamera swaps the camera mid-call.
func (o *Orchestrator) SwitchCamera(ctx context.Context, deviceID string) (*ActiveCall, error) {
	return o.switchDevice(ctx, media.DeviceKindCamera, deviceID)
}

// SwitchMicrophone swaps the microphone mid-call.
func (o *Orchestrator) SwitchMicrophone(ctx context.Context, deviceID string) (*ActiveCall, error) {
	return o.switchDevice(ctx, media.DeviceKindMicrophone, deviceID)
}

// switchDevice re-acquires the local stream with the new device and swaps
// the outgoing tracks without renegotiation. Overlapping switches are
// rejected, not queued: a half-finished swap must never race another.
func (o *Orchestrator) switchDevice(ctx context.Context, kind media.DeviceKind, deviceID string) (*ActiveCall, error) {
	if !o.switchMu.TryLock() {
		return nil, &DeviceSwitchError{Kind: kind, Err: errors.New("another device switch is in progress")}
	}
	defer o.switchMu.Unlock()

	o.callMu.Lock()
	defer o.callMu.Unlock()

	active := o.state.Current()
	if active == nil {
		return nil, ErrNoActiveCall
	}
	callID := active.Session.ID

	sel := media.Selection{
		CameraID:     active.SelectedCamera,
		MicrophoneID: active.SelectedMicrophone,
	}
	var signalType domain.SignalType
	switch kind {
	case media.DeviceKindCamera:
		sel.CameraID = deviceID
		signalType = domain.SignalCameraSwitch
	case media.DeviceKindMicrophone:
		sel.MicrophoneID = deviceID
		signalType = domain.SignalAudioSwitch
	default:
		return nil, &DeviceSwitchError{Kind: kind, Err: errors.New("kind cannot be switched mid-call")}
	}

	next, err := o.source.Acquire(ctx, active.Session.CallType, sel)
	if err != nil {
		return nil, &DeviceSwitchError{Kind: kind, Err: err}
	}
	// Replace every outgoing track: the old stream is closed whole, so both
	// senders must point at the new capture before it goes away. Screen share
	// keeps the video sender; skip it then.
	for _, track := range next.Tracks() {
		if track.Kind() == media.TrackKindVideo && active.IsScreenSharing {
			continue
		}
		if err := o.link.ReplaceTrack(track.Kind(), track); err != nil {
			next.Close()
			return nil, &DeviceSwitchError{Kind: kind, Err: err}
		}
	}
	if audio, ok := next.TrackOfKind(media.TrackKindAudio); ok {
		audio.SetEnabled(active.IsAudioEnabled)
	}
	if video, ok := next.TrackOfKind(media.TrackKindVideo); ok {
		video.SetEnabled(active.IsVideoEnabled)
	}
	active.LocalStream.Close()

	if _, err := o.bus.SendSignal(ctx, callID, o.cfg.SelfID, signalType, domain.DeviceSwitch{DeviceID: deviceID}); err != nil {
		logger.Base().Warn("failed to announce device switch", zap.String("call_id", callID), zap.Error(err))
	}

	logger.Base().Info("device switched",
		zap.String("call_id", callID),
		zap.String("kind", string(kind)),
		zap.String("device_id", deviceID))
	return o.state.mutate(func(a *ActiveCall) {
		a.LocalStream = next
		switch kind {
		case media.DeviceKindCamera:
			a.SelectedCamera = deviceID
		case media.DeviceKindMicrophone:
			a.SelectedMicrophone = deviceID
		}
	}), nil
}

// SelectSpeaker records the playback device choice. Playback routing is a
// platform concern; no capture or signaling changes.
func (o *Orchestrator) SelectSpeaker(deviceID string) (*ActiveCall, error) {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.state.Current() == nil {
		return nil, ErrNoActiveCall
	}
	return o.state.mutate(func(a *ActiveCall) { a.SelectedSpeaker = deviceID }), nil
}

// SetVolume adjusts local or remote playback volume (0-100). Volume is a
// local playback concern and is never emitted as a signal.
func (o *Orchestrator) SetVolume(remote bool, volume int) (*ActiveCall, error) {
	if volume < 0 || volume > 100 {
		return nil, fmt.Errorf("volume %d out of range", volume)
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.state.Current() == nil {
		return nil, ErrNoActiveCall
	}
	return o.state.mutate(func(a *ActiveCall) {
		if remote {
			a.RemoteVolume = volume
		} else {
			a.LocalVolume = volume
		}
	}), nil
}

// RefreshDevices re-enumerates the device inventory into the snapshot.
func (o *Orchestrator) RefreshDevices(ctx context.Context) (*ActiveCall, error) {
	devices := o.source.EnumerateDevices(ctx)
	o.callMu.Lock()
	defer o.callMu.Unlock()
	if o.state.Current() == nil {
		return nil, ErrNoActiveCall
	}
	return o.state.mutate(func(a *ActiveCall) { a.Devices = devices }), nil
}

// SendMessage posts an in-call chat message. The sender's own copy arrives
// back through the call channel, which is the single ordering source for
// the chat view.
func (o *Orchestrator) SendMessage(ctx context.Context, content string) error {
	active := o.state.Current()
	if active == nil {
		return ErrNoActiveCall
	}
	_, err := o.bus.SendMessage(ctx, active.Session.ID, o.cfg.SelfID, content)
	return err
}

// MessageHistory loads the persisted chat log of a call.
func (o *Orchestrator) MessageHistory(ctx context.Context, callID string) ([]*domain.CallMessage, error) {
	return o.repos.Messages().ListByCall(ctx, callID)
}
