package handler

import (
	"encoding/json"
	"net/http"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/orchestrator"
	"github.com/reelchat/call-service/internal/peerlink"
)

// ActiveCallView is the JSON shape of a call snapshot. Live handles
// (capture streams, peer connection) stay server-side; clients get ids and
// flags.
type ActiveCallView struct {
	Session *domain.CallSession `json:"session"`
	Peer    *domain.Profile     `json:"peer,omitempty"`

	LocalStreamID string                   `json:"local_stream_id,omitempty"`
	RemoteStream  peerlink.RemoteStream    `json:"remote_stream"`
	Connection    peerlink.ConnectionState `json:"connection"`

	IsAudioEnabled  bool   `json:"is_audio_enabled"`
	IsVideoEnabled  bool   `json:"is_video_enabled"`
	IsScreenSharing bool   `json:"is_screen_sharing"`
	IsRecording     bool   `json:"is_recording"`
	RecordingPath   string `json:"recording_path,omitempty"`

	PeerScreenSharing bool `json:"peer_screen_sharing"`
	PeerRecording     bool `json:"peer_recording"`

	LocalVolume  int `json:"local_volume"`
	RemoteVolume int `json:"remote_volume"`

	SelectedCamera     string           `json:"selected_camera,omitempty"`
	SelectedMicrophone string           `json:"selected_microphone,omitempty"`
	SelectedSpeaker    string           `json:"selected_speaker,omitempty"`
	Devices            media.DeviceList `json:"devices"`

	Quality domain.ConnectionQuality `json:"quality,omitempty"`
	Stats   domain.CallStats         `json:"stats"`

	Messages []*domain.CallMessage `json:"messages"`
}

// IncomingCallView is the JSON shape of a pending ring.
type IncomingCallView struct {
	Session *domain.CallSession `json:"session"`
	Caller  *domain.Profile     `json:"caller,omitempty"`
}

func callView(a *orchestrator.ActiveCall) *ActiveCallView {
	if a == nil {
		return nil
	}
	view := &ActiveCallView{
		Session:            a.Session,
		Peer:               a.Peer,
		RemoteStream:       a.Remote,
		Connection:         a.Connection,
		IsAudioEnabled:     a.IsAudioEnabled,
		IsVideoEnabled:     a.IsVideoEnabled,
		IsScreenSharing:    a.IsScreenSharing,
		IsRecording:        a.IsRecording,
		RecordingPath:      a.RecordingPath,
		PeerScreenSharing:  a.PeerScreenSharing,
		PeerRecording:      a.PeerRecording,
		LocalVolume:        a.LocalVolume,
		RemoteVolume:       a.RemoteVolume,
		SelectedCamera:     a.SelectedCamera,
		SelectedMicrophone: a.SelectedMicrophone,
		SelectedSpeaker:    a.SelectedSpeaker,
		Devices:            a.Devices,
		Quality:            a.Quality,
		Stats:              a.Stats,
		Messages:           a.Messages,
	}
	if a.LocalStream != nil {
		view.LocalStreamID = a.LocalStream.ID()
	}
	return view
}

func incomingView(ic *orchestrator.IncomingCall) *IncomingCallView {
	if ic == nil {
		return nil
	}
	return &IncomingCallView{Session: ic.Session, Caller: ic.Caller}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
