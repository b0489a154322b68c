package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalType identifies the kind of control message exchanged between the two
// call participants. Signals are append-only rows; consumers filter out
// signals authored by themselves.
type SignalType string

const (
	SignalOffer            SignalType = "offer"
	SignalAnswer           SignalType = "answer"
	SignalICECandidate     SignalType = "ice-candidate"
	SignalHangup           SignalType = "hangup"
	SignalScreenShareStart SignalType = "screen-share-start"
	SignalScreenShareStop  SignalType = "screen-share-stop"
	SignalRecordingStart   SignalType = "recording-start"
	SignalRecordingStop    SignalType = "recording-stop"
	SignalVolumeControl    SignalType = "volume-control"
	SignalCameraSwitch     SignalType = "camera-switch"
	SignalAudioSwitch      SignalType = "audio-switch"
)

// CallSignal is one directed control/negotiation message addressed to a call.
// SignalData is a structured payload whose shape is keyed by SignalType.
type CallSignal struct {
	ID         string          `json:"id" gorm:"column:id;primaryKey"`
	CallID     string          `json:"call_id" gorm:"column:call_id;index"`
	SenderID   string          `json:"sender_id" gorm:"column:sender_id"`
	SignalType SignalType      `json:"signal_type" gorm:"column:signal_type"`
	SignalData json.RawMessage `json:"signal_data" gorm:"column:signal_data;type:jsonb"`
	CreatedAt  time.Time       `json:"created_at" gorm:"column:created_at"`
}

func (CallSignal) TableName() string {
	return "call_signals"
}

// SessionDescription carries an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// ICECandidate is one network path proposal. Pointer fields mirror the wire
// format, where mid/line-index may be absent.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// DeviceSwitch is the payload for camera-switch and audio-switch signals.
type DeviceSwitch struct {
	DeviceID string `json:"deviceId"`
}

// VolumeControl is the payload for volume-control signals. Volume is 0-100.
type VolumeControl struct {
	Volume int `json:"volume"`
}

// MarshalPayload encodes a signal payload for persistence.
func MarshalPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signal payload: %w", err)
	}
	return data, nil
}

// DecodeSessionDescription extracts an SDP payload from an offer or answer
// signal.
func (s *CallSignal) DecodeSessionDescription() (SessionDescription, error) {
	var desc SessionDescription
	if err := json.Unmarshal(s.SignalData, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("malformed %s payload: %w", s.SignalType, err)
	}
	if desc.SDP == "" {
		return SessionDescription{}, fmt.Errorf("malformed %s payload: empty sdp", s.SignalType)
	}
	return desc, nil
}

// DecodeICECandidate extracts a candidate payload from an ice-candidate signal.
func (s *CallSignal) DecodeICECandidate() (ICECandidate, error) {
	var cand ICECandidate
	if err := json.Unmarshal(s.SignalData, &cand); err != nil {
		return ICECandidate{}, fmt.Errorf("malformed ice-candidate payload: %w", err)
	}
	if cand.Candidate == "" {
		return ICECandidate{}, fmt.Errorf("malformed ice-candidate payload: empty candidate")
	}
	return cand, nil
}

// DecodeDeviceSwitch extracts the device id from a camera-switch or
// audio-switch signal.
func (s *CallSignal) DecodeDeviceSwitch() (DeviceSwitch, error) {
	var sw DeviceSwitch
	if err := json.Unmarshal(s.SignalData, &sw); err != nil {
		return DeviceSwitch{}, fmt.Errorf("malformed %s payload: %w", s.SignalType, err)
	}
	return sw, nil
}

// DecodeVolumeControl extracts the volume from a volume-control signal.
func (s *CallSignal) DecodeVolumeControl() (VolumeControl, error) {
	var vc VolumeControl
	if err := json.Unmarshal(s.SignalData, &vc); err != nil {
		return VolumeControl{}, fmt.Errorf("malformed volume-control payload: %w", err)
	}
	if vc.Volume < 0 || vc.Volume > 100 {
		return VolumeControl{}, fmt.Errorf("malformed volume-control payload: volume %d out of range", vc.Volume)
	}
	return vc, nil
}
