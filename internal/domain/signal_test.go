package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSessionDescription(t *testing.T) {
	data, err := MarshalPayload(SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	require.NoError(t, err)

	sig := &CallSignal{SignalType: SignalOffer, SignalData: data}
	desc, err := sig.DecodeSessionDescription()
	require.NoError(t, err)
	assert.Equal(t, "offer", desc.Type)
	assert.Equal(t, "v=0\r\n", desc.SDP)
}

func TestDecodeSessionDescriptionMalformed(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		sig := &CallSignal{SignalType: SignalOffer, SignalData: json.RawMessage(`not-json`)}
		_, err := sig.DecodeSessionDescription()
		assert.ErrorContains(t, err, "malformed offer payload")
	})

	t.Run("empty sdp", func(t *testing.T) {
		sig := &CallSignal{SignalType: SignalAnswer, SignalData: json.RawMessage(`{"type":"answer","sdp":""}`)}
		_, err := sig.DecodeSessionDescription()
		assert.ErrorContains(t, err, "empty sdp")
	})
}

func TestDecodeICECandidate(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	data, err := MarshalPayload(ICECandidate{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	require.NoError(t, err)

	sig := &CallSignal{SignalType: SignalICECandidate, SignalData: data}
	cand, err := sig.DecodeICECandidate()
	require.NoError(t, err)
	assert.Contains(t, cand.Candidate, "typ host")
	require.NotNil(t, cand.SDPMid)
	assert.Equal(t, "0", *cand.SDPMid)

	sig.SignalData = json.RawMessage(`{"candidate":""}`)
	_, err = sig.DecodeICECandidate()
	assert.ErrorContains(t, err, "empty candidate")
}

func TestDecodeDeviceSwitch(t *testing.T) {
	sig := &CallSignal{SignalType: SignalCameraSwitch, SignalData: json.RawMessage(`{"deviceId":"cam-2"}`)}
	sw, err := sig.DecodeDeviceSwitch()
	require.NoError(t, err)
	assert.Equal(t, "cam-2", sw.DeviceID)
}

func TestDecodeVolumeControl(t *testing.T) {
	sig := &CallSignal{SignalType: SignalVolumeControl, SignalData: json.RawMessage(`{"volume":40}`)}
	vc, err := sig.DecodeVolumeControl()
	require.NoError(t, err)
	assert.Equal(t, 40, vc.Volume)

	sig.SignalData = json.RawMessage(`{"volume":150}`)
	_, err = sig.DecodeVolumeControl()
	assert.ErrorContains(t, err, "out of range")
}
