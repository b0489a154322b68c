// Package media acquires and releases local capture streams and enumerates
// input/output devices. The production implementation sits on
// pion/mediadevices; the orchestrator only sees the interfaces below.
package media

import (
	"context"
	"fmt"

	"github.com/reelchat/call-service/internal/domain"
)

// TrackKind is one media stream component kind.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is one audio or video component of a capture stream.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers a handler invoked once when the underlying capture
	// ends, whether by Stop or because the platform revoked it (a shared
	// window closed, a capture permission withdrawn).
	OnEnded(handler func())
	// Stop releases the underlying capture. Idempotent.
	Stop()
}

// Stream is a set of tracks acquired together.
type Stream interface {
	ID() string
	Tracks() []Track
	TrackOfKind(kind TrackKind) (Track, bool)
	// Close stops every track. Idempotent.
	Close()
}

// Selection names specific capture devices; empty fields mean platform default.
type Selection struct {
	CameraID     string
	MicrophoneID string
}

// Source acquires local media. Acquire requests a microphone always and a
// camera only for video calls; AcquireDisplay captures the screen for
// screen sharing.
type Source interface {
	Acquire(ctx context.Context, callType domain.CallType, sel Selection) (Stream, error)
	AcquireDisplay(ctx context.Context) (Stream, error)
	// EnumerateDevices partitions the platform device list by kind. It never
	// fails: enumeration errors yield empty lists, which callers must treat
	// as "selector hidden", not as an error state.
	EnumerateDevices(ctx context.Context) DeviceList
}

// AccessError reports a permission or device failure during acquisition. The
// caller must surface a user-facing message and abort the call attempt.
type AccessError struct {
	Op  string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("media access failed (%s): %v", e.Op, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// EncodedFrame is one encoded media frame read from a recordable track.
type EncodedFrame struct {
	TimestampMs int64
	Keyframe    bool
	Data        []byte
}

// FrameReader delivers encoded frames for recording. ReadFrame blocks until
// the next frame is ready.
type FrameReader interface {
	ReadFrame() (EncodedFrame, error)
	Close() error
}

// Recordable is implemented by streams whose tracks can feed the local
// recorder. AudioReader returns Opus frames; VideoReader returns VP9 frames
// and is absent (error) on audio-only streams.
type Recordable interface {
	AudioReader() (FrameReader, error)
	VideoReader() (FrameReader, error)
}
