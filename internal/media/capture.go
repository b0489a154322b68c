package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// Capture quality defaults. Audio is 48 kHz mono Opus; video targets
// 1280x720 at 30 fps. Specific device ids in a Selection override the
// platform default device but not these quality targets.
const (
	defaultSampleRate   = 48000
	defaultChannels     = 1
	defaultVideoWidth   = 1280
	defaultVideoHeight  = 720
	defaultVideoFPS     = 30
	defaultVideoBitrate = 1_500_000
)

// CaptureSource is the pion/mediadevices backed Source. Camera, microphone
// and screen drivers register themselves via the build-tagged imports in
// drivers_linux.go; on platforms without drivers every Acquire fails with an
// AccessError.
type CaptureSource struct {
	codecSelector *mediadevices.CodecSelector
}

// NewCaptureSource builds a capture source with VP9+Opus encoders.
func NewCaptureSource() (*CaptureSource, error) {
	vp9Params, err := vpx.NewVP9Params()
	if err != nil {
		return nil, &AccessError{Op: "init-vp9", Err: err}
	}
	vp9Params.BitRate = defaultVideoBitrate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, &AccessError{Op: "init-opus", Err: err}
	}

	return &CaptureSource{
		codecSelector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vp9Params),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// CodecSelector exposes the selector so the peer link can populate its media
// engine with the same codecs the capture pipeline produces.
func (s *CaptureSource) CodecSelector() *mediadevices.CodecSelector {
	return s.codecSelector
}

// Acquire requests microphone (always) and camera (video calls only) capture.
func (s *CaptureSource) Acquire(ctx context.Context, callType domain.CallType, sel Selection) (Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: s.codecSelector}

	constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
		c.SampleRate = prop.Int(defaultSampleRate)
		c.ChannelCount = prop.Int(defaultChannels)
		if sel.MicrophoneID != "" {
			c.DeviceID = prop.String(sel.MicrophoneID)
		}
	}

	if callType == domain.CallTypeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Ideal: defaultVideoWidth}
			c.Height = prop.IntRanged{Ideal: defaultVideoHeight}
			c.FrameRate = prop.FloatRanged{Ideal: defaultVideoFPS}
			// Raw formats only; MJPEG camera nodes can poison the VP9 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if sel.CameraID != "" {
				c.DeviceID = prop.String(sel.CameraID)
			}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, &AccessError{Op: "get-user-media", Err: err}
	}
	return newCaptureStream(stream), nil
}

// AcquireDisplay captures the screen for sharing.
func (s *CaptureSource) AcquireDisplay(ctx context.Context) (Stream, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: s.codecSelector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.FloatRanged{Ideal: defaultVideoFPS}
		},
	})
	if err != nil {
		return nil, &AccessError{Op: "get-display-media", Err: err}
	}
	return newCaptureStream(stream), nil
}

// EnumerateDevices partitions the platform device list. Never fails; an empty
// inventory means the selector stays hidden.
func (s *CaptureSource) EnumerateDevices(ctx context.Context) DeviceList {
	infos := mediadevices.EnumerateDevices()
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		var kind DeviceKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = DeviceKindCamera
		case mediadevices.AudioInput:
			kind = DeviceKindMicrophone
		case mediadevices.AudioOutput:
			kind = DeviceKindSpeaker
		default:
			continue
		}
		devices = append(devices, Device{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return Partition(devices)
}

// captureStream adapts a mediadevices.MediaStream to the Stream interface.
type captureStream struct {
	id     string
	stream mediadevices.MediaStream
	tracks []*captureTrack

	closeOnce sync.Once
}

func newCaptureStream(stream mediadevices.MediaStream) *captureStream {
	cs := &captureStream{id: uuid.New().String(), stream: stream}
	for _, t := range stream.GetTracks() {
		kind := TrackKindAudio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackKindVideo
		}
		cs.tracks = append(cs.tracks, &captureTrack{track: t, kind: kind, enabled: true})
	}
	return cs
}

func (s *captureStream) ID() string {
	return s.id
}

func (s *captureStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *captureStream) TrackOfKind(kind TrackKind) (Track, bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *captureStream) Close() {
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
	})
}

// AudioReader implements Recordable.
func (s *captureStream) AudioReader() (FrameReader, error) {
	return s.encodedReader(TrackKindAudio, webrtc.MimeTypeOpus)
}

// VideoReader implements Recordable.
func (s *captureStream) VideoReader() (FrameReader, error) {
	return s.encodedReader(TrackKindVideo, webrtc.MimeTypeVP9)
}

func (s *captureStream) encodedReader(kind TrackKind, mime string) (FrameReader, error) {
	for _, t := range s.tracks {
		if t.kind != kind {
			continue
		}
		r, err := t.track.NewEncodedReader(mime)
		if err != nil {
			return nil, &AccessError{Op: "encoded-reader", Err: err}
		}
		return &encodedFrameReader{reader: r, video: kind == TrackKindVideo, start: time.Now()}, nil
	}
	return nil, &AccessError{Op: "encoded-reader", Err: errNoTrack(kind)}
}

type errNoTrack TrackKind

func (e errNoTrack) Error() string {
	return "stream has no " + string(e) + " track"
}

// captureTrack adapts a mediadevices.Track. The enabled flag mirrors the
// track-level mute state the orchestrator toggles.
type captureTrack struct {
	track mediadevices.Track
	kind  TrackKind

	mu       sync.Mutex
	enabled  bool
	stopOnce sync.Once
}

func (t *captureTrack) ID() string {
	return t.track.ID()
}

func (t *captureTrack) Kind() TrackKind {
	return t.kind
}

func (t *captureTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *captureTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *captureTrack) OnEnded(handler func()) {
	t.track.OnEnded(func(error) { handler() })
}

func (t *captureTrack) Stop() {
	t.stopOnce.Do(func() {
		if err := t.track.Close(); err != nil {
			logger.Base().Warn("failed to close capture track", zap.String("track_id", t.track.ID()), zap.Error(err))
		}
	})
}

// Local exposes the underlying pion track for binding to a peer connection.
func (t *captureTrack) Local() webrtc.TrackLocal {
	return t.track
}

// encodedFrameReader stamps mediadevices encoded buffers with a wall-clock
// timestamp relative to reader start and flags VP9 keyframes.
type encodedFrameReader struct {
	reader mediadevices.EncodedReadCloser
	video  bool
	start  time.Time
}

func (r *encodedFrameReader) ReadFrame() (EncodedFrame, error) {
	buf, release, err := r.reader.Read()
	if err != nil {
		return EncodedFrame{}, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	release()

	out := EncodedFrame{
		TimestampMs: time.Since(r.start).Milliseconds(),
		Data:        data,
	}
	if r.video {
		out.Keyframe = vp9IsKeyframe(data)
	} else {
		out.Keyframe = true // every Opus frame is independently decodable
	}
	return out, nil
}

func (r *encodedFrameReader) Close() error {
	return r.reader.Close()
}

// vp9IsKeyframe inspects the VP9 uncompressed header (profile 0 layout):
// frame_marker(2) profile_low(1) profile_high(1) show_existing_frame(1)
// frame_type(1), where frame_type 0 is a keyframe.
func vp9IsKeyframe(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	if b>>6 != 0x2 { // frame_marker must be 0b10
		return false
	}
	if b&0x08 != 0 { // show_existing_frame: no new header follows
		return false
	}
	return b&0x04 == 0
}
