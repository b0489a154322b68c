// Package recording writes local call recordings as WebM files containing
// VP9 video and Opus audio. The EBML encoding is self-contained; the frames
// come pre-encoded from the capture pipeline.
package recording

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ebmlVint encodes v as an EBML variable-length integer for element sizes.
func ebmlVint(v uint64) []byte {
	switch {
	case v < 0x7F:
		return []byte{byte(0x80 | v)}
	case v < 0x3FFF:
		return []byte{byte(0x40 | (v >> 8)), byte(v)}
	case v < 0x1FFFFF:
		return []byte{byte(0x20 | (v >> 16)), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(0x10 | (v >> 24)), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// ebmlUnknownSize marks a Segment whose length is not known at write time,
// which is the case for a recording that ends whenever the user stops it.
var ebmlUnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func ebmlElem(id, data []byte) []byte {
	b := make([]byte, 0, len(id)+8+len(data))
	b = append(b, id...)
	b = append(b, ebmlVint(uint64(len(data)))...)
	return append(b, data...)
}

func ebmlUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func ebmlConcat(slices ...[]byte) []byte {
	n := 0
	for _, s := range slices {
		n += len(s)
	}
	b := make([]byte, 0, n)
	for _, s := range slices {
		b = append(b, s...)
	}
	return b
}

var (
	idEBML         = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion  = []byte{0x42, 0x86}
	idEBMLReadVer  = []byte{0x42, 0xF7}
	idEBMLMaxIDLen = []byte{0x42, 0xF2}
	idEBMLMaxSzLen = []byte{0x42, 0xF3}
	idDocType      = []byte{0x42, 0x82}
	idDocTypeVer   = []byte{0x42, 0x87}
	idDocTypeRdVer = []byte{0x42, 0x85}
	idSegment      = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo         = []byte{0x15, 0x49, 0xA9, 0x66}
	idTcScale      = []byte{0x2A, 0xD7, 0xB1}
	idMuxApp       = []byte{0x4D, 0x80}
	idWrtApp       = []byte{0x57, 0x41}
	idTracks       = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry   = []byte{0xAE}
	idTrackNum     = []byte{0xD7}
	idTrackUID     = []byte{0x73, 0xC5}
	idTrackType    = []byte{0x83}
	idCodecID      = []byte{0x86}
	idCodecPrv     = []byte{0x63, 0xA2}
	idVideo        = []byte{0xE0}
	idPixelW       = []byte{0xB0}
	idPixelH       = []byte{0xBA}
	idAudio        = []byte{0xE1}
	idSampFreq     = []byte{0xB5}
	idChannels     = []byte{0x9F}
	idCluster      = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode     = []byte{0xE7}
	idSimpleBlock  = []byte{0xA3}
)

// opusHead is the OpusHead codec private data for mono 48 kHz Opus, matching
// the capture defaults. WebM requires it on Opus tracks.
var opusHead = []byte{
	'O', 'p', 'u', 's', 'H', 'e', 'a', 'd',
	0x01,       // version
	0x01,       // channels
	0x38, 0x01, // pre-skip 312 (LE)
	0x80, 0xBB, 0x00, 0x00, // input sample rate 48000 (LE)
	0x00, 0x00, // output gain
	0x00, // channel mapping family
}

const (
	videoTrackNum = 1
	audioTrackNum = 2

	// clusterSpanMs caps a cluster's duration so SimpleBlock relative
	// timecodes never overflow their signed 16-bit field.
	clusterSpanMs = 1000
)

// muxer writes one WebM file: header first, then known-size clusters. Video
// frames before the first keyframe are dropped so playback starts from a
// clean decode state. Not safe for concurrent use; the recorder serializes
// writers.
type muxer struct {
	w         io.Writer
	withVideo bool

	headerDone   bool
	videoStarted bool

	clusterOpen    bool
	clusterStartMs int64
	clusterBlocks  bytes.Buffer
}

func newMuxer(w io.Writer, withVideo bool, width, height uint16) (*muxer, error) {
	m := &muxer{w: w, withVideo: withVideo}
	if err := m.writeHeader(width, height); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *muxer) writeHeader(width, height uint16) error {
	var buf bytes.Buffer

	ebmlBody := ebmlConcat(
		ebmlElem(idEBMLVersion, ebmlUint(1)),
		ebmlElem(idEBMLReadVer, ebmlUint(1)),
		ebmlElem(idEBMLMaxIDLen, ebmlUint(4)),
		ebmlElem(idEBMLMaxSzLen, ebmlUint(8)),
		ebmlElem(idDocType, []byte("webm")),
		ebmlElem(idDocTypeVer, ebmlUint(2)),
		ebmlElem(idDocTypeRdVer, ebmlUint(2)),
	)
	buf.Write(ebmlElem(idEBML, ebmlBody))

	buf.Write(idSegment)
	buf.Write(ebmlUnknownSize)

	infoBody := ebmlConcat(
		ebmlElem(idTcScale, ebmlUint(1000000)), // 1 ms per timecode unit
		ebmlElem(idMuxApp, []byte("reelchat-call-service")),
		ebmlElem(idWrtApp, []byte("reelchat-call-service")),
	)
	buf.Write(ebmlElem(idInfo, infoBody))

	var tracksBody []byte
	if m.withVideo {
		videoBody := ebmlConcat(
			ebmlElem(idPixelW, ebmlUint(uint64(width))),
			ebmlElem(idPixelH, ebmlUint(uint64(height))),
		)
		videoEntry := ebmlConcat(
			ebmlElem(idTrackNum, ebmlUint(videoTrackNum)),
			ebmlElem(idTrackUID, ebmlUint(videoTrackNum)),
			ebmlElem(idTrackType, ebmlUint(1)),
			ebmlElem(idCodecID, []byte("V_VP9")),
			ebmlElem(idVideo, videoBody),
		)
		tracksBody = ebmlElem(idTrackEntry, videoEntry)
	}

	freqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(freqBytes, math.Float32bits(48000.0))
	audioBody := ebmlConcat(
		ebmlElem(idSampFreq, freqBytes),
		ebmlElem(idChannels, ebmlUint(1)),
	)
	audioEntry := ebmlConcat(
		ebmlElem(idTrackNum, ebmlUint(audioTrackNum)),
		ebmlElem(idTrackUID, ebmlUint(audioTrackNum)),
		ebmlElem(idTrackType, ebmlUint(2)),
		ebmlElem(idCodecID, []byte("A_OPUS")),
		ebmlElem(idCodecPrv, opusHead),
		ebmlElem(idAudio, audioBody),
	)
	tracksBody = ebmlConcat(tracksBody, ebmlElem(idTrackEntry, audioEntry))
	buf.Write(ebmlElem(idTracks, tracksBody))

	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write webm header: %w", err)
	}
	m.headerDone = true
	return nil
}

// WriteVideo appends an encoded VP9 frame. Keyframes and cluster-span
// overflows start a new cluster.
func (m *muxer) WriteVideo(tsMs int64, keyframe bool, data []byte) error {
	if !m.withVideo {
		return nil
	}
	if !m.videoStarted {
		if !keyframe {
			return nil
		}
		m.videoStarted = true
	}
	if err := m.rotateCluster(tsMs, keyframe); err != nil {
		return err
	}
	rel := int16(tsMs - m.clusterStartMs)
	m.clusterBlocks.Write(simpleBlock(videoTrackNum, rel, keyframe, data))
	return nil
}

// WriteAudio appends an encoded Opus frame. In an audio-only recording the
// audio track rotates clusters itself.
func (m *muxer) WriteAudio(tsMs int64, data []byte) error {
	if m.withVideo && !m.videoStarted {
		// Hold audio until video produces its first keyframe so both tracks
		// begin near the same timecode.
		return nil
	}
	if err := m.rotateCluster(tsMs, false); err != nil {
		return err
	}
	rel := int16(tsMs - m.clusterStartMs)
	m.clusterBlocks.Write(simpleBlock(audioTrackNum, rel, true, data))
	return nil
}

func (m *muxer) rotateCluster(tsMs int64, keyframe bool) error {
	if m.clusterOpen {
		span := tsMs - m.clusterStartMs
		if keyframe || span >= clusterSpanMs || span < 0 {
			if err := m.flush(); err != nil {
				return err
			}
		}
	}
	if !m.clusterOpen {
		m.clusterOpen = true
		m.clusterStartMs = tsMs
		m.clusterBlocks.Reset()
	}
	return nil
}

// Close flushes the open cluster. The file is valid without rewriting the
// Segment size because it was written as unknown-size.
func (m *muxer) Close() error {
	return m.flush()
}

func (m *muxer) flush() error {
	if !m.clusterOpen || m.clusterBlocks.Len() == 0 {
		m.clusterOpen = false
		return nil
	}
	tcElem := ebmlElem(idTimecode, ebmlUint(uint64(m.clusterStartMs)))
	cluster := ebmlElem(idCluster, ebmlConcat(tcElem, m.clusterBlocks.Bytes()))
	m.clusterOpen = false
	m.clusterBlocks.Reset()
	if _, err := m.w.Write(cluster); err != nil {
		return fmt.Errorf("failed to write webm cluster: %w", err)
	}
	return nil
}

// simpleBlock encodes one SimpleBlock element: track vint, signed 16-bit
// relative timecode, flags (0x80 for keyframes), frame data.
func simpleBlock(trackNum int, relMs int16, keyframe bool, data []byte) []byte {
	trackVint := ebmlVint(uint64(trackNum))
	var flags byte
	if keyframe {
		flags = 0x80
	}
	content := make([]byte, len(trackVint)+3+len(data))
	copy(content, trackVint)
	binary.BigEndian.PutUint16(content[len(trackVint):], uint16(relMs))
	content[len(trackVint)+2] = flags
	copy(content[len(trackVint)+3:], data)
	return ebmlElem(idSimpleBlock, content)
}
