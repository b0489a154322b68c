package domain

import "time"

// ConnectionQuality is a coarse classification of live transport health.
//
// QualityGood is declared for parity with the classification surface but the
// current policy never produces it; the thresholds that would map to "good"
// are unconfirmed. See DESIGN.md.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
)

// CallStats is one transport statistics sample. Only the latest sample is
// retained; samples are not accumulated historically.
type CallStats struct {
	PacketsReceived uint64    `json:"packets_received"`
	PacketsLost     int64     `json:"packets_lost"`
	BytesReceived   uint64    `json:"bytes_received"`
	BytesSent       uint64    `json:"bytes_sent"`
	JitterMs        float64   `json:"jitter_ms"`
	RoundTripMs     float64   `json:"round_trip_ms"`
	FrameWidth      int       `json:"frame_width,omitempty"`
	FrameHeight     int       `json:"frame_height,omitempty"`
	FramesPerSecond float64   `json:"frames_per_second,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
