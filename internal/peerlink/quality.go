package peerlink

import "github.com/reelchat/call-service/internal/domain"

// Classify maps the latest stats sample to a coarse connection quality.
// Precedence order matters: loss dominates, then jitter, then round trip.
//
// domain.QualityGood is never produced here; the thresholds that would map
// to it are unconfirmed. Do not invent them — see DESIGN.md.
func Classify(s domain.CallStats) domain.ConnectionQuality {
	switch {
	case s.PacketsLost > 10:
		return domain.QualityPoor
	case s.PacketsLost > 5:
		return domain.QualityFair
	case s.JitterMs > 30:
		return domain.QualityFair
	case s.RoundTripMs > 200:
		return domain.QualityFair
	default:
		return domain.QualityExcellent
	}
}
