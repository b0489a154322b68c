package peerlink

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// inboundStats keys one accounting per remote track (by SSRC). Audio and
// video carry independent sequence-number spaces and clock rates, so their
// counters must never share loss or jitter state.
type inboundStats struct {
	mu     sync.Mutex
	tracks map[uint32]*inboundAccounting
}

func newInboundStats() *inboundStats {
	return &inboundStats{tracks: make(map[uint32]*inboundAccounting)}
}

// track returns the accounting for one SSRC, creating it on first sight.
func (s *inboundStats) track(ssrc, clockRate uint32) *inboundAccounting {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.tracks[ssrc]; ok {
		return a
	}
	a := newInboundAccounting(clockRate)
	s.tracks[ssrc] = a
	return a
}

// snapshot sums the per-track counters. Jitter reports the worst track; the
// quality classification cares about the weakest leg, not an average.
func (s *inboundStats) snapshot() (packets, bytes uint64, lost int64, jitterMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.tracks {
		p, b, l, j := a.snapshot()
		packets += p
		bytes += b
		lost += l
		if j > jitterMs {
			jitterMs = j
		}
	}
	return packets, bytes, lost, jitterMs
}

// inboundAccounting tracks inbound RTP counters for one remote track:
// packet/byte totals, RFC 3550 cumulative loss from sequence numbers and
// interarrival jitter from RTP timestamps.
type inboundAccounting struct {
	mu sync.Mutex

	packets uint64
	bytes   uint64

	seqInit bool
	baseSeq uint32
	maxSeq  uint16
	cycles  uint32

	clockRate   float64
	lastTransit float64
	jitter      float64 // in clock-rate units
}

func newInboundAccounting(clockRate uint32) *inboundAccounting {
	if clockRate == 0 {
		clockRate = 90000
	}
	return &inboundAccounting{clockRate: float64(clockRate)}
}

// record accounts one received packet.
func (a *inboundAccounting) record(pkt *rtp.Packet, payloadLen int, arrival time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.packets++
	a.bytes += uint64(payloadLen)

	seq := pkt.SequenceNumber
	if !a.seqInit {
		a.seqInit = true
		a.baseSeq = uint32(seq)
		a.maxSeq = seq
	} else {
		// Sequence wrap: a small new number after a high max starts a cycle.
		if seq < a.maxSeq && a.maxSeq-seq > 0x8000 {
			a.cycles += 1 << 16
			a.maxSeq = seq
		} else if seq > a.maxSeq {
			a.maxSeq = seq
		}
	}

	// Interarrival jitter per RFC 3550 A.8, in clock-rate units.
	transit := float64(arrival.UnixNano())/1e9*a.clockRate - float64(pkt.Timestamp)
	if a.lastTransit != 0 {
		d := transit - a.lastTransit
		if d < 0 {
			d = -d
		}
		a.jitter += (d - a.jitter) / 16
	}
	a.lastTransit = transit
}

// snapshot returns (packets, bytes, cumulative lost, jitter in ms).
func (a *inboundAccounting) snapshot() (uint64, uint64, int64, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seqInit {
		return 0, 0, 0, 0
	}
	extendedMax := a.cycles + uint32(a.maxSeq)
	expected := int64(extendedMax) - int64(a.baseSeq) + 1
	lost := expected - int64(a.packets)
	if lost < 0 {
		lost = 0
	}
	jitterMs := a.jitter / a.clockRate * 1000
	return a.packets, a.bytes, lost, jitterMs
}
