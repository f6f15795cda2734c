package rtp

import (
	"time"

	"github.com/pion/rtcp"
)

// SenderReportSnapshot is the reference point an inbound RTCP Sender
// Report gives us for NPT<->wallclock mapping, surfaced to the caller as
// CodecItem::SenderReport (spec.md §3, §4.7).
type SenderReportSnapshot struct {
	SSRC      uint32
	NTPTime   NtpTimestamp
	RTPTime   uint32
	PacketCnt uint32
	OctetCnt  uint32
	RecvAt    time.Time
}

// ReceptionStats accumulates what RFC 3550 Appendix A.3 needs to build a
// Receiver Report for one stream: highest sequence seen, cumulative loss,
// and an exponentially-smoothed jitter estimate. Grounded on the teacher's
// RTPReadStats/parseReceptionReport (media/rtp_session.go), generalized
// from "the one RTP session this call has" to one instance per Stream.
type ReceptionStats struct {
	SSRC                   uint32
	initialized            bool
	firstSeq               uint16
	highestExtendedSeq     uint64
	totalPackets           uint64
	cumulativeLost         uint64
	jitter                 float64
	lastTimestamp          uint32
	lastArrival            time.Time
	lastSenderReportNTP    uint64
	lastSenderReportRecvAt time.Time
}

// Observe folds one delivered packet into the running reception stats.
// clockRate is the stream's RTP clock rate, needed to compare the RTP
// timestamp delta against the wallclock delta when estimating jitter.
func (s *ReceptionStats) Observe(clockRate uint32, pkt *Packet, now time.Time) {
	if !s.initialized {
		s.SSRC = pkt.SSRC
		s.firstSeq = pkt.SequenceNumber
		s.initialized = true
	} else if s.lastTimestamp != 0 || !s.lastArrival.IsZero() {
		sij := int64(pkt.Timestamp.Raw()) - int64(s.lastTimestamp)
		rij := now.Sub(s.lastArrival).Seconds() * float64(clockRate)
		d := rij - float64(sij)
		if d < 0 {
			d = -d
		}
		s.jitter += (d - s.jitter) / 16
	}

	s.highestExtendedSeq = pkt.ExtendedSequenceNumber
	s.cumulativeLost += uint64(pkt.Loss)
	s.totalPackets++
	s.lastTimestamp = pkt.Timestamp.Raw()
	s.lastArrival = now
}

// ObserveSenderReport records an inbound SR's NTP/RTP pair as the
// reference for round-trip estimation in the next Receiver Report.
func (s *ReceptionStats) ObserveSenderReport(sr *rtcp.SenderReport, now time.Time) {
	if s.SSRC == 0 {
		s.SSRC = sr.SSRC
	}
	s.lastSenderReportNTP = sr.NTPTime
	s.lastSenderReportRecvAt = now
}

// BuildReceiverReport constructs a minimal RR from the accumulated stats,
// per spec.md §4.7.
func (s *ReceptionStats) BuildReceiverReport(now time.Time) *rtcp.ReceiverReport {
	if !s.initialized {
		return nil
	}

	expected := s.highestExtendedSeq - uint64(s.firstSeq) + 1
	lost := s.cumulativeLost
	fractionLost := 0.0
	if expected > 0 {
		fractionLost = float64(lost) / float64(expected)
		if fractionLost < 0 {
			fractionLost = 0
		}
	}

	var delay time.Duration
	if !s.lastSenderReportRecvAt.IsZero() {
		delay = now.Sub(s.lastSenderReportRecvAt)
	}

	return &rtcp.ReceiverReport{
		SSRC: s.SSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               s.SSRC,
			FractionLost:       uint8(clampFloat(fractionLost*256, 0, 255)),
			TotalLost:          uint32(clampUint64(lost, 1<<32-1)),
			LastSequenceNumber: uint32(s.highestExtendedSeq),
			Jitter:             uint32(s.jitter),
			LastSenderReport:   uint32(s.lastSenderReportNTP >> 16),
			Delay:              uint32(delay.Seconds() * 65536),
		}},
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUint64(v, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

// RTCPHandler parses inbound compound RTCP packets and produces outbound
// Receiver Reports, per spec.md §4.7. One handler is owned per Stream.
type RTCPHandler struct {
	Stats ReceptionStats

	// OnMalformed, if set, is called instead of silently dropping a
	// parse error; malformed RTCP is never fatal to the session
	// (spec.md §4.7, §7).
	OnMalformed func(err error)
}

// HandleCompound parses one compound RTCP packet read off the wire and
// returns any Sender Reports it contained. SDES and BYE packets update no
// caller-visible state beyond being accepted without error; unparseable
// bytes are reported via OnMalformed (if set) and otherwise swallowed.
func (h *RTCPHandler) HandleCompound(data []byte, now time.Time) []SenderReportSnapshot {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		if h.OnMalformed != nil {
			h.OnMalformed(err)
		}
		return nil
	}

	var reports []SenderReportSnapshot
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			h.Stats.ObserveSenderReport(p, now)
			reports = append(reports, SenderReportSnapshot{
				SSRC:      p.SSRC,
				NTPTime:   NtpTimestamp(p.NTPTime),
				RTPTime:   p.RTPTime,
				PacketCnt: p.PacketCount,
				OctetCnt:  p.OctetCount,
				RecvAt:    now,
			})
		case *rtcp.ReceiverReport, *rtcp.SourceDescription, *rtcp.Goodbye:
			// Nothing further to do: we're a receiving client, not a
			// mixer, so peer RRs/SDES/BYE are accepted and ignored.
		default:
			// Unknown compound member; accepted and ignored per
			// spec.md §4.7 "malformed RTCP is logged and skipped".
		}
	}
	return reports
}
