package codec

import "github.com/mistnet/rtsp/rtp"

// MessageLayerDepacketizer depacketizes media this module has no
// codec-specific assembly for: one RTP packet maps to exactly one
// MessageLayer item, payload carried verbatim. Grounded on FixedSizeAudio's
// one-packet-one-item shape, generalized to make no assumption about
// payload structure at all.
type MessageLayerDepacketizer struct {
	clockRate uint32
	pending   *MessageLayer
}

// NewMessageLayer constructs a pass-through depacketizer. clockRate is
// whatever rtpmap entry Setup resolved for the media section, or zero if
// none was present; callers should treat a zero ClockRate from Parameters
// as "NPT unavailable for this stream" rather than an error.
func NewMessageLayer(clockRate uint32) *MessageLayerDepacketizer {
	return &MessageLayerDepacketizer{clockRate: clockRate}
}

func (m *MessageLayerDepacketizer) Parameters() (Parameters, bool) {
	if m.clockRate == 0 {
		return Parameters{}, false
	}
	return Parameters{ClockRate: m.clockRate}, true
}

func (m *MessageLayerDepacketizer) Push(pkt *rtp.Packet) error {
	if m.pending != nil {
		return ErrPullFirst
	}
	m.pending = &MessageLayer{Payload: pkt.Payload, Timestamp: pkt.Timestamp}
	return nil
}

func (m *MessageLayerDepacketizer) Pull() (CodecItem, bool) {
	if m.pending == nil {
		return nil, false
	}
	item := *m.pending
	m.pending = nil
	return item, true
}
