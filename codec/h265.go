package codec

import (
	"fmt"

	"github.com/mistnet/rtsp/rtp"
	"github.com/pion/rtp/codecs"
)

// H.265 NAL unit type relevant to key-frame detection (ITU-T H.265 Table
// 7-1); the type occupies bits 1-6 of the first header byte.
const naluTypeIDRWRadl = 19

// H265Depacketizer assembles H.265 access units from RFC 7798 single NAL
// unit packets, mirroring H264Depacketizer's timestamp/mark-bit boundary
// tracking. Aggregation and fragmentation packets are validated but their
// NAL units are not added to the access unit.
type H265Depacketizer struct {
	clockRate uint32

	assembler codecs.H265Packet

	haveTimestamp bool
	currentExtTS  int64
	auBuf         []byte
	sawKeyFrame   bool
	markSeenForTS bool

	pending *VideoFrame
}

// NewH265Depacketizer constructs a depacketizer for an H.265 stream at the
// given RTP clock rate.
func NewH265Depacketizer(clockRate uint32) *H265Depacketizer {
	return &H265Depacketizer{clockRate: clockRate}
}

func (d *H265Depacketizer) Parameters() (Parameters, bool) {
	if d.clockRate == 0 {
		return Parameters{}, false
	}
	return Parameters{ClockRate: d.clockRate}, true
}

func (d *H265Depacketizer) Push(pkt *rtp.Packet) error {
	if d.pending != nil {
		return ErrPullFirst
	}

	ts := pkt.Timestamp.Extended
	if d.haveTimestamp && ts != d.currentExtTS {
		if len(d.auBuf) > 0 && !d.markSeenForTS {
			d.auBuf = nil
			return fmt.Errorf("%w: h265 timestamp changed without mark bit", rtpLossError{})
		}
		d.auBuf = nil
		d.sawKeyFrame = false
	}
	d.currentExtTS = ts
	d.haveTimestamp = true
	d.markSeenForTS = false

	if _, err := d.assembler.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("codec: h265 unmarshal: %w", err)
	}

	// Unmarshal validates the payload but hands back no NAL bytes, so a
	// single NAL unit packet (type below 48) is taken verbatim. Aggregation
	// (48), fragmentation (49) and PACI (50) packets add nothing.
	var nal []byte
	if naluType := (pkt.Payload[0] >> 1) & 0x3F; naluType < 48 {
		nal = pkt.Payload
	}

	if len(nal) > 2 {
		d.auBuf = append(d.auBuf, nal...)
		if naluType := (nal[0] >> 1) & 0x3F; naluType == naluTypeIDRWRadl {
			d.sawKeyFrame = true
		}
	}

	if pkt.Mark {
		d.markSeenForTS = true
		if len(d.auBuf) > 0 {
			d.pending = &VideoFrame{
				Payload:   d.auBuf,
				Timestamp: pkt.Timestamp,
				KeyFrame:  d.sawKeyFrame,
				Start:     true,
				End:       true,
			}
			d.auBuf = nil
			d.sawKeyFrame = false
		}
	}

	return nil
}

func (d *H265Depacketizer) Pull() (CodecItem, bool) {
	if d.pending == nil {
		return nil, false
	}
	item := *d.pending
	d.pending = nil
	return item, true
}
