package codec

import (
	"fmt"

	"github.com/mistnet/rtsp/rtp"
	"github.com/pion/rtp/codecs"
)

// naluTypeMask pulls the NAL unit type out of an Annex-B NAL header byte.
const naluTypeMask = 0x1F

// H264 NAL unit types relevant to key-frame detection (ITU-T H.264 Table
// 7-1).
const (
	naluTypeIDRSlice = 5
	naluTypeSPS      = 7
	naluTypePPS      = 8
)

// H264Depacketizer assembles H.264 access units from RTP payloads (FU-A
// fragmentation units and STAP-A aggregation), keyed by the RTP mark bit
// and timestamp boundaries per spec.md §4.5. Reassembly of individual
// fragmentation units is delegated to pion's codecs.H264Packet, which the
// teacher's transitive dependency graph already carries for its own
// WebRTC video tracks (examples/webrtc); this module reuses it for the
// inbound RTSP/RTP direction instead.
type H264Depacketizer struct {
	clockRate uint32

	assembler codecs.H264Packet

	haveTimestamp  bool
	currentExtSeq  int64
	auBuf          []byte
	sawKeyFrame    bool
	markSeenForTS  bool

	pending *VideoFrame
}

// NewH264Depacketizer constructs a depacketizer for an H.264 stream at the
// given RTP clock rate (90000 Hz per RFC 6184, but not assumed here).
func NewH264Depacketizer(clockRate uint32) *H264Depacketizer {
	return &H264Depacketizer{clockRate: clockRate}
}

func (d *H264Depacketizer) Parameters() (Parameters, bool) {
	if d.clockRate == 0 {
		return Parameters{}, false
	}
	return Parameters{ClockRate: d.clockRate}, true
}

func (d *H264Depacketizer) Push(pkt *rtp.Packet) error {
	if d.pending != nil {
		return ErrPullFirst
	}

	ts := pkt.Timestamp.Extended
	if d.haveTimestamp && ts != d.currentExtSeq {
		if len(d.auBuf) > 0 && !d.markSeenForTS {
			// Timestamp changed mid-access-unit without a mark bit: a
			// protocol error per spec.md §4.5.
			d.auBuf = nil
			return fmt.Errorf("%w: h264 timestamp changed without mark bit", rtpLossError{})
		}
		d.auBuf = nil
		d.sawKeyFrame = false
	}
	d.currentExtSeq = ts
	d.haveTimestamp = true
	d.markSeenForTS = false

	nal, err := d.assembler.Unmarshal(pkt.Payload)
	if err != nil {
		return fmt.Errorf("codec: h264 unmarshal: %w", err)
	}

	if len(nal) > 4 {
		d.auBuf = append(d.auBuf, nal...)
		if naluType := nal[4] & naluTypeMask; naluType == naluTypeIDRSlice {
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

func (d *H264Depacketizer) Pull() (CodecItem, bool) {
	if d.pending == nil {
		return nil, false
	}
	item := *d.pending
	d.pending = nil
	return item, true
}

// rtpLossError lets callers errors.As into the codec error chain and still
// recognize it as the spec.md §4.5 "protocol error surfaced as RtpLoss"
// case; the root rtsp package maps it onto KindRtpLoss.
type rtpLossError struct{}

func (rtpLossError) Error() string { return "rtp loss" }
