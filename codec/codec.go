// Package codec holds the per-codec depacketizers that recover access
// units from RTP payloads, and the CodecItem tagged variant delivered to
// callers (spec.md §3, §4.5).
package codec

import (
	"github.com/mistnet/rtsp/rtp"
)

// Parameters are the static stream parameters a depacketizer can report,
// optional until the first Push (spec.md §4.5).
type Parameters struct {
	ClockRate     uint32
	BitsPerSample int // fixed-size audio only
	PayloadType   uint8
}

// CodecItem is the tagged variant delivered to the caller: VideoFrame,
// AudioFrame, MessageLayer, RTCPItem, or SenderReportItem (spec.md §3).
// The marker method keeps this a closed set, the way the teacher dispatches
// over concrete depacketizer instances rather than duck-typing (spec.md
// §9, "Duck-typed codec dispatch").
type CodecItem interface {
	codecItem()
}

// VideoFrame carries one assembled access unit.
type VideoFrame struct {
	StreamID  int
	Payload   []byte
	Timestamp rtp.Timestamp
	KeyFrame  bool
	Start     bool
	End       bool
}

func (VideoFrame) codecItem() {}

// AudioFrame carries one fixed-size audio payload and its duration in
// sample ticks.
type AudioFrame struct {
	StreamID    int
	Payload     []byte
	Timestamp   rtp.Timestamp
	FrameLength uint32
}

func (AudioFrame) codecItem() {}

// MessageLayer carries an application-media-typed RTP payload verbatim
// (e.g. a camera's proprietary metadata stream), for streams whose media
// kind the caller has negotiated but this module has no codec-specific
// assembly for.
type MessageLayer struct {
	StreamID  int
	Payload   []byte
	Timestamp rtp.Timestamp
}

func (MessageLayer) codecItem() {}

// RTCPItem surfaces an RTCP packet the caller may want to observe (beyond
// the Sender Report pulled out into SenderReportItem).
type RTCPItem struct {
	StreamID int
	Packet   []byte
}

func (RTCPItem) codecItem() {}

// SenderReportItem surfaces a Sender Report's NTP/RTP reference pair.
type SenderReportItem struct {
	StreamID int
	Report   rtp.SenderReportSnapshot
}

func (SenderReportItem) codecItem() {}

// Depacketizer assembles CodecItems from in-order RTP packets. A
// depacketizer must not have Push called while a CodecItem is pending:
// callers must Pull first (spec.md §4.5).
type Depacketizer interface {
	Parameters() (Parameters, bool)
	Push(pkt *rtp.Packet) error
	Pull() (CodecItem, bool)
}

// ErrPullFirst is returned by Push when a CodecItem is already pending and
// the caller hasn't called Pull yet.
var ErrPullFirst = errPullFirst{}

type errPullFirst struct{}

func (errPullFirst) Error() string {
	return "codec: Pull must be called before the next Push"
}
