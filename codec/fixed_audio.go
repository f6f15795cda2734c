package codec

import (
	"fmt"

	"github.com/mistnet/rtsp/rtp"
	"github.com/zaf/g711"
)

// RFC 3551 payload types for the two G.711 companding laws, matching the
// teacher's media.CodecAudioUlaw/CodecAudioAlaw constants.
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

// FixedSizeAudio depacketizes RFC 3551 §4.5 fixed-bitrate audio: one RTP
// packet maps to exactly one AudioFrame, payload carried verbatim. Grounded
// on the teacher's audio.PCMEncoder/PCMDecoder and media.Codec, generalized
// from "always 8kHz G.711" to any (clockRate, bitsPerSample) pair.
type FixedSizeAudio struct {
	clockRate     uint32
	bitsPerSample int
	payloadType   uint8

	pending *AudioFrame
}

// NewFixedSizeAudio constructs a depacketizer for a fixed-size audio
// stream. clockRate and bitsPerSample are provided at construction per
// spec.md §4.5.
func NewFixedSizeAudio(clockRate uint32, bitsPerSample int, payloadType uint8) *FixedSizeAudio {
	return &FixedSizeAudio{
		clockRate:     clockRate,
		bitsPerSample: bitsPerSample,
		payloadType:   payloadType,
	}
}

func (f *FixedSizeAudio) Parameters() (Parameters, bool) {
	return Parameters{
		ClockRate:     f.clockRate,
		BitsPerSample: f.bitsPerSample,
		PayloadType:   f.payloadType,
	}, true
}

// Push validates and queues one AudioFrame. frame_length = (payload_bytes *
// 8) / bits_per_sample; push fails if that division isn't exact, or if the
// payload is too large to have a meaningful wire length (spec.md §4.5,
// §8).
func (f *FixedSizeAudio) Push(pkt *rtp.Packet) error {
	if f.pending != nil {
		return ErrPullFirst
	}

	n := len(pkt.Payload)
	if n >= 65535 {
		return fmt.Errorf("codec: fixed-size audio payload length %d >= 65535", n)
	}

	bits := n * 8
	if bits%f.bitsPerSample != 0 {
		return fmt.Errorf("codec: payload of %d bytes (%d bits) is not a multiple of %d bits per sample", n, bits, f.bitsPerSample)
	}

	f.pending = &AudioFrame{
		Payload:     pkt.Payload,
		Timestamp:   pkt.Timestamp,
		FrameLength: uint32(bits / f.bitsPerSample),
	}
	return nil
}

func (f *FixedSizeAudio) Pull() (CodecItem, bool) {
	if f.pending == nil {
		return nil, false
	}
	item := *f.pending
	f.pending = nil
	return item, true
}

// DecodeLPCM decodes a G.711 PCMU/PCMA payload to 16-bit linear PCM, for
// callers that want raw audio samples instead of codec bytes. Only valid
// for FixedSizeAudio instances constructed with PayloadTypePCMU/PCMA.
func (f *FixedSizeAudio) DecodeLPCM(payload []byte) ([]byte, error) {
	switch f.payloadType {
	case PayloadTypePCMU:
		return g711.DecodeUlaw(payload), nil
	case PayloadTypePCMA:
		return g711.DecodeAlaw(payload), nil
	default:
		return nil, fmt.Errorf("codec: DecodeLPCM not supported for payload type %d", f.payloadType)
	}
}
