package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistnet/rtsp/rtp"
)

func h264Packet(nalHeaderAndPayload []byte, mark bool, extTimestamp int64) *rtp.Packet {
	ts, _ := rtp.NewTimestamp(extTimestamp, 90000, 0)
	return &rtp.Packet{Payload: nalHeaderAndPayload, Mark: mark, Timestamp: ts}
}

func TestH264DepacketizerSingleNALUKeyFrame(t *testing.T) {
	d := NewH264Depacketizer(90000)

	params, ok := d.Parameters()
	require.True(t, ok)
	assert.Equal(t, uint32(90000), params.ClockRate)

	// NAL header 0x65: nal_ref_idc=3, type=5 (IDR slice).
	require.NoError(t, d.Push(h264Packet([]byte{0x65, 0xaa, 0xbb}, true, 3000)))

	item, ok := d.Pull()
	require.True(t, ok)
	frame, ok := item.(VideoFrame)
	require.True(t, ok)
	assert.True(t, frame.KeyFrame)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xaa, 0xbb}, frame.Payload)

	_, ok = d.Pull()
	assert.False(t, ok)
}

func TestH264DepacketizerNonKeyFrame(t *testing.T) {
	d := NewH264Depacketizer(90000)

	// NAL header 0x61: nal_ref_idc=3, type=1 (non-IDR slice).
	require.NoError(t, d.Push(h264Packet([]byte{0x61, 0x01}, true, 3000)))

	item, ok := d.Pull()
	require.True(t, ok)
	frame := item.(VideoFrame)
	assert.False(t, frame.KeyFrame)
}

func TestH264DepacketizerAssemblesAccessUnitAcrossPackets(t *testing.T) {
	d := NewH264Depacketizer(90000)

	// SPS, PPS, then the IDR slice that carries the mark bit: three
	// single-NALU RTP packets making up one access unit.
	require.NoError(t, d.Push(h264Packet([]byte{0x67, 0x01}, false, 3000))) // SPS
	require.NoError(t, d.Push(h264Packet([]byte{0x68, 0x02}, false, 3000))) // PPS
	require.NoError(t, d.Push(h264Packet([]byte{0x65, 0x03}, true, 3000)))  // IDR slice

	item, ok := d.Pull()
	require.True(t, ok)
	frame := item.(VideoFrame)
	assert.True(t, frame.KeyFrame)

	expected := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x68, 0x02,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x03,
	}
	assert.Equal(t, expected, frame.Payload)
}

func TestH264DepacketizerPushBeforePullFails(t *testing.T) {
	d := NewH264Depacketizer(90000)
	require.NoError(t, d.Push(h264Packet([]byte{0x65, 0x01}, true, 3000)))

	err := d.Push(h264Packet([]byte{0x61, 0x01}, true, 3600))
	assert.ErrorIs(t, err, ErrPullFirst)
}

func TestH264DepacketizerTimestampChangeWithoutMarkIsRtpLoss(t *testing.T) {
	d := NewH264Depacketizer(90000)

	// SPS arrives without a mark bit, establishing a pending access unit.
	require.NoError(t, d.Push(h264Packet([]byte{0x67, 0x01}, false, 3000)))

	// The next packet's timestamp jumps forward without the previous
	// access unit ever having seen its mark bit: a loss, not a panic.
	err := d.Push(h264Packet([]byte{0x65, 0x02}, true, 3600))
	require.Error(t, err)
	assert.True(t, errors.As(err, &rtpLossError{}))
}

func TestH264DepacketizerZeroClockRateReportsNoParameters(t *testing.T) {
	d := NewH264Depacketizer(0)
	_, ok := d.Parameters()
	assert.False(t, ok)
}
