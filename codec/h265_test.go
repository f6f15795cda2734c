package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistnet/rtsp/rtp"
)

func h265Packet(nalHeaderAndPayload []byte, mark bool, extTimestamp int64) *rtp.Packet {
	ts, _ := rtp.NewTimestamp(extTimestamp, 90000, 0)
	return &rtp.Packet{Payload: nalHeaderAndPayload, Mark: mark, Timestamp: ts}
}

func TestH265DepacketizerSingleNALUKeyFrame(t *testing.T) {
	d := NewH265Depacketizer(90000)

	params, ok := d.Parameters()
	require.True(t, ok)
	assert.Equal(t, uint32(90000), params.ClockRate)

	// First header byte 0x26: type bits (1-6) = 19 (IDR_W_RADL).
	require.NoError(t, d.Push(h265Packet([]byte{0x26, 0x01, 0xaa}, true, 3000)))

	item, ok := d.Pull()
	require.True(t, ok)
	frame, ok := item.(VideoFrame)
	require.True(t, ok)
	assert.True(t, frame.KeyFrame)

	_, ok = d.Pull()
	assert.False(t, ok)
}

func TestH265DepacketizerNonKeyFrame(t *testing.T) {
	d := NewH265Depacketizer(90000)

	// First header byte 0x02: type bits (1-6) = 1 (TRAIL_R, not an IDR).
	require.NoError(t, d.Push(h265Packet([]byte{0x02, 0x01, 0xaa}, true, 3000)))

	item, ok := d.Pull()
	require.True(t, ok)
	frame := item.(VideoFrame)
	assert.False(t, frame.KeyFrame)
}

func TestH265DepacketizerPushBeforePullFails(t *testing.T) {
	d := NewH265Depacketizer(90000)
	require.NoError(t, d.Push(h265Packet([]byte{0x26, 0x01, 0xaa}, true, 3000)))

	err := d.Push(h265Packet([]byte{0x02, 0x01}, true, 3600))
	assert.ErrorIs(t, err, ErrPullFirst)
}

func TestH265DepacketizerTimestampChangeWithoutMarkIsRtpLoss(t *testing.T) {
	d := NewH265Depacketizer(90000)

	require.NoError(t, d.Push(h265Packet([]byte{0x02, 0x01, 0xaa}, false, 3000)))

	err := d.Push(h265Packet([]byte{0x26, 0x02}, true, 3600))
	require.Error(t, err)
	assert.True(t, errors.As(err, &rtpLossError{}))
}

func TestH265DepacketizerZeroClockRateReportsNoParameters(t *testing.T) {
	d := NewH265Depacketizer(0)
	_, ok := d.Parameters()
	assert.False(t, ok)
}
