package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistnet/rtsp/rtp"
)

func TestMessageLayerPushPullRoundTrip(t *testing.T) {
	m := NewMessageLayer(90000)

	params, ok := m.Parameters()
	require.True(t, ok)
	assert.Equal(t, uint32(90000), params.ClockRate)

	ts, _ := rtp.NewTimestamp(90000, 90000, 0)
	require.NoError(t, m.Push(&rtp.Packet{Payload: []byte("metadata"), Timestamp: ts}))

	item, ok := m.Pull()
	require.True(t, ok)
	frame, ok := item.(MessageLayer)
	require.True(t, ok)
	assert.Equal(t, []byte("metadata"), frame.Payload)

	_, ok = m.Pull()
	assert.False(t, ok)
}

func TestMessageLayerPushBeforePullFails(t *testing.T) {
	m := NewMessageLayer(90000)
	require.NoError(t, m.Push(&rtp.Packet{Payload: []byte("a")}))

	err := m.Push(&rtp.Packet{Payload: []byte("b")})
	assert.ErrorIs(t, err, ErrPullFirst)
}

func TestMessageLayerZeroClockRateReportsNoParameters(t *testing.T) {
	m := NewMessageLayer(0)
	_, ok := m.Parameters()
	assert.False(t, ok)
}
