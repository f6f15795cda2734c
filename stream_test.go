package rtsp

import (
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistnet/rtsp/codec"
	"github.com/mistnet/rtsp/sdp"
)

func newTestStream(t *testing.T, quirks Quirks) *Stream {
	t.Helper()
	s := &Session{cfg: Config{Quirks: quirks.withDefaults()}, log: zerolog.Nop()}
	st := newStream(s, 0, sdp.MediaDescription{}, TransportTCP, nil, 0, 1, parsedTransport{}, 8000)
	t.Cleanup(st.close)
	return st
}

func rtpFrame(t *testing.T, seq uint16, ts uint32) []byte {
	t.Helper()
	pkt := pionrtp.Packet{
		Header:  pionrtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts, SSRC: 1},
		Payload: []byte("x"),
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestFeedDepacketizerDropsRetrogradeNPTByDefault(t *testing.T) {
	st := newTestStream(t, Quirks{})
	st.SetDepacketizer(codec.NewMessageLayer(8000))
	st.seed(10, 8000)

	st.handleRTP(rtpFrame(t, 10, 0), PacketContext{}, time.Now())

	select {
	case <-st.items:
		t.Fatal("expected retrograde packet to be dropped")
	default:
	}
}

func TestFeedDepacketizerAcceptsRetrogradeNPTWhenQuirkSet(t *testing.T) {
	st := newTestStream(t, Quirks{AcceptRetrogradeNPT: true})
	st.SetDepacketizer(codec.NewMessageLayer(8000))
	st.seed(10, 8000)

	st.handleRTP(rtpFrame(t, 10, 0), PacketContext{}, time.Now())

	select {
	case item := <-st.items:
		_, ok := item.(codec.MessageLayer)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a delivered item")
	}
}

func TestNewStreamWiresOnMalformedAndOnTimestampError(t *testing.T) {
	st := newTestStream(t, Quirks{})
	require.NotNil(t, st.rtcpHandler.OnMalformed)
	require.NotNil(t, st.reorder.OnTimestampError)

	assert.NotPanics(t, func() { st.rtcpHandler.OnMalformed(assert.AnError) })
	assert.NotPanics(t, func() { st.reorder.OnTimestampError(assert.AnError) })
}
