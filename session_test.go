package rtsp

import (
	"context"
	"net"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistnet/rtsp/codec"
	"github.com/mistnet/rtsp/transport"
)

const sampleAudioSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=cam\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"a=control:*\r\n" +
	"m=audio 0 RTP/AVP 0\r\n" +
	"a=control:track1\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

// respondTo reads one request off dec and writes a matching response,
// copying CSeq from the request the way a real server must.
func respondTo(t *testing.T, conn net.Conn, dec *transport.Decoder, wantMethod string, build func(req *transport.Message) *transport.Message) *transport.Message {
	t.Helper()
	item, err := dec.Decode()
	require.NoError(t, err)
	req, ok := item.(*transport.Message)
	require.True(t, ok)
	assert.Equal(t, wantMethod, req.Method)

	resp := build(req)
	resp.Header.Set("CSeq", req.Header.Get("CSeq"))
	require.NoError(t, transport.Encode(conn, resp))
	return req
}

func TestSessionFullHandshakeOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		dec := transport.NewDecoder(conn)

		respondTo(t, conn, dec, "DESCRIBE", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK", Body: []byte(sampleAudioSDP)}
			resp.Header.Add("Content-Type", "application/sdp")
			return resp
		})

		respondTo(t, conn, dec, "SETUP", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK"}
			resp.Header.Add("Session", "SESSION1;timeout=60")
			resp.Header.Add("Transport", "RTP/AVP/TCP;unicast;interleaved=0-1")
			return resp
		})

		respondTo(t, conn, dec, "PLAY", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK"}
			resp.Header.Add("RTP-Info", `url="rtsp://cam/stream/track1";seq=1;rtptime=0`)
			return resp
		})

		pkt := pionrtp.Packet{
			Header:  pionrtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 1, Timestamp: 0, SSRC: 1},
			Payload: make([]byte, 160),
		}
		raw, err := pkt.Marshal()
		if !assert.NoError(t, err) {
			return
		}
		if !assert.NoError(t, transport.EncodeInterleaved(conn, 0, raw)) {
			return
		}

		respondTo(t, conn, dec, "TEARDOWN", func(req *transport.Message) *transport.Message {
			return &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK"}
		})
	}()

	sess, err := Dial(context.Background(), "rtsp://"+ln.Addr().String()+"/stream")
	require.NoError(t, err)
	assert.Equal(t, StateInit, sess.State())

	sd, err := sess.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDescribed, sess.State())
	require.Len(t, sd.Media, 1)

	st, err := sess.Setup(context.Background(), 0, TransportTCP)
	require.NoError(t, err)
	assert.Equal(t, StateSetUp, sess.State())
	st.SetDepacketizer(codec.NewFixedSizeAudio(8000, 8, codec.PayloadTypePCMU))

	require.NoError(t, sess.Play(context.Background()))
	assert.Equal(t, StatePlaying, sess.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	item, err := st.Next(ctx)
	require.NoError(t, err)
	frame, ok := item.(codec.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(160), frame.FrameLength)

	require.NoError(t, sess.Teardown(context.Background()))
	assert.Equal(t, StateTeardown, sess.State())

	<-serverDone
}

func TestSetupUsesQuirksDefaultTransportWhenUnspecified(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	var setupReq *transport.Message
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		dec := transport.NewDecoder(conn)

		respondTo(t, conn, dec, "DESCRIBE", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK", Body: []byte(sampleAudioSDP)}
			resp.Header.Add("Content-Type", "application/sdp")
			return resp
		})

		setupReq = respondTo(t, conn, dec, "SETUP", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK"}
			resp.Header.Add("Session", "SESSION1;timeout=60")
			resp.Header.Add("Transport", "RTP/AVP/TCP;unicast;interleaved=0-1")
			return resp
		})
	}()

	sess, err := Dial(context.Background(), "rtsp://"+ln.Addr().String()+"/stream",
		WithQuirks(Quirks{DefaultTransport: TransportTCP}))
	require.NoError(t, err)

	_, err = sess.Describe(context.Background())
	require.NoError(t, err)

	st, err := sess.Setup(context.Background(), 0, TransportUnspecified)
	require.NoError(t, err)
	assert.Equal(t, TransportTCP, st.kind)

	<-serverDone
	assert.Contains(t, setupReq.Header.Get("Transport"), "TCP")
}

func TestDialRejectsNonRtspScheme(t *testing.T) {
	_, err := Dial(context.Background(), "http://example.com/stream")
	assert.Error(t, err)
}

func TestDialRejectsUnparseableURL(t *testing.T) {
	_, err := Dial(context.Background(), "not a url://\x00")
	assert.Error(t, err)
}

func TestSetupBeforeDescribeFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
		}
	}()

	sess, err := Dial(context.Background(), "rtsp://"+ln.Addr().String()+"/stream")
	require.NoError(t, err)

	_, err = sess.Setup(context.Background(), 0, TransportTCP)
	assert.Error(t, err)
}

func TestPlayWithNoStreamsFails(t *testing.T) {
	sess := &Session{state: StateDescribed}
	err := sess.Play(context.Background())
	assert.Error(t, err)
}

func TestOptionsParsesPublicHeader(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		dec := transport.NewDecoder(conn)
		respondTo(t, conn, dec, "OPTIONS", func(req *transport.Message) *transport.Message {
			resp := &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK"}
			resp.Header.Add("Public", "DESCRIBE, SETUP, PLAY, TEARDOWN")
			return resp
		})
	}()

	sess, err := Dial(context.Background(), "rtsp://"+ln.Addr().String()+"/stream")
	require.NoError(t, err)

	methods, err := sess.Options(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DESCRIBE", "SETUP", "PLAY", "TEARDOWN"}, methods)

	<-serverDone
}

func TestDescribeSurfacesSdpParseError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		dec := transport.NewDecoder(conn)
		respondTo(t, conn, dec, "DESCRIBE", func(req *transport.Message) *transport.Message {
			return &transport.Message{IsResponse: true, StatusCode: 200, Reason: "OK", Body: []byte("a=rtpmap:0 PCMU/8000\r\n")}
		})
	}()

	sess, err := Dial(context.Background(), "rtsp://"+ln.Addr().String()+"/stream")
	require.NoError(t, err)

	_, err = sess.Describe(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateError, sess.State())

	<-serverDone
}
