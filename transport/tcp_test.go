package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterleavedWriteMessageThenReadItemRoundTrips(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewInterleaved(clientConn)
	server := NewInterleaved(serverConn)

	msg := &Message{Method: "DESCRIBE", URI: "rtsp://cam/stream", Proto: "RTSP/1.0"}
	msg.Header.Add("CSeq", "1")

	done := make(chan error, 1)
	go func() { done <- client.WriteMessage(msg) }()

	item, err := server.ReadItem()
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, ok := item.(*Message)
	require.True(t, ok)
	assert.Equal(t, "DESCRIBE", got.Method)
	assert.Equal(t, "1", got.Header.Get("CSeq"))
}

func TestInterleavedWriteInterleavedThenReadItemRoundTrips(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewInterleaved(clientConn)
	server := NewInterleaved(serverConn)

	done := make(chan error, 1)
	go func() { done <- client.WriteInterleaved(0, []byte{1, 2, 3}) }()

	item, err := server.ReadItem()
	require.NoError(t, err)
	require.NoError(t, <-done)

	frame, ok := item.(*InterleavedFrame)
	require.True(t, ok)
	assert.Equal(t, byte(0), frame.Channel)
	assert.Equal(t, []byte{1, 2, 3}, frame.Payload)
}

func TestChannelsForStreamAssignsEvenOddPairs(t *testing.T) {
	rtp, rtcp := ChannelsForStream(3)
	assert.Equal(t, byte(6), rtp)
	assert.Equal(t, byte(7), rtcp)
}
