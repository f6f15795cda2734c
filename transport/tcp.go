package transport

import (
	"bufio"
	"net"
	"sync"
)

// Interleaved is the RTSP TCP connection used both for control messages and
// for demultiplexed RTP/RTCP binary frames. Channels are assigned in pairs
// per stream: 2k carries RTP, 2k+1 carries RTCP, matching spec.md §4.2.
type Interleaved struct {
	Conn net.Conn

	dec *Decoder

	writeMu sync.Mutex
}

// NewInterleaved wraps an already-dialed connection.
func NewInterleaved(conn net.Conn) *Interleaved {
	return &Interleaved{
		Conn: conn,
		dec:  NewDecoder(bufio.NewReaderSize(conn, 64*1024)),
	}
}

// ChannelsForStream returns the (RTP, RTCP) channel ids for the k-th stream.
func ChannelsForStream(k int) (rtp, rtcp byte) {
	return byte(2 * k), byte(2*k + 1)
}

// ReadItem decodes the next framed item: *Message or *InterleavedFrame.
func (t *Interleaved) ReadItem() (Item, error) {
	return t.dec.Decode()
}

// Pos returns the current decode position, for RtspMessageContext.
func (t *Interleaved) Pos() int64 {
	return t.dec.Pos()
}

// WriteMessage serializes and sends an RTSP message. Safe for concurrent
// use with ReadItem (which only reads); concurrent WriteMessage and
// WriteInterleaved calls are serialized by writeMu.
func (t *Interleaved) WriteMessage(msg *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return Encode(t.Conn, msg)
}

// WriteInterleaved sends one binary frame on channel.
func (t *Interleaved) WriteInterleaved(channel byte, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return EncodeInterleaved(t.Conn, channel, payload)
}

// Close tears down the TCP connection.
func (t *Interleaved) Close() error {
	return t.Conn.Close()
}

// LocalAddr and RemoteAddr expose the underlying connection's endpoints for
// ConnectionContext construction.
func (t *Interleaved) LocalAddr() net.Addr  { return t.Conn.LocalAddr() }
func (t *Interleaved) RemoteAddr() net.Addr { return t.Conn.RemoteAddr() }
