package rtsp

import "github.com/mistnet/rtsp/rtp"

// These are aliases onto the rtp package's context types: RTP packets are
// the thing most in need of rich diagnostic context, so they are defined
// next to Packet and re-exported here for the caller-facing surface,
// avoiding a cyclic-reference between this package and rtp (see the
// context.go entry in DESIGN.md).
type (
	ConnectionContext  = rtp.ConnectionContext
	RtspMessageContext = rtp.RtspMessageContext
	PacketContext      = rtp.PacketContext
)

const (
	PacketContextTCP = rtp.PacketContextTCP
	PacketContextUDP = rtp.PacketContextUDP
)
