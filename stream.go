package rtsp

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	pionrtcp "github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"

	"github.com/mistnet/rtsp/codec"
	"github.com/mistnet/rtsp/rtp"
	"github.com/mistnet/rtsp/sdp"
	"github.com/mistnet/rtsp/transport"
)

// itemQueueDepth bounds how many undelivered CodecItems a Stream will
// hold before it starts dropping newly arriving items; a slow consumer
// must not let this client buffer unboundedly
// (spec.md §7, "backpressure").
const itemQueueDepth = 256

// Stream is one SETUP'd media section: its transport, its reorder and
// RTCP accounting, and whatever Depacketizer the caller has attached.
// Grounded on the teacher's RTPSession/RTPPacketReader pairing
// (media/rtp_session.go, media/rtp_packet_reader.go), generalized from one
// RTPSession per call to one Stream per SETUP'd media section.
type Stream struct {
	session *Session
	index   int
	media   sdp.MediaDescription
	kind    TransportKind

	udp            *transport.UdpPair
	rtpChannel     byte
	rtcpChannel    byte
	serverTransport parsedTransport
	serverRTCPAddr *net.UDPAddr

	clockRate uint32

	mu           sync.Mutex
	reorder      *rtp.ReorderBuffer
	rtcpHandler  rtp.RTCPHandler
	depacketizer codec.Depacketizer

	items    chan codec.CodecItem
	closeCh  chan struct{}
	closed   bool
}

func newStream(s *Session, index int, md sdp.MediaDescription, kind TransportKind, udp *transport.UdpPair, rtpCh, rtcpCh byte, pt parsedTransport, clockRate uint32) *Stream {
	st := &Stream{
		session:         s,
		index:           index,
		media:           md,
		kind:            kind,
		udp:             udp,
		rtpChannel:      rtpCh,
		rtcpChannel:     rtcpCh,
		serverTransport: pt,
		clockRate:       clockRate,
		reorder:         rtp.NewReorderBuffer(clockRate, s.cfg.Quirks.MaxReorder, s.cfg.Quirks.ReorderTimeout),
		items:           make(chan codec.CodecItem, itemQueueDepth),
		closeCh:         make(chan struct{}),
	}

	st.reorder.OnTimestampError = func(err error) {
		s.log.Warn().Err(err).Int("stream", index).Msg("resolving packet timestamp")
	}
	st.rtcpHandler.OnMalformed = func(err error) {
		if s.cfg.Quirks.IgnoreSpuriousRTCPReports {
			return
		}
		s.log.Warn().Err(err).Int("stream", index).Msg("malformed RTCP packet")
	}

	if udp != nil && pt.ServerRTCPPort != 0 {
		host := pt.Destination
		if host == "" {
			host = s.url.Hostname()
		}
		if addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(pt.ServerRTCPPort))); err == nil {
			st.serverRTCPAddr = addr
		}
	}

	if udp != nil {
		go st.pumpUDP(udp.RTPConn, false)
		go st.pumpUDP(udp.RTCPConn, true)
		if st.serverRTCPAddr != nil {
			go st.pumpReceiverReports()
		}
	} else {
		// Interleaved TCP has no independent per-stream reader to piggyback
		// a shortened read deadline on (dispatchInterleaved is driven by
		// the Session's single blocking read loop), so the reorder buffer's
		// timeout needs its own timer here instead.
		go st.pumpReorderTimer()
	}

	return st
}

// receiverReportInterval is how often this client sends an unsolicited
// Receiver Report while Playing over UDP, per spec.md §4.7. RFC 3550
// §6.2 derives an adaptive interval from session bandwidth; a fixed 5s
// period is a deliberate simplification documented in DESIGN.md.
const receiverReportInterval = 5 * time.Second

func (st *Stream) pumpReceiverReports() {
	ticker := time.NewTicker(receiverReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.closeCh:
			return
		case <-ticker.C:
			st.sendReceiverReport()
		}
	}
}

func (st *Stream) sendReceiverReport() {
	st.mu.Lock()
	rr := st.rtcpHandler.Stats.BuildReceiverReport(time.Now())
	st.mu.Unlock()
	if rr == nil {
		return
	}

	data, err := pionrtcp.Marshal([]pionrtcp.Packet{rr})
	if err != nil {
		st.session.log.Warn().Err(err).Int("stream", st.index).Msg("marshaling receiver report")
		return
	}
	if _, err := st.udp.RTCPConn.WriteToUDP(data, st.serverRTCPAddr); err != nil {
		st.session.log.Warn().Err(err).Int("stream", st.index).Msg("sending receiver report")
	}
}

// Index is this Stream's position among the Session's SETUP'd streams,
// also its interleaved-channel pair index (spec.md §4.2).
func (st *Stream) Index() int { return st.index }

// Media returns the SDP media section this Stream was set up from.
func (st *Stream) Media() sdp.MediaDescription { return st.media }

// SetDepacketizer attaches the codec-specific assembler that turns this
// Stream's RTP packets into CodecItems. Must be called before Play, or
// packets arriving beforehand are accounted for in reorder/loss stats but
// never produce a CodecItem.
func (st *Stream) SetDepacketizer(d codec.Depacketizer) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.depacketizer = d
}

// Next blocks until a CodecItem is available, ctx is done, or the Stream
// is closed.
func (st *Stream) Next(ctx context.Context) (codec.CodecItem, error) {
	select {
	case item, ok := <-st.items:
		if !ok {
			return nil, newError(KindCancelled, "stream closed")
		}
		return item, nil
	case <-ctx.Done():
		return nil, newError(KindCancelled, "waiting for stream item").withCause(ctx.Err())
	case <-st.closeCh:
		return nil, newError(KindCancelled, "stream closed")
	}
}

func (st *Stream) matchesControlURI(u string) bool {
	full := sdp.ControlURI(st.session.baseControlURI(), st.media.Control)
	return u == full || strings.HasSuffix(full, u) || strings.HasSuffix(u, st.media.Control)
}

func (st *Stream) seed(seq uint16, rtptime uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reorder.Seed(seq, rtptime)
}

func (st *Stream) close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.mu.Unlock()

	close(st.closeCh)
	if st.udp != nil {
		st.udp.Close()
	}
}

// pumpUDP reads datagrams off a bound RTP or RTCP socket until the Stream
// closes, handing each one to handleRTP/handleRTCP. For the RTP socket the
// read deadline is shortened to the reorder buffer's next timeout (spec.md
// §4.4, §5) when that would fire sooner than IdlePacketTimeout, so a gap
// followed by silence still flushes buffered packets instead of stranding
// them until the next arrival.
func (st *Stream) pumpUDP(conn *net.UDPConn, isRTCP bool) {
	buf := make([]byte, 65536)
	for {
		deadline := time.Now().Add(st.session.cfg.IdlePacketTimeout)
		if !isRTCP {
			deadline = st.reorderDeadline(deadline)
		}
		conn.SetReadDeadline(deadline)
		n, peer, err := conn.ReadFromUDP(buf)
		select {
		case <-st.closeCh:
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if !isRTCP {
					st.pollReorderTimeout()
				}
				continue
			}
			return
		}

		now := time.Now()
		ctx := PacketContext{
			Kind:     PacketContextUDP,
			Local:    conn.LocalAddr(),
			Peer:     peer,
			RecvWall: now,
			RecvMono: now,
		}
		payload := append([]byte(nil), buf[:n]...)
		if isRTCP {
			st.handleRTCP(payload, now)
		} else {
			st.handleRTP(payload, ctx, now)
		}
	}
}

// reorderDeadline shortens idle to the reorder buffer's next timeout, if
// that would elapse first.
func (st *Stream) reorderDeadline(idle time.Time) time.Time {
	st.mu.Lock()
	d, ok := st.reorder.NextTimeout(time.Now())
	st.mu.Unlock()
	if !ok {
		return idle
	}
	if deadline := time.Now().Add(d); deadline.Before(idle) {
		return deadline
	}
	return idle
}

// pollReorderTimeout flushes any buffered packet whose reorder timeout has
// elapsed and feeds the result to the depacketizer, the same as a packet
// arrival would.
func (st *Stream) pollReorderTimeout() {
	st.mu.Lock()
	delivered := st.reorder.PollTimeout(time.Now())
	st.mu.Unlock()
	for _, p := range delivered {
		st.feedDepacketizer(p)
	}
}

// pumpReorderTimer drives the reorder buffer's timeout for streams with no
// independent reader to piggyback a shortened read deadline on
// (interleaved TCP; see newStream).
func (st *Stream) pumpReorderTimer() {
	for {
		st.mu.Lock()
		d, ok := st.reorder.NextTimeout(time.Now())
		st.mu.Unlock()
		if !ok {
			d = st.session.cfg.IdlePacketTimeout
		}
		timer := time.NewTimer(d)
		select {
		case <-st.closeCh:
			timer.Stop()
			return
		case <-timer.C:
			st.pollReorderTimeout()
		}
	}
}

// handleInterleaved is called by the owning Session's read loop when a
// binary frame for this Stream's channel pair arrives on the control
// connection.
func (st *Stream) handleInterleaved(frame *transport.InterleavedFrame, msgCtx RtspMessageContext) {
	now := time.Now()
	ctx := PacketContext{
		Kind:      PacketContextTCP,
		ChannelID: frame.Channel,
		Message:   msgCtx,
	}
	if frame.Channel == st.rtpChannel {
		st.handleRTP(frame.Payload, ctx, now)
	} else if frame.Channel == st.rtcpChannel {
		st.handleRTCP(frame.Payload, now)
	}
}

func (st *Stream) handleRTP(payload []byte, ctx PacketContext, now time.Time) {
	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		st.session.log.Warn().Err(err).Int("stream", st.index).Msg("malformed RTP packet")
		return
	}

	st.mu.Lock()
	delivered := st.reorder.Push(pkt.SequenceNumber, pkt.Timestamp, pkt.SSRC, pkt.PayloadType, pkt.Marker, pkt.Payload, ctx, now)
	st.mu.Unlock()

	for _, p := range delivered {
		st.feedDepacketizer(p)
	}
}

func (st *Stream) feedDepacketizer(p *rtp.Packet) {
	st.mu.Lock()
	stats := &st.rtcpHandler.Stats
	stats.Observe(st.clockRate, p, time.Now())
	dep := st.depacketizer
	st.mu.Unlock()

	if p.Timestamp.Retrograde() && !st.session.cfg.Quirks.AcceptRetrogradeNPT {
		st.session.log.Warn().Int("stream", st.index).Float64("npt", p.Timestamp.ElapsedSecs()).
			Msg("dropping packet with retrograde NPT")
		return
	}

	if dep == nil {
		return
	}
	if err := dep.Push(p); err != nil {
		st.session.log.Warn().Err(err).Int("stream", st.index).Msg("depacketizer rejected packet")
		return
	}
	for {
		item, ok := dep.Pull()
		if !ok {
			break
		}
		st.emit(item)
	}
}

func (st *Stream) handleRTCP(payload []byte, now time.Time) {
	st.mu.Lock()
	reports := st.rtcpHandler.HandleCompound(payload, now)
	st.mu.Unlock()

	for _, sr := range reports {
		st.emit(codec.SenderReportItem{StreamID: st.index, Report: sr})
	}
}

func (st *Stream) emit(item codec.CodecItem) {
	select {
	case st.items <- item:
	case <-st.closeCh:
	default:
		// Queue full: drop the newest item rather than block the single
		// read loop that feeds every Stream (spec.md §7).
		st.session.log.Warn().Int("stream", st.index).Msg("item queue full, dropping")
	}
}
