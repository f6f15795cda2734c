// Package rtsp implements an RTSP/1.0 (RFC 2326) client for pulling
// RTP/RTCP media out of IP cameras: DESCRIBE/SETUP/PLAY/TEARDOWN session
// control, interleaved-TCP or UDP-pair media transport, and per-stream
// reordering, loss accounting, and codec depacketization.
package rtsp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mistnet/rtsp/sdp"
	"github.com/mistnet/rtsp/transport"
)

// State is the Session's position in the RFC 2326 handshake, per spec.md
// §5: Init -> Described -> SetUp(k) -> Playing -> Teardown, with Error
// reachable from anywhere.
type State int

const (
	StateInit State = iota
	StateDescribed
	StateSetUp
	StatePlaying
	StateTeardown
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateDescribed:
		return "Described"
	case StateSetUp:
		return "SetUp"
	case StatePlaying:
		return "Playing"
	case StateTeardown:
		return "Teardown"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Session drives one RTSP control connection and owns the Streams SETUP
// establishes on it. Not safe for concurrent use from multiple goroutines
// beyond what Play's background keep-alive loop does internally: the core
// is cooperative single-threaded per spec.md §5, the same way the teacher
// keeps one DialogClientSession driven from one call stack.
type Session struct {
	// id is a client-local correlation id, not part of the RTSP protocol,
	// attached to every log line this Session emits so multi-camera
	// deployments can separate interleaved log output (spec.md §7a).
	id string

	cfg Config
	log zerolog.Logger

	rawURL string
	url    *url.URL

	conn    *transport.Interleaved
	connCtx ConnectionContext

	cseq      uint32
	sessionID string
	timeout   time.Duration

	auth *authState

	state State
	sd    *sdp.SessionDescription

	streamsMu sync.Mutex
	streams   []*Stream

	respCh   chan *transport.Message
	readDone chan struct{}
	readErr  error

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}
}

// Dial opens the RTSP control connection to rawURL ("rtsp://host[:port]/path")
// and returns a Session in StateInit. No request is sent yet.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindConnectionFailed, "invalid RTSP URL").withCause(err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, newError(KindConnectionFailed, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	defaultPort := "554"
	if u.Scheme == "rtsps" {
		defaultPort = "322"
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, newError(KindConnectionFailed, "dialing control connection").withCause(err)
	}

	if u.Scheme == "rtsps" {
		tlsConn, err := tlsHandshake(dialCtx, conn, cfg.TLSConfig, u.Hostname())
		if err != nil {
			conn.Close()
			return nil, newError(KindConnectionFailed, "TLS handshake").withCause(err)
		}
		conn = tlsConn
	}

	id := uuid.NewString()
	now := time.Now()
	s := &Session{
		id:     id,
		cfg:    cfg,
		log:    cfg.log.With().Str("session", id).Logger(),
		rawURL: rawURL,
		url:    u,
		conn:   transport.NewInterleaved(conn),
		connCtx: ConnectionContext{
			Local:  conn.LocalAddr(),
			Peer:   conn.RemoteAddr(),
			WallAt: now,
			MonoAt: now,
		},
		state:    StateInit,
		respCh:   make(chan *transport.Message, 1),
		readDone: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// tlsHandshake wraps conn for an "rtsps" URL, cloning tc (or starting from
// an empty config) so the caller's shared *tls.Config is never mutated, and
// filling in ServerName from the dialed host when the caller didn't set one.
func tlsHandshake(ctx context.Context, conn net.Conn, tc *tls.Config, serverName string) (net.Conn, error) {
	if tc == nil {
		tc = &tls.Config{}
	} else {
		tc = tc.Clone()
	}
	if tc.ServerName == "" {
		tc.ServerName = serverName
	}
	tlsConn := tls.Client(conn, tc)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// readLoop is the connection's single reader: every response and every
// interleaved RTP/RTCP frame arrives through here, so that a SETUP
// response and media for an already-Playing earlier Stream can never race
// for the same socket (spec.md §5, "single-threaded cooperative core").
func (s *Session) readLoop() {
	defer close(s.readDone)
	for {
		item, err := s.conn.ReadItem()
		if err != nil {
			s.readErr = newError(KindRtspFraming, "read loop").withCause(err).withContext(s.connCtx)
			return
		}
		switch v := item.(type) {
		case *transport.Message:
			s.respCh <- v
		case *transport.InterleavedFrame:
			s.dispatchInterleaved(v)
		}
	}
}

func (s *Session) dispatchInterleaved(frame *transport.InterleavedFrame) {
	msgCtx := RtspMessageContext{Pos: s.conn.Pos(), WallAt: time.Now(), MonoAt: time.Now()}

	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, st := range s.streams {
		if st.rtpChannel == frame.Channel || st.rtcpChannel == frame.Channel {
			st.handleInterleaved(frame, msgCtx)
			return
		}
	}
}

// ID is a client-local correlation id for this Session's log lines, not
// part of the RTSP protocol.
func (s *Session) ID() string { return s.id }

// URL returns the session's target URL, post any redirects DESCRIBE
// followed.
func (s *Session) URL() string { return s.rawURL }

// State reports the current position in the handshake.
func (s *Session) State() State { return s.state }

// SessionDescription returns the SDP parsed by Describe, or nil if
// Describe hasn't run yet.
func (s *Session) SessionDescription() *sdp.SessionDescription { return s.sd }

// Streams returns the Streams SETUP has established so far, in SETUP
// order.
func (s *Session) Streams() []*Stream {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// requestBuilder accumulates a request's mutable header before it's sent,
// so authorize (session_auth.go) can add Authorization without every
// caller threading a transport.Header through by hand.
type requestBuilder struct {
	method string
	uri    string
	header transport.Header
	body   []byte
}

func (s *Session) newRequest(method, uri string) *requestBuilder {
	return &requestBuilder{method: method, uri: uri}
}

// do sends one request and returns its response, transparently answering
// one 401 challenge per call (learning the challenge from that response,
// replacing any learned earlier) and following up to Quirks.MaxRedirects
// 3xx redirections. It does not retry on any other failure.
func (s *Session) do(ctx context.Context, req *requestBuilder) (*transport.Message, error) {
	redirects := 0
	answered401 := false
	for {
		if err := s.authorize(req.method, req.uri, req); err != nil {
			return nil, err
		}

		msg := &transport.Message{
			Method: req.method,
			URI:    req.uri,
			Header: append(transport.Header{}, req.header...),
			Body:   req.body,
		}
		msg.Header.Set("CSeq", strconv.FormatUint(uint64(s.nextCSeq()), 10))
		if s.sessionID != "" {
			msg.Header.Set("Session", s.sessionID)
		}
		msg.Header.Set("User-Agent", "mistnet-rtsp/1.0")

		resp, err := s.roundTrip(ctx, msg)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == 401 && s.cfg.Credentials != nil && !answered401:
			if err := s.learnChallenge(resp.Header.Values("WWW-Authenticate")); err != nil {
				return nil, err
			}
			answered401 = true
			continue // retry once, now with Authorization set
		case resp.StatusCode >= 300 && resp.StatusCode < 400:
			loc := resp.Header.Get("Location")
			if loc == "" || redirects >= s.cfg.Quirks.MaxRedirects {
				return resp, s.responseError(req, resp)
			}
			redirects++
			req.uri = loc
			continue
		case resp.StatusCode >= 300:
			return resp, s.responseError(req, resp)
		default:
			return resp, nil
		}
	}
}

func (s *Session) responseError(req *requestBuilder, resp *transport.Message) error {
	return newError(KindRtspResponse, "non-success response").withCause(&rtspResponseDetail{
		Status: resp.StatusCode,
		Method: req.method,
		URL:    req.uri,
	})
}

type rtspResponseDetail struct {
	Status int
	Method string
	URL    string
}

func (d *rtspResponseDetail) Error() string {
	return fmt.Sprintf("%d for %s %s", d.Status, d.Method, d.URL)
}

// roundTrip writes msg and reads the matching response off the shared
// read loop's response channel, honoring RequestTimeout when ctx carries
// no deadline of its own. RTSP/1.0 servers process requests on a
// connection strictly in order (RFC 2326 §10.1), so the next *Message the
// read loop yields is always this request's response.
func (s *Session) roundTrip(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	if err := s.conn.WriteMessage(msg); err != nil {
		return nil, newError(KindConnectionFailed, "writing request").withCause(err).withContext(s.connCtx)
	}

	select {
	case <-ctx.Done():
		return nil, newError(KindCancelled, "waiting for response").withCause(ctx.Err())
	case resp := <-s.respCh:
		return resp, nil
	case <-s.readDone:
		return nil, s.readErr
	}
}

// Describe issues DESCRIBE, parses the SDP body, and advances to
// StateDescribed (spec.md §4.2).
func (s *Session) Describe(ctx context.Context) (*sdp.SessionDescription, error) {
	req := s.newRequest("DESCRIBE", s.url.String())
	req.header.Add("Accept", "application/sdp")

	resp, err := s.do(ctx, req)
	if err != nil {
		s.state = StateError
		return nil, err
	}

	sd, err := sdp.Unmarshal(resp.Body)
	if err != nil {
		s.state = StateError
		return nil, newError(KindSdpInvalid, "parsing DESCRIBE response").withCause(err)
	}

	if req.uri != s.url.String() {
		if u, err := url.Parse(req.uri); err == nil {
			s.url, s.rawURL = u, req.uri
		}
	}

	s.sd = sd
	s.state = StateDescribed
	return sd, nil
}

// Options issues a standalone OPTIONS request and returns the methods the
// server advertises via the Public header, per RFC 2326 §10.1. Unlike
// Describe/Setup/Play/Teardown this never changes State: OPTIONS is valid
// at any point in the handshake.
func (s *Session) Options(ctx context.Context) ([]string, error) {
	req := s.newRequest("OPTIONS", s.url.String())
	resp, err := s.do(ctx, req)
	if err != nil {
		return nil, err
	}
	public := resp.Header.Get("Public")
	if public == "" {
		return nil, nil
	}
	var methods []string
	for _, m := range strings.Split(public, ",") {
		methods = append(methods, strings.TrimSpace(m))
	}
	return methods, nil
}

// Setup issues SETUP for the mediaIndex-th media section of the most
// recent Describe, establishing the transport and returning the resulting
// Stream (spec.md §4.2). kind selects UDP, UDP multicast, or
// TCP-interleaved; pass TransportUnspecified to use Quirks.DefaultTransport.
func (s *Session) Setup(ctx context.Context, mediaIndex int, kind TransportKind) (*Stream, error) {
	if s.sd == nil {
		return nil, newError(KindRtspResponse, "Setup called before Describe")
	}
	if mediaIndex < 0 || mediaIndex >= len(s.sd.Media) {
		return nil, newError(KindRtspResponse, fmt.Sprintf("media index %d out of range", mediaIndex))
	}
	if kind == TransportUnspecified {
		kind = s.cfg.Quirks.DefaultTransport
	}
	md := s.sd.Media[mediaIndex]

	streamIdx := len(s.streams)
	controlURI := sdp.ControlURI(s.baseControlURI(), md.Control)

	var udp *transport.UdpPair
	rtpCh, rtcpCh := transport.ChannelsForStream(streamIdx)

	if kind != TransportTCP {
		var err error
		udp, err = transport.NewUdpPair(nil)
		if err != nil {
			return nil, newError(KindConnectionFailed, "binding RTP/RTCP UDP pair").withCause(err)
		}
	}

	rtpPort, rtcpPort := 0, 0
	if udp != nil {
		rtpPort, rtcpPort = udp.RTPPort(), udp.RTCPPort()
	}

	req := s.newRequest("SETUP", controlURI)
	req.header.Add("Transport", transportHeaderFor(kind, rtpPort, rtcpPort, rtpCh, rtcpCh))

	resp, err := s.do(ctx, req)
	if err != nil {
		if udp != nil {
			udp.Close()
		}
		s.state = StateError
		return nil, err
	}

	if sid := resp.Header.Get("Session"); sid != "" {
		id, timeout := parseSessionHeader(sid)
		s.sessionID = id
		if timeout > 0 {
			s.timeout = timeout
		}
	}

	pt, err := parseTransportHeader(resp.Header.Get("Transport"))
	if err != nil {
		if udp != nil {
			udp.Close()
		}
		s.state = StateError
		return nil, newError(KindRtspResponse, "parsing SETUP Transport header").withCause(err)
	}

	if !s.cfg.Quirks.AllowLaxInterleavedChannels && kind == TransportTCP && pt.HasInterleaved {
		if pt.InterleavedRTP != rtpCh || pt.InterleavedRTCP != rtcpCh {
			return nil, newError(KindRtspResponse, "server assigned unexpected interleaved channels")
		}
	}
	if !s.cfg.Quirks.AllowLaxInterleavedChannels && udp != nil && pt.ClientRTPPort != 0 {
		if pt.ClientRTPPort != rtpPort || pt.ClientRTCPPort != rtcpPort {
			udp.Close()
			return nil, newError(KindRtspResponse, "server assigned unexpected client ports")
		}
	}

	clockRate := uint32(0)
	for _, fmtNum := range md.Formats {
		if entry, ok := md.RTPMap[fmtNum]; ok {
			clockRate = entry.ClockRate
			break
		}
	}

	stream := newStream(s, streamIdx, md, kind, udp, rtpCh, rtcpCh, pt, clockRate)
	s.streamsMu.Lock()
	s.streams = append(s.streams, stream)
	s.streamsMu.Unlock()
	s.state = StateSetUp
	return stream, nil
}

func (s *Session) baseControlURI() string {
	if s.sd != nil && s.sd.Control != "" && s.sd.Control != "*" {
		return sdp.ControlURI(s.url.String(), s.sd.Control)
	}
	return s.url.String()
}

// Play issues PLAY for the aggregate session (every Stream set up so far),
// seeds each Stream's reorder buffer from the response's RTP-Info header
// if present, starts the keep-alive loop, and advances to StatePlaying
// (spec.md §4.3, §4.6).
func (s *Session) Play(ctx context.Context) error {
	if len(s.streams) == 0 {
		return newError(KindRtspResponse, "Play called with no Streams set up")
	}

	req := s.newRequest("PLAY", s.baseControlURI())
	req.header.Add("Range", "npt=0.000-")

	resp, err := s.do(ctx, req)
	if err != nil {
		s.state = StateError
		return err
	}

	if rtpInfo := resp.Header.Get("RTP-Info"); rtpInfo != "" {
		entries := parseRTPInfo(rtpInfo)
		for _, e := range entries {
			for _, st := range s.streams {
				if st.matchesControlURI(e.URL) && e.HasSeq && e.HasRTime {
					st.seed(e.Seq, e.RTPTime)
				}
			}
		}
	}

	s.state = StatePlaying
	s.startKeepalive()
	return nil
}

// Teardown issues TEARDOWN, stops the keep-alive loop, closes every
// Stream's media transport, and closes the control connection.
func (s *Session) Teardown(ctx context.Context) error {
	s.stopKeepalive()

	if s.state == StatePlaying || s.state == StateSetUp {
		req := s.newRequest("TEARDOWN", s.baseControlURI())
		if _, err := s.do(ctx, req); err != nil {
			s.log.Warn().Err(err).Msg("teardown request failed, closing anyway")
		}
	}

	for _, st := range s.streams {
		st.close()
	}
	s.state = StateTeardown
	return s.conn.Close()
}

func parseSessionHeader(v string) (id string, timeout time.Duration) {
	before, rest, found := strings.Cut(v, ";")
	id = strings.TrimSpace(before)
	if !found {
		return id, 0
	}
	const prefix = "timeout="
	for _, part := range strings.Split(rest, ";") {
		part = strings.TrimSpace(part)
		if len(part) > len(prefix) && strings.EqualFold(part[:len(prefix)], prefix) {
			if secs, err := strconv.Atoi(part[len(prefix):]); err == nil {
				return id, time.Duration(secs) * time.Second
			}
		}
	}
	return id, 0
}
