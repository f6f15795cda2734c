package rtsp

import (
	"fmt"
	"strconv"
	"strings"
)

// nextCSeq returns the next CSeq value and advances the counter, per RFC
// 2326 §12.17: every request on a session carries a strictly increasing
// CSeq, matched against the response.
func (s *Session) nextCSeq() uint32 {
	s.cseq++
	return s.cseq
}

// transportHeaderFor renders the Transport request header for one SETUP,
// per RFC 2326 §12.39.
func transportHeaderFor(kind TransportKind, rtpPort, rtcpPort int, rtpChannel, rtcpChannel byte) string {
	switch kind {
	case TransportTCP:
		return fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", rtpChannel, rtcpChannel)
	case TransportUDPMulticast:
		return fmt.Sprintf("RTP/AVP;multicast;client_port=%d-%d", rtpPort, rtcpPort)
	default:
		return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtcpPort)
	}
}

// parsedTransport is what SETUP's response Transport header tells us about
// how the server actually wants to send media, which may differ from what
// we asked for (spec.md §4.2, Quirks.AllowLaxInterleavedChannels).
type parsedTransport struct {
	Kind             TransportKind
	ServerRTPPort    int
	ServerRTCPPort   int
	ClientRTPPort    int
	ClientRTCPPort   int
	InterleavedRTP   byte
	InterleavedRTCP  byte
	HasInterleaved   bool
	Destination      string
}

// parseTransportHeader parses a SETUP response's Transport header value.
func parseTransportHeader(value string) (parsedTransport, error) {
	var pt parsedTransport
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case strings.EqualFold(part, "RTP/AVP/TCP"), strings.EqualFold(part, "RTP/AVP"):
			if strings.Contains(strings.ToUpper(part), "TCP") {
				pt.Kind = TransportTCP
			}
		case strings.EqualFold(part, "unicast"):
			// nothing to record
		case strings.EqualFold(part, "multicast"):
			pt.Kind = TransportUDPMulticast
		case strings.HasPrefix(strings.ToLower(part), "destination="):
			pt.Destination = part[len("destination="):]
		case strings.HasPrefix(strings.ToLower(part), "interleaved="):
			lo, hi, err := parsePortPair(part[len("interleaved="):])
			if err != nil {
				return pt, fmt.Errorf("rtsp: malformed interleaved range %q: %w", part, err)
			}
			pt.InterleavedRTP = byte(lo)
			pt.InterleavedRTCP = byte(hi)
			pt.HasInterleaved = true
		case strings.HasPrefix(strings.ToLower(part), "client_port="):
			lo, hi, err := parsePortPair(part[len("client_port="):])
			if err != nil {
				return pt, fmt.Errorf("rtsp: malformed client_port range %q: %w", part, err)
			}
			pt.ClientRTPPort, pt.ClientRTCPPort = lo, hi
		case strings.HasPrefix(strings.ToLower(part), "server_port="):
			lo, hi, err := parsePortPair(part[len("server_port="):])
			if err != nil {
				return pt, fmt.Errorf("rtsp: malformed server_port range %q: %w", part, err)
			}
			pt.ServerRTPPort, pt.ServerRTCPPort = lo, hi
		}
	}
	return pt, nil
}

func parsePortPair(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	loN, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return loN, loN + 1, nil
	}
	hiN, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, err
	}
	return loN, hiN, nil
}

// rtpInfoEntry is one stream's seed point parsed out of a PLAY response's
// RTP-Info header, per RFC 2326 §12.33.
type rtpInfoEntry struct {
	URL      string
	Seq      uint16
	HasSeq   bool
	RTPTime  uint32
	HasRTime bool
}

// parseRTPInfo parses a PLAY response's RTP-Info header, which lists one
// comma-separated entry per stream.
func parseRTPInfo(value string) []rtpInfoEntry {
	var out []rtpInfoEntry
	for _, entry := range strings.Split(value, ",") {
		var e rtpInfoEntry
		for _, field := range strings.Split(entry, ";") {
			field = strings.TrimSpace(field)
			switch {
			case strings.HasPrefix(field, "url="):
				e.URL = strings.Trim(field[len("url="):], "\"")
			case strings.HasPrefix(field, "seq="):
				if n, err := strconv.ParseUint(field[len("seq="):], 10, 16); err == nil {
					e.Seq = uint16(n)
					e.HasSeq = true
				}
			case strings.HasPrefix(field, "rtptime="):
				if n, err := strconv.ParseUint(field[len("rtptime="):], 10, 32); err == nil {
					e.RTPTime = uint32(n)
					e.HasRTime = true
				}
			}
		}
		if e.URL != "" {
			out = append(out, e)
		}
	}
	return out
}
