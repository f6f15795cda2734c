// Package sdp parses the Session Description Protocol body a DESCRIBE
// response carries, just far enough to drive SETUP: session- and
// media-level attributes, connection information, and the per-media
// control/rtpmap attributes spec.md §4.2 needs. Grounded on the teacher's
// media/sdp/sdp.go line-scanner, generalized from "enough to start a SIP
// call" to "enough to enumerate RTSP media streams".
package sdp

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectionInformation is an SDP "c=" line: network type, address type,
// and connection address (RFC 4566 §5.7).
type ConnectionInformation struct {
	NetworkType string
	AddressType string
	Address     string
}

// MediaDescription is one "m=" section and the attributes that follow it,
// up to the next "m=" line or end of body.
type MediaDescription struct {
	MediaType string // "audio", "video", "application", ...
	Port      int
	Protocol  string // normally "RTP/AVP" or "RTP/AVP/TCP"
	Formats   []int  // RTP payload type numbers

	Connection *ConnectionInformation

	// Control is the "a=control:" attribute value, used to build this
	// media's SETUP/PLAY request URI (spec.md §4.2). May be relative to
	// the session-level control attribute, or absolute.
	Control string

	// RTPMap holds "a=rtpmap:<fmt> <encoding>/<clockrate>[/<channels>]"
	// entries keyed by payload type.
	RTPMap map[int]RTPMapEntry

	// FMTP holds "a=fmtp:<fmt> <params>" entries keyed by payload type,
	// carrying codec-specific parameters (e.g. H.264 sprop-parameter-sets).
	FMTP map[int]string

	Attributes map[string][]string
}

// RTPMapEntry is one parsed "a=rtpmap" line.
type RTPMapEntry struct {
	EncodingName string
	ClockRate    uint32
	Channels     int
}

// SessionDescription is a parsed SDP body (RFC 4566).
type SessionDescription struct {
	// Control is the session-level "a=control:" attribute, usually "*"
	// meaning "aggregate control at the request URI" (spec.md §4.2).
	Control string

	Connection *ConnectionInformation

	Attributes map[string][]string
	Media      []MediaDescription
}

// Unmarshal parses an SDP body. Unknown line types are ignored; malformed
// m=/a=rtpmap lines are reported via an error that names the offending
// line, matching spec.md §4.2's "DESCRIBE response must be parseable SDP"
// requirement.
func Unmarshal(body []byte) (*SessionDescription, error) {
	sd := &SessionDescription{Attributes: map[string][]string{}}

	var cur *MediaDescription
	lines := strings.Split(string(body), "\n")
	for lineNo, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		key, value := line[0], line[2:]

		switch key {
		case 'm':
			md, err := parseMediaLine(value)
			if err != nil {
				return nil, fmt.Errorf("sdp: line %d: %w", lineNo+1, err)
			}
			sd.Media = append(sd.Media, md)
			cur = &sd.Media[len(sd.Media)-1]
		case 'c':
			ci, err := parseConnectionLine(value)
			if err != nil {
				return nil, fmt.Errorf("sdp: line %d: %w", lineNo+1, err)
			}
			if cur != nil {
				cur.Connection = ci
			} else {
				sd.Connection = ci
			}
		case 'a':
			if err := applyAttribute(sd, cur, value); err != nil {
				return nil, fmt.Errorf("sdp: line %d: %w", lineNo+1, err)
			}
		default:
			// v=, o=, s=, t=, b=, and the rest carry nothing this client
			// needs to start a stream.
		}
	}

	return sd, nil
}

func parseMediaLine(value string) (MediaDescription, error) {
	fields := strings.Fields(value)
	if len(fields) < 4 {
		return MediaDescription{}, fmt.Errorf("malformed m= line %q", value)
	}

	port, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0])
	if err != nil {
		return MediaDescription{}, fmt.Errorf("malformed m= port %q", fields[1])
	}

	md := MediaDescription{
		MediaType:  fields[0],
		Port:       port,
		Protocol:   fields[2],
		RTPMap:     map[int]RTPMapEntry{},
		FMTP:       map[int]string{},
		Attributes: map[string][]string{},
	}
	for _, f := range fields[3:] {
		fmtNum, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		md.Formats = append(md.Formats, fmtNum)
	}
	return md, nil
}

func parseConnectionLine(value string) (*ConnectionInformation, error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed c= line %q", value)
	}
	return &ConnectionInformation{
		NetworkType: fields[0],
		AddressType: fields[1],
		Address:     fields[2],
	}, nil
}

func applyAttribute(sd *SessionDescription, cur *MediaDescription, value string) error {
	name, rest, _ := strings.Cut(value, ":")

	attrs := sd.Attributes
	if cur != nil {
		attrs = cur.Attributes
	}
	attrs[name] = append(attrs[name], rest)

	switch name {
	case "control":
		if cur != nil {
			cur.Control = rest
		} else {
			sd.Control = rest
		}
	case "rtpmap":
		if cur == nil {
			return fmt.Errorf("a=rtpmap outside of a media section")
		}
		fmtNum, entry, err := parseRTPMap(rest)
		if err != nil {
			return err
		}
		cur.RTPMap[fmtNum] = entry
	case "fmtp":
		if cur == nil {
			return fmt.Errorf("a=fmtp outside of a media section")
		}
		fmtNum, params, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("malformed a=fmtp line %q", rest)
		}
		n, err := strconv.Atoi(fmtNum)
		if err != nil {
			return fmt.Errorf("malformed a=fmtp payload type %q", fmtNum)
		}
		cur.FMTP[n] = params
	}
	return nil
}

func parseRTPMap(value string) (int, RTPMapEntry, error) {
	fmtStr, rest, ok := strings.Cut(value, " ")
	if !ok {
		return 0, RTPMapEntry{}, fmt.Errorf("malformed a=rtpmap line %q", value)
	}
	fmtNum, err := strconv.Atoi(fmtStr)
	if err != nil {
		return 0, RTPMapEntry{}, fmt.Errorf("malformed a=rtpmap payload type %q", fmtStr)
	}

	parts := strings.Split(rest, "/")
	entry := RTPMapEntry{EncodingName: parts[0]}
	if len(parts) > 1 {
		cr, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, RTPMapEntry{}, fmt.Errorf("malformed a=rtpmap clock rate %q", parts[1])
		}
		entry.ClockRate = uint32(cr)
	}
	if len(parts) > 2 {
		ch, err := strconv.Atoi(parts[2])
		if err != nil {
			return 0, RTPMapEntry{}, fmt.Errorf("malformed a=rtpmap channel count %q", parts[2])
		}
		entry.Channels = ch
	}
	return fmtNum, entry, nil
}

// ControlURI resolves a media's control attribute against the session's
// base request URI, per RFC 2326 §C.1.1: an absolute attribute is used
// verbatim, "*" means the base URI itself, and anything else is appended
// as a relative path segment.
func ControlURI(base, control string) string {
	if control == "" || control == "*" {
		return base
	}
	if strings.Contains(control, "://") {
		return control
	}
	if strings.HasSuffix(base, "/") {
		return base + control
	}
	return base + "/" + control
}
