package rtsp

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"
)

// TransportKind selects how a Stream's media is carried.
type TransportKind int

const (
	// TransportUnspecified tells Setup to fall back to Quirks.DefaultTransport
	// instead of choosing a transport itself. Never returned by a parsed
	// Transport header.
	TransportUnspecified TransportKind = iota - 1
	TransportUDP
	TransportTCP
	TransportUDPMulticast
)

func (t TransportKind) String() string {
	switch t {
	case TransportUnspecified:
		return "unspecified"
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportUDPMulticast:
		return "udp_multicast"
	default:
		return "unknown"
	}
}

// Quirks configures deviations from strict RFC 2326 conformance tolerated
// to interoperate with commodity camera firmware. The zero value is strict
// behavior; every quirk is opt-in.
type Quirks struct {
	// IgnoreSpuriousRTCPReports skips logging a diagnostic for malformed
	// RTCP instead of surfacing a warning for it.
	IgnoreSpuriousRTCPReports bool

	// AllowLaxInterleavedChannels accepts a SETUP response whose
	// interleaved channel ids or client ports differ from what was
	// requested, instead of failing SETUP.
	AllowLaxInterleavedChannels bool

	// AcceptRetrogradeNPT allows NPT to appear to move backwards (some
	// servers resend RTP-Info with a lower rtptime across SETUPs).
	AcceptRetrogradeNPT bool

	// DefaultTransport is what Setup uses when called with
	// TransportUnspecified. Defaults to TransportUDP.
	DefaultTransport TransportKind

	// MaxReorder bounds how many out-of-order packets the reorder buffer
	// holds before forcing a flush. Default 8.
	MaxReorder int

	// ReorderTimeout bounds how long an out-of-order packet is held
	// before forcing a flush. Default 100ms.
	ReorderTimeout time.Duration

	// SessionTimeout overrides the server-advertised Session timeout used
	// to derive the keep-alive interval. Zero means "use the server's
	// value, floored at 5s."
	SessionTimeout time.Duration

	// MaxRedirects bounds how many 3xx Location hops DESCRIBE will
	// follow. Default 5.
	MaxRedirects int
}

func (q Quirks) withDefaults() Quirks {
	if q.MaxReorder <= 0 {
		q.MaxReorder = 8
	}
	if q.ReorderTimeout <= 0 {
		q.ReorderTimeout = 100 * time.Millisecond
	}
	if q.MaxRedirects <= 0 {
		q.MaxRedirects = 5
	}
	return q
}

// Credentials is the caller-supplied value type used to answer Basic or
// Digest challenges. The library never reads credentials from the
// environment or disk; the caller owns this value.
type Credentials struct {
	Username string
	Password string
}

// Config bundles per-Session tunables. Construct a Session with functional
// Options the way the teacher builds a Diago with DiagoOption values.
type Config struct {
	Quirks Quirks

	// DialTimeout bounds the initial TCP connect.
	DialTimeout time.Duration
	// RequestTimeout bounds a single RTSP request/response round trip
	// when the caller's context carries no deadline.
	RequestTimeout time.Duration
	// IdlePacketTimeout bounds inter-packet silence while Playing.
	IdlePacketTimeout time.Duration

	Credentials *Credentials

	// TLSConfig is used for the "rtsps" scheme. A nil ServerName is filled
	// in from the dialed host. Ignored for plain "rtsp" URLs.
	TLSConfig *tls.Config

	log zerolog.Logger
}

// Option mutates a Config during NewSession.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Quirks:            Quirks{}.withDefaults(),
		DialTimeout:       5 * time.Second,
		RequestTimeout:    10 * time.Second,
		IdlePacketTimeout: 10 * time.Second,
		log:               zerolog.Nop(),
	}
}

// WithQuirks installs a quirk configuration, filling in defaults for unset
// numeric fields.
func WithQuirks(q Quirks) Option {
	return func(c *Config) {
		c.Quirks = q.withDefaults()
	}
}

// WithCredentials supplies Basic/Digest auth material to answer 401s with.
func WithCredentials(creds Credentials) Option {
	return func(c *Config) {
		c.Credentials = &creds
	}
}

// WithDialTimeout overrides the TCP connect deadline.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithRequestTimeout overrides the per-request response deadline applied
// when the caller's context has no deadline of its own.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithIdlePacketTimeout overrides the inter-packet idle timeout enforced
// while Playing.
func WithIdlePacketTimeout(d time.Duration) Option {
	return func(c *Config) { c.IdlePacketTimeout = d }
}

// WithLogger installs a zerolog.Logger used for all diagnostics. Defaults
// to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.log = l }
}

// WithTLSConfig installs the TLS configuration used when dialing an
// "rtsps" URL. Has no effect on plain "rtsp" URLs.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = tc }
}
