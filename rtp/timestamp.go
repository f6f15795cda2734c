package rtp

import (
	"fmt"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01T00:00:00Z) and the Unix epoch.
const ntpEpochOffset = 2208988800

// NtpTimestamp is the 64-bit NTP fixed-point format: seconds since 1900 in
// the top 32 bits, fractional seconds in the bottom 32. It may be
// meaningless or retrograde and is never trusted for packet ordering
// (spec.md §3).
type NtpTimestamp uint64

// NewNtpTimestamp converts a wallclock time to NTP fixed-point.
func NewNtpTimestamp(t time.Time) NtpTimestamp {
	sec := t.Unix() + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return NtpTimestamp(uint64(sec)<<32 | frac)
}

// Time converts back to a wallclock time. Meaningless input (zero, or a
// value predating 1900) round-trips to whatever time.Unix produces; callers
// that need "never trust this for ordering" semantics should compare NPT
// instead.
func (n NtpTimestamp) Time() time.Time {
	sec := int64(n>>32) - ntpEpochOffset
	frac := uint64(n & 0xffffffff)
	nsec := int64(frac * 1e9 >> 32)
	return time.Unix(sec, nsec).UTC()
}

// Timestamp is the (extended time, clock rate, stream start) triple from
// spec.md §3. Extended is a 64-bit signed RTP timestamp that has had 32-bit
// wraparounds folded into its high bits by a TimestampExtender; Start is
// the extended value observed at PLAY (usually seeded from RTP-Info).
type Timestamp struct {
	Extended  int64
	ClockRate uint32
	Start     int64
}

// NewTimestamp validates and constructs a Timestamp. ClockRate must be
// non-zero; Extended preceding Start is a valid timestamp (a server can
// resend RTP-Info with a lower rtptime across SETUPs) and yields a negative
// ElapsedSecs rather than an error, matching how callers are expected to
// detect and gate retrograde NPT themselves (spec.md §3, §9).
func NewTimestamp(extended int64, clockRate uint32, start int64) (Timestamp, error) {
	if clockRate == 0 {
		return Timestamp{}, fmt.Errorf("rtp: clock rate must be non-zero")
	}
	return Timestamp{Extended: extended, ClockRate: clockRate, Start: start}, nil
}

// Retrograde reports whether t precedes the stream's Start, i.e. whether
// ElapsedSecs would be negative.
func (t Timestamp) Retrograde() bool {
	return t.Extended < t.Start
}

// Raw returns the 32-bit wire form.
func (t Timestamp) Raw() uint32 {
	return uint32(t.Extended)
}

// ElapsedSecs returns Normal Play Time: seconds since Start.
func (t Timestamp) ElapsedSecs() float64 {
	return float64(t.Extended-t.Start) / float64(t.ClockRate)
}

// wrapSpan is 2^32, the modulus a 32-bit RTP timestamp wraps at.
const wrapSpan = int64(1) << 32

// TimestampExtender folds 32-bit RTP timestamp wraparounds into a 64-bit
// signed extended value. Per spec.md §4.4, the "maximum seen so far" is the
// only thing that advances the wrap count: a packet whose extended
// timestamp comes out lower than the previous delivered packet's is still
// produced (codecs may reorder within their own stream), but it never
// rewinds the cycle count.
type TimestampExtender struct {
	clockRate   uint32
	initialized bool
	maxSeen     int64
	start       int64
}

// NewTimestampExtender creates an extender for a stream with the given
// clock rate.
func NewTimestampExtender(clockRate uint32) *TimestampExtender {
	return &TimestampExtender{clockRate: clockRate}
}

// Seed sets Start from a raw 32-bit timestamp, typically the rtptime field
// of RTP-Info observed at PLAY. Must be called at most once, before the
// first Extend.
func (e *TimestampExtender) Seed(rawStart uint32) {
	e.maxSeen = int64(rawStart)
	e.start = int64(rawStart)
	e.initialized = true
}

// Extend folds raw into the running 64-bit extended timestamp and returns
// the resulting Timestamp. The only error it can return is a zero
// ClockRate, which a caller with no rtpmap clock rate for the stream should
// expect and handle rather than treat as exceptional.
func (e *TimestampExtender) Extend(raw uint32) (Timestamp, error) {
	if !e.initialized {
		e.maxSeen = int64(raw)
		e.start = int64(raw)
		e.initialized = true
	}

	cycleBase := e.maxSeen - (e.maxSeen % wrapSpan)
	if e.maxSeen < 0 && e.maxSeen%wrapSpan != 0 {
		cycleBase -= wrapSpan
	}

	best := cycleBase + int64(raw)
	bestDiff := absInt64(best - e.maxSeen)
	for _, candidate := range [2]int64{best - wrapSpan, best + wrapSpan} {
		if d := absInt64(candidate - e.maxSeen); d < bestDiff {
			best = candidate
			bestDiff = d
		}
	}

	if best > e.maxSeen {
		e.maxSeen = best
	}

	return NewTimestamp(best, e.clockRate, e.start)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
