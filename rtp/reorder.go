package rtp

import (
	"sort"
	"time"
)

// DefaultMaxReorder and DefaultReorderTimeout match spec.md §4.4's stated
// defaults.
const (
	DefaultMaxReorder     = 8
	DefaultReorderTimeout = 100 * time.Millisecond
)

type pending struct {
	extSeq  uint64
	pkt     *Packet
	arrived time.Time
}

// ReorderBuffer orders, de-duplicates, and accounts for loss of one
// stream's RTP packets, per spec.md §4.4. It is not safe for concurrent
// use: the core is single-threaded cooperative per session (spec.md §5),
// and one ReorderBuffer belongs to exactly one Stream.
type ReorderBuffer struct {
	maxReorder int
	timeout    time.Duration

	initialized  bool
	nextExpected uint64
	lastDelivery time.Time

	buffered []pending

	tsExt *TimestampExtender

	// OnTimestampError, if set, is called instead of silently delivering a
	// zero-value Timestamp when the stream's clock rate is unresolved (no
	// matching rtpmap entry). Never fatal to the buffer.
	OnTimestampError func(err error)
}

// NewReorderBuffer constructs a buffer for a stream with the given RTP
// clock rate. maxReorder <= 0 and timeout <= 0 fall back to the spec
// defaults.
func NewReorderBuffer(clockRate uint32, maxReorder int, timeout time.Duration) *ReorderBuffer {
	if maxReorder <= 0 {
		maxReorder = DefaultMaxReorder
	}
	if timeout <= 0 {
		timeout = DefaultReorderTimeout
	}
	return &ReorderBuffer{
		maxReorder: maxReorder,
		timeout:    timeout,
		tsExt:      NewTimestampExtender(clockRate),
	}
}

// Seed primes the expected sequence number and timestamp start from an
// RTP-Info entry observed at PLAY (spec.md §4.3). Must be called before the
// first Push, if called at all; without it the buffer self-initializes from
// the first packet observed (spec.md §10, "RTP-Info absence fallback").
func (b *ReorderBuffer) Seed(seq uint16, rtptime uint32) {
	b.nextExpected = uint64(seq)
	b.initialized = true
	b.tsExt.Seed(rtptime)
}

// Push ingests one freshly-received packet and returns the packets that
// become ready for in-order delivery as a result (zero, one, or many).
// Returned packets are always in strictly increasing extended sequence
// order, matching the reorder buffer invariant in spec.md §3.
func (b *ReorderBuffer) Push(wireSeq uint16, rawTimestamp uint32, ssrc uint32, payloadType uint8, mark bool, payload []byte, ctx PacketContext, now time.Time) []*Packet {
	if !b.initialized {
		b.nextExpected = uint64(wireSeq)
		b.initialized = true
	}

	sExt := extendSequence(wireSeq, b.nextExpected)

	if sExt < b.nextExpected {
		// Already delivered, or an ancient duplicate. Account nothing.
		return nil
	}

	pkt := &Packet{
		SSRC:                   ssrc,
		PayloadType:            payloadType,
		SequenceNumber:         wireSeq,
		ExtendedSequenceNumber: sExt,
		Mark:                   mark,
		Payload:                payload,
		Context:                ctx,
		rawTimestamp:           rawTimestamp,
	}

	if sExt == b.nextExpected {
		pkt.Timestamp = b.extend(rawTimestamp)
		pkt.Loss = 0
		b.nextExpected++
		b.lastDelivery = now
		delivered := []*Packet{pkt}
		return append(delivered, b.drain()...)
	}

	// Out of order: buffer it, replacing any existing entry with the
	// same extended sequence (duplicate arrival).
	for i, p := range b.buffered {
		if p.extSeq == sExt {
			b.buffered[i] = pending{extSeq: sExt, pkt: pkt, arrived: now}
			return nil
		}
	}
	b.buffered = append(b.buffered, pending{extSeq: sExt, pkt: pkt, arrived: now})
	sort.Slice(b.buffered, func(i, j int) bool { return b.buffered[i].extSeq < b.buffered[j].extSeq })

	if len(b.buffered) > b.maxReorder || b.oldestExceedsTimeout(now) {
		return b.forceFlush(now)
	}
	return nil
}

// extend resolves a packet's extended Timestamp, reporting (not silently
// discarding) a resolution failure via OnTimestampError.
func (b *ReorderBuffer) extend(raw uint32) Timestamp {
	ts, err := b.tsExt.Extend(raw)
	if err != nil && b.OnTimestampError != nil {
		b.OnTimestampError(err)
	}
	return ts
}

func (b *ReorderBuffer) oldestExceedsTimeout(now time.Time) bool {
	if len(b.buffered) == 0 {
		return false
	}
	return now.Sub(b.buffered[0].arrived) >= b.timeout
}

// drain pops buffered packets that are now contiguous with nextExpected.
func (b *ReorderBuffer) drain() []*Packet {
	var out []*Packet
	for len(b.buffered) > 0 && b.buffered[0].extSeq == b.nextExpected {
		p := b.buffered[0]
		b.buffered = b.buffered[1:]
		p.pkt.Timestamp = b.extend(rawTimestampOf(p.pkt))
		p.pkt.Loss = 0
		b.nextExpected++
		out = append(out, p.pkt)
	}
	return out
}

// forceFlush is invoked on buffer overflow or reorder timeout: it treats
// the gap up to the earliest buffered packet as loss, delivers that
// packet, then drains any further now-contiguous packets.
func (b *ReorderBuffer) forceFlush(now time.Time) []*Packet {
	if len(b.buffered) == 0 {
		return nil
	}
	head := b.buffered[0]
	b.buffered = b.buffered[1:]

	gap := head.extSeq - b.nextExpected
	head.pkt.Timestamp = b.extend(rawTimestampOf(head.pkt))
	head.pkt.Loss = saturateLoss(gap)
	b.nextExpected = head.extSeq + 1
	b.lastDelivery = now

	out := []*Packet{head.pkt}
	return append(out, b.drain()...)
}

// Flush forces delivery of anything still buffered, accounting for loss up
// to each gap. Call this on stream teardown or when a caller wants to stop
// waiting on the reorder timeout.
func (b *ReorderBuffer) Flush(now time.Time) []*Packet {
	var out []*Packet
	for len(b.buffered) > 0 {
		out = append(out, b.forceFlush(now)...)
	}
	return out
}

// NextTimeout reports how long until the oldest buffered packet's reorder
// timeout elapses, or false if nothing is buffered. Callers drive this as
// one of the suspension points described in spec.md §5.
func (b *ReorderBuffer) NextTimeout(now time.Time) (time.Duration, bool) {
	if len(b.buffered) == 0 {
		return 0, false
	}
	deadline := b.buffered[0].arrived.Add(b.timeout)
	if d := deadline.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// PollTimeout forces a flush if the oldest buffered packet's timeout has
// elapsed. Callers should call this after a reorder-timeout suspension
// point fires.
func (b *ReorderBuffer) PollTimeout(now time.Time) []*Packet {
	if b.oldestExceedsTimeout(now) {
		return b.forceFlush(now)
	}
	return nil
}

// rawTimestampOf recovers the original wire timestamp for a packet that
// hasn't had Timestamp resolved yet. Push stores it in Packet.rawTimestamp
// before extension, since Timestamp.Raw() is only meaningful afterwards.
func rawTimestampOf(p *Packet) uint32 {
	return p.rawTimestamp
}
