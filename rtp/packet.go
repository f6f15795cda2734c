package rtp

// Packet is an RTP packet materialized after framing and reorder
// processing, per spec.md §3. SequenceNumber/ExtendedSequenceNumber and
// Timestamp are already resolved against the owning stream's extenders;
// Loss is the number of packets known lost immediately before this one.
type Packet struct {
	StreamID int
	Context  PacketContext

	SSRC                   uint32
	PayloadType            uint8
	SequenceNumber         uint16
	ExtendedSequenceNumber uint64
	Mark                   bool
	Timestamp              Timestamp
	Payload                []byte

	// Loss is delivered_seq - previous_delivered_seq - 1, never negative,
	// saturating at 65535 for display (spec.md §4.4).
	Loss uint32

	// rawTimestamp holds the wire timestamp until ReorderBuffer resolves
	// Timestamp in delivery order (extension must happen in delivery
	// order, not arrival order, so the "maximum seen so far" rule in
	// spec.md §4.4 isn't corrupted by a packet that arrived early but
	// sorts later).
	rawTimestamp uint32
}

func saturateLoss(v uint64) uint32 {
	if v > 65535 {
		return 65535
	}
	return uint32(v)
}
