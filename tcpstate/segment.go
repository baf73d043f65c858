package tcpstate

import "github.com/gtcp-dev/usertcp/internal/seqs"

// InSegment is the subset of an inbound TCP segment that the state machine
// needs, decoupled from the wire codec in package ipframe so that tests can
// construct segments as plain literals.
type InSegment struct {
	Seq     seqs.Value
	Ack     seqs.Value
	Window  uint16
	SYN     bool
	ACK     bool
	FIN     bool
	RST     bool
	Payload []byte
}

// Len is the RFC 9293 §3.4 segment-length accounting: payload octets plus
// one for SYN plus one for FIN, since both consume a slot in the sequence
// space.
func (seg InSegment) Len() seqs.Size {
	n := seqs.Size(len(seg.Payload))
	if seg.SYN {
		n++
	}
	if seg.FIN {
		n++
	}
	return n
}

// Last returns the sequence number of the segment's final octet, or Seq
// itself for a zero-length segment.
func (seg InSegment) Last() seqs.Value {
	n := seg.Len()
	if n == 0 {
		return seg.Seq
	}
	return seqs.Add(seg.Seq, n-1)
}
