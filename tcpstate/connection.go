// Package tcpstate implements the per-flow TCP connection object: the
// send/receive sequence-variable blocks, the state graph, and the segment
// acceptability gate of RFC 9293 §3.4/§3.10. It has no knowledge of the
// demultiplexer or the TUN device; callers hand it a Sender to write
// outbound datagrams through.
package tcpstate

import (
	"context"
	"log/slog"
	"time"

	"github.com/gtcp-dev/usertcp/internal/seqs"
	"github.com/gtcp-dev/usertcp/ipframe"
)

const (
	// DefaultSendWindow is the initial snd.wnd assumed for the peer upon
	// accepting a connection, until the peer's first acceptable ACK supplies
	// a window update. The window this endpoint advertises is Rcv.WND.
	DefaultSendWindow = 1024
	// DefaultRecvWindow is the receive window cap applied at Accept when the
	// caller passes a zero recvWindowCap, i.e. does not configure one.
	DefaultRecvWindow = 4096
	// TimeWaitDuration is 2*MSL, the interval TIME_WAIT is held before the
	// quad may be reused, per RFC 9293 §3.5.
	TimeWaitDuration = 60 * time.Second
)

// SendSequence is the per-connection send sequence-variable block.
type SendSequence struct {
	ISS seqs.Value // initial send sequence number
	UNA seqs.Value // oldest unacknowledged sequence number
	NXT seqs.Value // next sequence number to send
	WND uint16      // send window advertised by the peer
	UP  bool        // urgent flag
	WL1 seqs.Value  // seq number of last window update
	WL2 seqs.Value  // ack number of last window update
}

// ReceiveSequence is the per-connection receive sequence-variable block.
type ReceiveSequence struct {
	IRS seqs.Value // initial receive sequence number
	NXT seqs.Value // next sequence number expected
	WND uint16      // receive window advertised to the peer
	UP  bool        // urgent flag
}

// Sender is the interface a Connection writes completed datagrams through.
// It deliberately does not live inside Connection as a field: it is passed
// as a parameter to every method that can emit a segment, so a Connection
// never holds a back-reference to the TUN device.
type Sender interface {
	Send(datagram []byte) error
}

// Connection is the per-flow TCP connection object. A Connection only
// exists from SYN_RCVD onward; LISTEN/CLOSED are the implicit absence of an
// entry in the demultiplexer.
type Connection struct {
	Quad  Quad
	State State

	Snd SendSequence
	Rcv ReceiveSequence

	tmpl *ipframe.Template

	// synPending/finPending track which control flags are owed on the
	// next outbound segment; Send clears them once transmitted.
	synPending bool
	finPending bool

	// closeRequested records an application-level Close() call that
	// arrived before the handshake completed; it is honored the moment
	// the connection reaches ESTABLISHED.
	closeRequested bool

	// timeWaitDeadline is the 2*MSL expiry used by Demux.Reap.
	timeWaitDeadline time.Time

	log *slog.Logger
}

// Accept takes an inbound segment with no existing Quad entry and, if it
// carries SYN, returns a new Connection in SYN_RCVD after emitting the
// SYN+ACK. Any other segment does not warrant opening a connection and
// Accept returns (nil, nil) so the caller drops it silently rather than
// resetting a quad nobody has opened.
//
// recvWindowCap bounds the receive window advertised back to the peer; the
// window otherwise mirrors the peer's own SYN advertisement. A zero
// recvWindowCap falls back to DefaultRecvWindow.
func Accept(quad Quad, seg InSegment, out Sender, log *slog.Logger, recvWindowCap uint16) (*Connection, error) {
	if !seg.SYN {
		return nil, nil
	}
	if recvWindowCap == 0 {
		recvWindowCap = DefaultRecvWindow
	}
	wnd := seg.Window
	if wnd > recvWindowCap {
		wnd = recvWindowCap
	}
	iss := newISS(quad)
	c := &Connection{
		Quad:  quad,
		State: StateSynRcvd,
		Snd: SendSequence{
			ISS: iss,
			UNA: iss,
			NXT: iss,
			WND: DefaultSendWindow,
		},
		Rcv: ReceiveSequence{
			IRS: seg.Seq,
			NXT: seqs.Add(seg.Seq, 1),
			WND: wnd,
		},
		synPending: true,
		log:        log,
	}
	c.tmpl = ipframe.NewTemplate(quad.LocalIP[:], quad.RemoteIP[:], quad.LocalPort, quad.RemotePort)
	c.debug("accept", append(quad.LogAttrs(), slog.Uint64("iss", uint64(iss)))...)
	if err := c.Send(out, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// Send writes one outbound segment carrying snd.nxt/recv.nxt and any
// pending SYN/FIN flags, advances snd.nxt, and clears the pending flags so
// they are not re-sent.
func (c *Connection) Send(out Sender, payload []byte) error {
	const headerBudget = 40 // 20B IPv4 + 20B TCP, no options in this implementation
	maxPayload := ipframe.MaxDatagram - headerBudget
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}
	syn, fin := c.synPending, c.finPending
	data, err := c.tmpl.Serialize(uint32(c.Snd.NXT), uint32(c.Rcv.NXT), c.Rcv.WND, syn, true, fin, false, payload)
	if err != nil {
		return err
	}
	if err := out.Send(data); err != nil {
		return err
	}
	adv := seqs.Size(len(payload))
	if syn {
		adv++
		c.synPending = false
	}
	if fin {
		adv++
		c.finPending = false
	}
	c.Snd.NXT = seqs.Add(c.Snd.NXT, adv)
	c.debug("send", slog.String("state", c.State.String()), slog.Uint64("snd.nxt", uint64(c.Snd.NXT)), slog.Uint64("rcv.nxt", uint64(c.Rcv.NXT)))
	return nil
}

// resendSynAck retransmits the original SYN+ACK at seq=ISS without
// advancing snd.nxt. A duplicate SYN while in SYN_RCVD must not produce a
// second state transition, only a repeated ACK of the peer's SYN.
func (c *Connection) resendSynAck(out Sender) error {
	data, err := c.tmpl.Serialize(uint32(c.Snd.ISS), uint32(c.Rcv.NXT), c.Rcv.WND, true, true, false, false, nil)
	if err != nil {
		return err
	}
	c.debug("resend-syn-ack", c.Quad.LogAttrs()...)
	return out.Send(data)
}

// SendRST builds and sends a reset segment following the RFC 9293 §3.5.1
// rule: if the offending segment carried ACK, the RST carries its ack
// value as seq with no ACK of its own; otherwise the RST carries seq=0 and
// ACKs the peer's next expected byte. seg is the offending inbound segment
// that triggered the RST, or nil for an RST not provoked by a specific
// segment. The connection's own state is left untouched: the RST is
// diagnostic, not a state transition.
func (c *Connection) SendRST(out Sender, seg *InSegment) error {
	var seq, ack seqs.Value
	var ackFlag bool
	switch {
	case seg != nil && seg.ACK:
		seq = seg.Ack
		ackFlag = false
	case seg != nil:
		seq = 0
		ack = seqs.Add(seg.Seq, seg.Len())
		ackFlag = true
	default:
		seq = c.Snd.NXT
		ack = c.Rcv.NXT
		ackFlag = true
	}
	data, err := c.tmpl.Serialize(uint32(seq), uint32(ack), c.Rcv.WND, false, ackFlag, false, true, nil)
	if err != nil {
		return err
	}
	c.debug("send-rst", slog.Uint64("seq", uint64(seq)), slog.Uint64("ack", uint64(ack)))
	return out.Send(data)
}

// Close is the application-level request to begin an active close: it
// requests emission of FIN, transitioning ESTABLISHED->FIN_WAIT_1 (or
// CLOSE_WAIT->LAST_ACK for a passive close already in progress). Calling
// Close before the handshake completes just records the request; it is
// honored the moment SYN_RCVD->ESTABLISHED.
func (c *Connection) Close(out Sender) error {
	switch c.State {
	case StateEstablished:
		c.finPending = true
		c.State = StateFinWait1
		return c.Send(out, nil)
	case StateCloseWait:
		c.finPending = true
		c.State = StateLastAck
		return c.Send(out, nil)
	default:
		c.closeRequested = true
		return nil
	}
}

// TimeWaitDeadline returns the instant at which Demux.Reap may remove this
// connection, valid only once State == StateTimeWait.
func (c *Connection) TimeWaitDeadline() time.Time { return c.timeWaitDeadline }

// SetTimeWaitDeadline overrides the TIME_WAIT expiry, for tests that need to
// force a deadline without waiting out TimeWaitDuration in real time.
func (c *Connection) SetTimeWaitDeadline(t time.Time) { c.timeWaitDeadline = t }

// segmentAcceptable is the RFC 9293 §3.4 segment acceptability test: whether
// any part of seg falls within the current receive window.
func (c *Connection) segmentAcceptable(seg InSegment, segLen seqs.Size) bool {
	wnd := c.Rcv.WND
	switch {
	case segLen == 0 && wnd == 0:
		return seg.Seq == c.Rcv.NXT
	case segLen == 0 && wnd > 0:
		return seqs.IsBetweenWrapped(c.Rcv.NXT-1, seg.Seq, seqs.Add(c.Rcv.NXT, seqs.Size(wnd)))
	case segLen > 0 && wnd == 0:
		return false
	default: // segLen > 0 && wnd > 0
		end := seqs.Add(c.Rcv.NXT, seqs.Size(wnd))
		firstOK := seqs.IsBetweenWrapped(c.Rcv.NXT-1, seg.Seq, end)
		lastOK := seqs.IsBetweenWrapped(c.Rcv.NXT-1, seg.Last(), end)
		return firstOK || lastOK
	}
}

// OnSegment is the core acceptability gate and state transition function
// for an inbound segment on an already-existing connection.
func (c *Connection) OnSegment(now time.Time, seg InSegment, out Sender) error {
	if c.State == StateClosed {
		c.debug("drop-closed", c.Quad.LogAttrs()...)
		return nil
	}

	// Boundary case: retransmitted SYN while awaiting the handshake ACK.
	if c.State == StateSynRcvd && seg.SYN && !seg.ACK && seg.Seq == c.Rcv.IRS {
		return c.resendSynAck(out)
	}

	// Boundary case: a retransmitted FIN in TIME_WAIT, the peer never
	// having seen our ACK, falls outside the receive window (we already
	// consumed it) and would otherwise be rejected as stale by the generic
	// acceptability gate below. Re-ack it directly and restart the 2*MSL
	// deadline instead, per RFC 9293 §3.5.
	if c.State == StateTimeWait && seg.FIN && seg.Last() == c.Rcv.NXT-1 {
		c.timeWaitDeadline = now.Add(TimeWaitDuration)
		return c.Send(out, nil)
	}

	segLen := seg.Len()
	if !c.segmentAcceptable(seg, segLen) {
		c.debug("reject-unacceptable-segment", slog.String("state", c.State.String()), slog.Uint64("seg.seq", uint64(seg.Seq)))
		if c.State.IsSynchronized() {
			return c.Send(out, nil) // empty ACK, no state change
		}
		return c.SendRST(out, &seg)
	}

	// Step C: advance receive pointer, logically consuming the segment.
	c.Rcv.NXT = seqs.Add(seg.Seq, segLen)

	if seg.RST {
		c.debug("abort-on-rst", c.Quad.LogAttrs()...)
		c.State = StateClosed
		return nil
	}

	if !seg.ACK {
		c.debug("drop-no-ack", slog.String("state", c.State.String()), slog.Uint64("seg.seq", uint64(seg.Seq)))
		return nil
	}

	// snd.una < seg.ack <= snd.nxt, tested via the wrapping_add(1) trick
	// to make the primitive's strict-open form cover the closed upper bound.
	// In synchronized states a duplicate ACK (seg.ack == snd.una) is also
	// accepted, so that a FIN carried on it is still processed.
	lower := c.Snd.UNA
	if c.State.IsSynchronized() {
		lower--
	}
	ackAcceptable := seqs.IsBetweenWrapped(lower, seg.Ack, seqs.Add(c.Snd.NXT, 1))
	if !ackAcceptable {
		if c.State == StateSynRcvd {
			return c.SendRST(out, &seg)
		}
		c.debug("reject-unacceptable-ack", slog.String("state", c.State.String()), slog.Uint64("seg.ack", uint64(seg.Ack)))
		return nil
	}

	// Window update (RFC 9293 §3.4): only accept a window update from a
	// segment that is no older, in sequence-number terms, than the last
	// one applied.
	if seqs.LessThan(c.Snd.WL1, seg.Seq) || (c.Snd.WL1 == seg.Seq && !seqs.LessThan(seg.Ack, c.Snd.WL2)) {
		c.Snd.WND = seg.Window
		c.Snd.WL1 = seg.Seq
		c.Snd.WL2 = seg.Ack
	}

	return c.advance(now, seg, out)
}

// advance is the state-transition table driven by an acceptable, ACK-bearing
// segment once the acceptability gate and ack-acceptability test have both
// passed.
func (c *Connection) advance(now time.Time, seg InSegment, out Sender) error {
	finAckBoundary := seqs.Add(c.Snd.ISS, 2) // SYN + FIN both accounted for

	switch c.State {
	case StateSynRcvd:
		c.Snd.UNA = seg.Ack
		c.State = StateEstablished
		if c.closeRequested {
			c.closeRequested = false
			c.finPending = true
			c.State = StateFinWait1
			return c.Send(out, nil)
		}
		return nil

	case StateEstablished:
		c.Snd.UNA = seg.Ack
		if seg.FIN {
			c.State = StateCloseWait
			return c.Send(out, nil) // ack the peer's FIN
		}
		return nil

	case StateFinWait1:
		c.Snd.UNA = seg.Ack
		switch {
		case seg.FIN && c.Snd.UNA == finAckBoundary:
			// Simultaneous close: our FIN was ACKed in the same segment
			// that carries the peer's FIN.
			c.State = StateTimeWait
			c.timeWaitDeadline = now.Add(TimeWaitDuration)
			return c.Send(out, nil)
		case seg.FIN:
			c.State = StateClosing
			return c.Send(out, nil)
		case c.Snd.UNA == finAckBoundary:
			c.State = StateFinWait2
		}
		return nil

	case StateFinWait2:
		c.Snd.UNA = seg.Ack
		if seg.FIN {
			c.State = StateTimeWait
			c.timeWaitDeadline = now.Add(TimeWaitDuration)
			return c.Send(out, nil)
		}
		return nil

	case StateClosing:
		c.Snd.UNA = seg.Ack
		if c.Snd.UNA == finAckBoundary {
			c.State = StateTimeWait
			c.timeWaitDeadline = now.Add(TimeWaitDuration)
		}
		return nil

	case StateCloseWait:
		c.Snd.UNA = seg.Ack
		return nil

	case StateLastAck:
		c.Snd.UNA = seg.Ack
		if c.Snd.UNA == finAckBoundary {
			c.State = StateClosed
		}
		return nil

	case StateTimeWait:
		c.Snd.UNA = seg.Ack
		if seg.FIN {
			// Peer retransmitted FIN: our ACK was lost. Re-emit it and
			// restart the 2*MSL deadline (RFC 9293 §3.5).
			c.timeWaitDeadline = now.Add(TimeWaitDuration)
			return c.Send(out, nil)
		}
		return nil
	}
	return nil
}

func (c *Connection) debug(msg string, attrs ...slog.Attr) {
	if c.log == nil || !c.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	c.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
