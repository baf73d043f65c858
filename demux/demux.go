// Package demux implements the connection-identifier demultiplexer: it maps
// an inbound IPv4+TCP datagram to its Quad, and dispatches to an existing
// tcpstate.Connection or attempts to accept a new one.
//
// Demux is single-threaded and holds exclusive mutable access to each
// Connection for the duration of one segment's processing; it is not safe
// for concurrent use.
package demux

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gtcp-dev/usertcp/internal/seqs"
	"github.com/gtcp-dev/usertcp/ipframe"
	"github.com/gtcp-dev/usertcp/tcpstate"
)

// Demux maps a Quad to its live Connection.
type Demux struct {
	conns         map[tcpstate.Quad]*tcpstate.Connection
	log           *slog.Logger
	recvWindowCap uint16
}

// New returns an empty Demux. log may be nil to disable logging.
// recvWindowCap bounds the receive window advertised for every connection
// accepted through this Demux; zero falls back to tcpstate.DefaultRecvWindow.
func New(log *slog.Logger, recvWindowCap uint16) *Demux {
	return &Demux{
		conns:         make(map[tcpstate.Quad]*tcpstate.Connection),
		log:           log,
		recvWindowCap: recvWindowCap,
	}
}

// Len returns the number of live connections.
func (d *Demux) Len() int { return len(d.conns) }

// Lookup returns the Connection for quad, if any.
func (d *Demux) Lookup(quad tcpstate.Quad) (*tcpstate.Connection, bool) {
	c, ok := d.conns[quad]
	return c, ok
}

// Ingest parses the IPv4+TCP headers, drops anything that is not
// IPv4-over-TCP or fails to parse, and either dispatches to an existing
// Connection or attempts to accept a new one, inserting it into the map on
// success.
func (d *Demux) Ingest(now time.Time, datagram []byte, out tcpstate.Sender) error {
	hdr, payload, err := ipframe.Parse(datagram)
	if err != nil {
		if errors.Is(err, ipframe.ErrUnsupportedProto) {
			d.debug("drop-unsupported-proto")
			return nil
		}
		d.debug("drop-parse-error", slog.String("err", err.Error()))
		return nil
	}

	quad := tcpstate.Quad{
		RemoteIP:   to4(hdr.IP.SrcIP),
		RemotePort: uint16(hdr.TCP.SrcPort),
		LocalIP:    to4(hdr.IP.DstIP),
		LocalPort:  uint16(hdr.TCP.DstPort),
	}
	seg := tcpstate.InSegment{
		Seq:     seqs.Value(hdr.TCP.Seq),
		Ack:     seqs.Value(hdr.TCP.Ack),
		Window:  hdr.TCP.Window,
		SYN:     hdr.TCP.SYN,
		ACK:     hdr.TCP.ACK,
		FIN:     hdr.TCP.FIN,
		RST:     hdr.TCP.RST,
		Payload: payload,
	}

	if conn, ok := d.conns[quad]; ok {
		return conn.OnSegment(now, seg, out)
	}

	conn, err := tcpstate.Accept(quad, seg, out, d.log, d.recvWindowCap)
	if err != nil {
		return err
	}
	if conn != nil {
		d.conns[quad] = conn
		d.debug("connection-opened", quad.LogAttrs()...)
	} else {
		d.debug("drop-no-connection", quad.LogAttrs()...)
	}
	return nil
}

// Reap removes every connection that has reached a terminal state, either
// an immediate abort (StateClosed) or a TIME_WAIT whose 2*MSL deadline has
// elapsed.
func (d *Demux) Reap(now time.Time) {
	for quad, conn := range d.conns {
		switch {
		case conn.State == tcpstate.StateClosed:
			delete(d.conns, quad)
			d.debug("reaped-closed", quad.LogAttrs()...)
		case conn.State == tcpstate.StateTimeWait && now.After(conn.TimeWaitDeadline()):
			delete(d.conns, quad)
			d.debug("reaped-time-wait", quad.LogAttrs()...)
		}
	}
}

func (d *Demux) debug(msg string, attrs ...slog.Attr) {
	if d.log == nil || !d.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	d.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func to4(ip net.IP) (out [4]byte) {
	v4 := ip.To4()
	if v4 == nil {
		return out
	}
	copy(out[:], v4)
	return out
}
