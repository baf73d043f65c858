// Package ipframe implements the IPv4+TCP header codec the TCP state
// machine treats as an external dependency: decoding inbound datagrams into
// header values plus a payload slice, and building outbound datagrams from
// a mutable per-flow header template, including the TCP checksum over the
// IPv4 pseudo-header.
//
// It is a thin layer over github.com/google/gopacket/layers, chosen because
// it exposes exactly the primitives the contract calls for:
// DecodeFromBytes for header-slice parsing, and mutable Serializable layers
// with SetNetworkLayerForChecksum/ComputeChecksums for pseudo-header
// checksums.
package ipframe

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// MaxDatagram is the MTU/scratch buffer size budget for one IPv4 datagram.
	MaxDatagram = 1500
	// DefaultTTL is the IPv4 TTL used on every outbound datagram.
	DefaultTTL = 64
)

// ErrUnsupportedProto is returned by Parse for any datagram that is not
// IPv4-over-TCP: non-IPv4 (version != 4) or IPv4 with a protocol other than
// TCP. Demux treats this as a silent drop.
var ErrUnsupportedProto = errors.New("ipframe: unsupported protocol")

// Headers is the decoded view of one inbound IPv4+TCP datagram.
type Headers struct {
	IP  layers.IPv4
	TCP layers.TCP
}

// Parse decodes datagram as an IPv4 header followed by a TCP header,
// returning the decoded headers and the TCP payload (the slice following
// the TCP header, truncated to the IPv4 total-length field). Non-IPv4 and
// non-TCP datagrams return ErrUnsupportedProto; malformed headers return a
// wrapped decode error.
func Parse(datagram []byte) (Headers, []byte, error) {
	var hdr Headers
	if err := hdr.IP.DecodeFromBytes(datagram, gopacket.NilDecodeFeedback); err != nil {
		return Headers{}, nil, fmt.Errorf("ipframe: parse ipv4: %w", err)
	}
	if hdr.IP.Version != 4 || hdr.IP.Protocol != layers.IPProtocolTCP {
		return hdr, nil, ErrUnsupportedProto
	}
	if err := hdr.TCP.DecodeFromBytes(hdr.IP.LayerPayload(), gopacket.NilDecodeFeedback); err != nil {
		return Headers{}, nil, fmt.Errorf("ipframe: parse tcp: %w", err)
	}
	return hdr, hdr.TCP.LayerPayload(), nil
}

// Template is a reusable, mutable IPv4+TCP header pair for one flow,
// matching the "header templates" in the connection data model: fixed
// addresses and ports, TTL, protocol, with mutable flag/seq/ack/checksum
// fields updated per outbound segment.
type Template struct {
	IP   layers.IPv4
	TCP  layers.TCP
	buf  gopacket.SerializeBuffer
	opts gopacket.SerializeOptions
}

// NewTemplate builds an outbound header template with the given local and
// remote endpoints. Source/destination are set from the perspective of the
// endpoint that owns the template (local is the source of outbound traffic).
func NewTemplate(localIP, remoteIP net.IP, localPort, remotePort uint16) *Template {
	t := &Template{
		IP: layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      DefaultTTL,
			Id:       0,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    append(net.IP(nil), localIP...),
			DstIP:    append(net.IP(nil), remoteIP...),
		},
		TCP: layers.TCP{
			SrcPort:    layers.TCPPort(localPort),
			DstPort:    layers.TCPPort(remotePort),
			DataOffset: 5,
		},
		buf:  gopacket.NewSerializeBuffer(),
		opts: gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
	}
	t.TCP.SetNetworkLayerForChecksum(&t.IP)
	return t
}

// Serialize sets seq/ack/window/flags on the TCP template, serializes the
// full IPv4+TCP+payload datagram into a reused scratch buffer (bounded by
// MaxDatagram), and returns the resulting bytes. The returned slice is only
// valid until the next call to Serialize.
func (t *Template) Serialize(seq, ack uint32, window uint16, syn, ackFlag, fin, rst bool, payload []byte) ([]byte, error) {
	if len(payload) > MaxDatagram-40 {
		payload = payload[:MaxDatagram-40]
	}
	t.TCP.Seq = seq
	t.TCP.Ack = ack
	t.TCP.Window = window
	t.TCP.SYN = syn
	t.TCP.ACK = ackFlag
	t.TCP.FIN = fin
	t.TCP.RST = rst
	t.TCP.Options = nil
	t.buf.Clear()
	err := gopacket.SerializeLayers(t.buf, t.opts, &t.IP, &t.TCP, gopacket.Payload(payload))
	if err != nil {
		return nil, fmt.Errorf("ipframe: serialize: %w", err)
	}
	out := t.buf.Bytes()
	if len(out) > MaxDatagram {
		out = out[:MaxDatagram]
	}
	return out, nil
}
