package internal

import (
	"encoding/binary"
	"log/slog"
)

// SlogAddr4 returns a slog.Attr for a 4-byte IPv4 address
// packed into a uint64 without allocating a string.
func SlogAddr4(key string, addr *[4]byte) slog.Attr {
	u64Addr := uint64(binary.BigEndian.Uint32(addr[:]))
	return slog.Uint64(key, u64Addr)
}

// SlogQuad returns the four slog.Attr values identifying a connection's
// remote/local address and port, built without allocating strings. Used by
// tcpstate.Connection and demux.Demux for the per-segment debug log.
func SlogQuad(remoteIP *[4]byte, remotePort uint16, localIP *[4]byte, localPort uint16) []slog.Attr {
	return []slog.Attr{
		SlogAddr4("remote_ip", remoteIP),
		slog.Uint64("remote_port", uint64(remotePort)),
		SlogAddr4("local_ip", localIP),
		slog.Uint64("local_port", uint64(localPort)),
	}
}
