package tcpstate

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/gtcp-dev/usertcp/internal"
)

// Quad is the 4-tuple connection identifier: the remote and local IPv4
// address/port pairs. It is compared by value and is immutable for the
// lifetime of a connection; it is the demultiplexer's map key.
type Quad struct {
	RemoteIP   [4]byte
	RemotePort uint16
	LocalIP    [4]byte
	LocalPort  uint16
}

// String renders the quad as "remote:port->local:port" for logging.
func (q Quad) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", net.IP(q.RemoteIP[:]), q.RemotePort, net.IP(q.LocalIP[:]), q.LocalPort)
}

// LogAttrs returns the quad as structured, allocation-free slog attributes.
func (q Quad) LogAttrs() []slog.Attr {
	return internal.SlogQuad(&q.RemoteIP, q.RemotePort, &q.LocalIP, q.LocalPort)
}
