package tcpstate

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gtcp-dev/usertcp/internal/seqs"
	"golang.org/x/crypto/blake2b"
)

// issKeySize is the size of the process-local secret used to key ISS
// generation. 256 bits comfortably exceeds the security margin of the
// 64-bit BLAKE2b digest used here.
const issKeySize = 32

var (
	issKeyOnce sync.Once
	issKey     [issKeySize]byte
)

func ensureISSKey() {
	issKeyOnce.Do(func() {
		if _, err := rand.Read(issKey[:]); err != nil {
			// crypto/rand failing indicates a broken host; there is no
			// safe fallback for an unpredictable ISS, so panic rather
			// than silently degrade to a guessable sequence number.
			panic("tcpstate: crypto/rand unavailable: " + err.Error())
		}
	})
}

// newISS derives a secure initial sequence number for quad, following the
// RFC 6528 construction: a keyed hash of the connection identifier under a
// per-process secret, so that it is unpredictable to an off-path attacker,
// plus a clock that ticks every 4 microseconds, so that successive
// connections on the same quad start at different sequence numbers. It
// does not require any shared mutable counter.
func newISS(q Quad) seqs.Value {
	ensureISSKey()
	mac, err := blake2b.New(8, issKey[:])
	if err != nil {
		// Only returns an error for an out-of-range size argument, which
		// issKeySize/size-8 never triggers.
		panic("tcpstate: blake2b init: " + err.Error())
	}
	var buf [12]byte
	copy(buf[0:4], q.RemoteIP[:])
	binary.BigEndian.PutUint16(buf[4:6], q.RemotePort)
	copy(buf[6:10], q.LocalIP[:])
	binary.BigEndian.PutUint16(buf[10:12], q.LocalPort)
	mac.Write(buf[:])
	sum := mac.Sum(nil)
	m := uint32(time.Now().UnixNano() / 4000) // RFC 6528's 4-microsecond timer
	return seqs.Value(binary.BigEndian.Uint32(sum[:4]) + m)
}
