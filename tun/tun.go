//go:build linux

// Package tun opens a Linux TUN device in IFF_TUN|IFF_NO_PI mode and
// exposes it as a raw IPv4 datagram source/sink: no link-layer header, no
// per-packet metadata prefix, just a stream of whole IPv4 datagrams.
package tun

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open TUN interface.
type Device struct {
	fd   int
	name string
}

// Open creates or attaches to the TUN interface named name and, if addr is
// non-empty, assigns it that CIDR address and brings the link up.
func Open(name string, addr string) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("tun: interface name %q too long", name)
	}
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open /dev/net/tun: %w", err)
	}

	ifr := makeifreq(name)
	ifr.setFlags(uint16(unix.IFF_TUN | unix.IFF_NO_PI))
	if err := ioctl(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: TUNSETIFF: %w", err)
	}

	if addr != "" {
		if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tun: bring up %s: %w", name, err)
		}
		if err := exec.Command("ip", "addr", "add", addr, "dev", name).Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tun: assign address %s to %s: %w", addr, name, err)
		}
	}

	return &Device{fd: fd, name: name}, nil
}

// Recv blocks until one IPv4 datagram is available and copies it into buf.
func (d *Device) Recv(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return 0, fmt.Errorf("tun: read: %w", err)
	}
	return n, nil
}

// Send implements tcpstate.Sender: it writes one whole IPv4 datagram to the
// interface.
func (d *Device) Send(datagram []byte) error {
	_, err := unix.Write(d.fd, datagram)
	if err != nil {
		return fmt.Errorf("tun: write: %w", err)
	}
	return nil
}

// Name returns the interface name assigned at Open.
func (d *Device) Name() string { return d.name }

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// ifreq mirrors struct ifreq's layout: a null-padded interface name followed
// by the union, here used only to hold TUNSETIFF's flags word.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) setFlags(flags uint16) {
	*(*uint16)(unsafe.Pointer(&ifr.data[0])) = flags
}

func ioctl(fd int, req uintptr, ifr *ifreq) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}
