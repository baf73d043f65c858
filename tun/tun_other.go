//go:build !linux

package tun

import "errors"

// Device is a stub on non-Linux platforms; TUN device creation depends on
// Linux-specific ioctls.
type Device struct{}

func Open(name string, addr string) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) Recv(buf []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (d *Device) Send(datagram []byte) error {
	return errors.ErrUnsupported
}

func (d *Device) Name() string { return "" }

func (d *Device) Close() error {
	return errors.ErrUnsupported
}
