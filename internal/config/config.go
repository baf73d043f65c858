// Package config parses the daemon's flag-driven configuration: which TUN
// interface to attach to, what local address to assign it, and the
// operational knobs (advertised receive window cap, reap interval) that
// are otherwise left to the surrounding system.
package config

import (
	"errors"
	"flag"
	"time"
)

// Config holds the resolved configuration for cmd/usertcpd.
type Config struct {
	// Interface is the TUN device name, e.g. "tun0".
	Interface string
	// Address is the CIDR address assigned to the interface, e.g.
	// "10.0.0.1/24". Empty skips address assignment (interface pre-configured
	// externally).
	Address string
	// RecvWindow caps the receive window advertised for newly accepted
	// connections; the window otherwise mirrors whatever the peer
	// advertised in its SYN. Zero leaves the cap at tcpstate.DefaultRecvWindow.
	RecvWindow uint16
	// ReapInterval is how often the event loop calls Demux.Reap.
	ReapInterval time.Duration
	// LogLevel selects the minimum slog level emitted by the daemon: one of
	// "debug", "info", "warn", "error".
	LogLevel string
}

// Parse reads configuration from the given flag arguments (os.Args[1:] in
// production, a literal slice in tests).
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("usertcpd", flag.ContinueOnError)
	cfg := Config{
		Interface:    "tun0",
		Address:      "10.0.0.1/24",
		RecvWindow:   4096,
		ReapInterval: time.Second,
		LogLevel:     "info",
	}
	fs.StringVar(&cfg.Interface, "i", cfg.Interface, "TUN interface name to create or attach to")
	fs.StringVar(&cfg.Address, "addr", cfg.Address, "CIDR address to assign the interface; empty to skip assignment")
	var recvWindow uint
	fs.UintVar(&recvWindow, "window", uint(cfg.RecvWindow), "cap, in bytes, on the receive window advertised for newly accepted connections")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "interval between connection-table reap sweeps")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if recvWindow > 0xFFFF {
		return Config{}, errors.New("config: window exceeds uint16 range")
	}
	cfg.RecvWindow = uint16(recvWindow)
	if cfg.Interface == "" {
		return Config{}, errors.New("config: interface name must not be empty")
	}
	return cfg, nil
}
