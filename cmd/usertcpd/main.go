// Command usertcpd runs a userspace TCP endpoint attached to a TUN
// interface: it reads raw IPv4 datagrams off the device, drives them
// through the per-connection state machine, and writes whatever the state
// machine emits back to the device.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gtcp-dev/usertcp/demux"
	"github.com/gtcp-dev/usertcp/internal/config"
	"github.com/gtcp-dev/usertcp/tun"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "usertcpd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dev, err := tun.Open(cfg.Interface, cfg.Address)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Interface, err)
	}
	defer dev.Close()
	logger.Info("tun interface ready", slog.String("name", dev.Name()))

	d := demux.New(logger, cfg.RecvWindow)
	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	return eventLoop(dev, d, ticker, logger)
}

// eventLoop is the single-threaded cooperative loop: it blocks on the TUN
// read and opportunistically reaps expired connections on a ticker, with no
// locking since Demux is never touched from more than one goroutine.
func eventLoop(dev *tun.Device, d *demux.Demux, ticker *time.Ticker, logger *slog.Logger) error {
	buf := make([]byte, 1500)
	recvC := make(chan []byte)
	errC := make(chan error, 1)
	go func() {
		for {
			n, err := dev.Recv(buf)
			if err != nil {
				errC <- err
				return
			}
			cp := append([]byte(nil), buf[:n]...)
			recvC <- cp
		}
	}()

	for {
		select {
		case datagram := <-recvC:
			if err := d.Ingest(time.Now(), datagram, dev); err != nil {
				logger.Warn("ingest error", slog.String("err", err.Error()))
			}
		case <-ticker.C:
			d.Reap(time.Now())
		case err := <-errC:
			return fmt.Errorf("tun read loop: %w", err)
		}
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.New("usertcpd: unknown log level " + s)
	}
}
