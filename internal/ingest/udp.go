package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// maxDatagram fits the largest syslog-style datagram Squid emits.
const maxDatagram = 64 * 1024

// UDPListener receives access-log lines over UDP, one or more newline
// separated lines per datagram.
type UDPListener struct {
	addr string
	log  *slog.Logger
}

// NewUDPListener creates a listener bound to addr on Run.
func NewUDPListener(addr string, logger *slog.Logger) *UDPListener {
	return &UDPListener{addr: addr, log: logger}
}

// Run receives datagrams and sends their lines to the channel. Blocks until
// ctx is cancelled.
func (l *UDPListener) Run(ctx context.Context, lines chan<- string) error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", l.addr, err)
	}
	l.log.Info("udp listener started", "addr", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.log.Info("udp listener stopping")
				return ctx.Err()
			}
			l.log.Warn("udp read failed", "error", err)
			continue
		}

		for _, line := range strings.Split(string(buf[:n]), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
