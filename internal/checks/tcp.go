package checks

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker verifies that a TCP port accepts connections.
type TCPChecker struct {
	BaseChecker
}

// NewTCPChecker creates a new TCP checker.
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

// Type returns the checker type identifier.
func (c *TCPChecker) Type() string {
	return TypeTCP
}

// Check dials p.Target (host:port) and closes the connection straight away.
func (c *TCPChecker) Check(ctx context.Context, p Probe) *Result {
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return c.Failure(start, "connection failed: "+c.DescribeError(err), map[string]any{"error": err.Error()})
	}
	remote := conn.RemoteAddr().String()
	conn.Close()

	return c.Success(start,
		fmt.Sprintf("connected to %s in %dms", remote, time.Since(start).Milliseconds()),
		map[string]any{"remote_addr": remote})
}
