package checks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"

	"pulsewatch/internal/config"
)

// PingChecker sends ICMP echo requests through go-ping.
//
// Unprivileged mode uses UDP ping sockets (net.ipv4.ping_group_range on
// Linux). Set checks.ping.privileged when running with CAP_NET_RAW.
type PingChecker struct {
	BaseChecker
	cfg config.PingDefaults
}

// NewPingChecker creates a new ping checker.
func NewPingChecker(cfg config.PingDefaults) *PingChecker {
	return &PingChecker{cfg: cfg}
}

// Type returns the checker type identifier.
func (c *PingChecker) Type() string {
	return TypePing
}

// Check pings p.Target and reports packet loss and average round trip time.
func (c *PingChecker) Check(ctx context.Context, p Probe) *Result {
	start := time.Now()

	opts, ok := p.Options.(*PingOptions)
	if !ok {
		return Fault(fmt.Sprintf("ping checker got %T options", p.Options))
	}
	count := opts.Count
	if count == 0 {
		count = c.cfg.Count
	}

	// Resolve with the context so a slow resolver cannot outlive the timeout.
	addr, err := resolveTarget(ctx, p.Target)
	if err != nil {
		return c.Failure(start, c.DescribeError(err), map[string]any{"error": err.Error()})
	}

	pinger, err := ping.NewPinger(addr)
	if err != nil {
		return c.Failure(start, "failed to create pinger: "+err.Error(), nil)
	}
	pinger.Count = count
	pinger.Interval = c.cfg.Interval
	pinger.SetPrivileged(c.cfg.Privileged)
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		err = <-done
	}
	if err != nil {
		return c.Failure(start, "ping failed: "+err.Error(), map[string]any{"address": addr})
	}

	stats := pinger.Statistics()
	details := map[string]any{
		"address":      addr,
		"packets_sent": stats.PacketsSent,
		"packets_recv": stats.PacketsRecv,
		"packet_loss":  stats.PacketLoss,
	}

	if stats.PacketsRecv == 0 {
		return c.Failure(start, fmt.Sprintf("no reply from %s (%d packets sent)", addr, stats.PacketsSent), details)
	}

	avg := stats.AvgRtt.Milliseconds()
	details["avg_rtt_ms"] = float64(stats.AvgRtt) / float64(time.Millisecond)
	details["min_rtt_ms"] = float64(stats.MinRtt) / float64(time.Millisecond)
	details["max_rtt_ms"] = float64(stats.MaxRtt) / float64(time.Millisecond)

	result := c.Success(start,
		fmt.Sprintf("%d/%d packets received (%.0f%% loss), avg %.2fms",
			stats.PacketsRecv, stats.PacketsSent, stats.PacketLoss, details["avg_rtt_ms"]),
		details)
	// Round trip time is the meaningful latency for ping, not the probe duration.
	result.ResponseTimeMs = max(avg, 1)
	return result
}

func resolveTarget(ctx context.Context, target string) (string, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, target)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}
