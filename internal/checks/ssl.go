package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"time"

	"pulsewatch/internal/config"
)

// SSLChecker inspects the leaf certificate served at host:port.
type SSLChecker struct {
	BaseChecker
	cfg config.SSLDefaults
	now func() time.Time
}

// NewSSLChecker creates a new certificate checker.
func NewSSLChecker(cfg config.SSLDefaults) *SSLChecker {
	return &SSLChecker{cfg: cfg, now: time.Now}
}

// Type returns the checker type identifier.
func (c *SSLChecker) Type() string {
	return TypeSSL
}

// Check completes a TLS handshake and grades the days left until expiry.
// Expiry within warn_days stays up with a warning; expired or untrusted
// certificates are down.
func (c *SSLChecker) Check(ctx context.Context, p Probe) *Result {
	start := time.Now()

	opts, ok := p.Options.(*SSLOptions)
	if !ok {
		return Fault(fmt.Sprintf("ssl checker got %T options", p.Options))
	}
	warnDays := opts.WarnDays
	if warnDays == 0 {
		warnDays = c.cfg.WarnDays
	}

	host, _, err := net.SplitHostPort(p.Target)
	if err != nil {
		return Fault("ssl target is not host:port: " + p.Target)
	}

	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: opts.SkipVerify, //nolint:gosec // opt-in per monitor
	}}
	conn, err := dialer.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return c.Failure(start, "TLS handshake failed: "+c.DescribeError(err), map[string]any{"error": err.Error()})
	}
	state := conn.(*tls.Conn).ConnectionState()
	conn.Close()

	if len(state.PeerCertificates) == 0 {
		return c.Failure(start, "server presented no certificate", nil)
	}
	leaf := state.PeerCertificates[0]

	now := c.now()
	remaining := leaf.NotAfter.Sub(now)
	days := int(math.Floor(remaining.Hours() / 24))

	details := map[string]any{
		"subject":        leaf.Subject.String(),
		"issuer":         leaf.Issuer.String(),
		"not_before":     leaf.NotBefore.UTC(),
		"not_after":      leaf.NotAfter.UTC(),
		"days_remaining": days,
		"warn_days":      warnDays,
		"dns_names":      leaf.DNSNames,
	}

	switch {
	case remaining <= 0:
		return c.Failure(start, fmt.Sprintf("certificate expired on %s", leaf.NotAfter.UTC().Format(time.DateOnly)), details)
	case now.Before(leaf.NotBefore):
		return c.Failure(start, fmt.Sprintf("certificate not valid before %s", leaf.NotBefore.UTC().Format(time.DateOnly)), details)
	case days <= warnDays:
		return c.Warn(start, fmt.Sprintf("certificate expires in %d days (warning threshold %d)", days, warnDays), details)
	default:
		return c.Success(start, fmt.Sprintf("certificate valid for %d more days", days), details)
	}
}
