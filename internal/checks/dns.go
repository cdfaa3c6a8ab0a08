package checks

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"pulsewatch/internal/config"
)

// DNSChecker resolves a record and optionally matches an expected value.
type DNSChecker struct {
	BaseChecker
	cfg config.DNSDefaults
}

// NewDNSChecker creates a new DNS checker.
func NewDNSChecker(cfg config.DNSDefaults) *DNSChecker {
	return &DNSChecker{cfg: cfg}
}

// Type returns the checker type identifier.
func (c *DNSChecker) Type() string {
	return TypeDNS
}

// Check looks up p.Target. No records, or a missing expected value, is down.
func (c *DNSChecker) Check(ctx context.Context, p Probe) *Result {
	start := time.Now()

	opts, ok := p.Options.(*DNSOptions)
	if !ok {
		return Fault(fmt.Sprintf("dns checker got %T options", p.Options))
	}

	server := opts.Server
	if server == "" {
		server = c.cfg.Server
	}

	records, err := lookup(ctx, resolverFor(server), opts.RecordType, p.Target)
	details := map[string]any{"record_type": opts.RecordType, "records": records}
	if server != "" {
		details["server"] = server
	}
	if err != nil {
		details["error"] = err.Error()
		return c.Failure(start, c.DescribeError(err), details)
	}
	if len(records) == 0 {
		return c.Failure(start, fmt.Sprintf("no %s records for %s", opts.RecordType, p.Target), details)
	}

	if opts.Expected != "" {
		want := normalizeRecord(opts.Expected)
		matched := false
		for _, r := range records {
			if normalizeRecord(r) == want {
				matched = true
				break
			}
		}
		if !matched {
			return c.Failure(start,
				fmt.Sprintf("expected %s record %q not found", opts.RecordType, opts.Expected), details)
		}
	}

	return c.Success(start,
		fmt.Sprintf("resolved %d %s record(s)", len(records), opts.RecordType), details)
}

func resolverFor(server string) *net.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, server)
		},
	}
}

func lookup(ctx context.Context, r *net.Resolver, recordType, host string) ([]string, error) {
	var records []string
	switch recordType {
	case "A", "AAAA":
		network := "ip4"
		if recordType == "AAAA" {
			network = "ip6"
		}
		ips, err := r.LookupIP(ctx, network, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			records = append(records, ip.String())
		}
	case "CNAME":
		cname, err := r.LookupCNAME(ctx, host)
		if err != nil {
			return nil, err
		}
		records = append(records, cname)
	case "MX":
		mxs, err := r.LookupMX(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, mx := range mxs {
			records = append(records, mx.Host)
		}
	case "TXT":
		txts, err := r.LookupTXT(ctx, host)
		if err != nil {
			return nil, err
		}
		records = txts
	case "NS":
		nss, err := r.LookupNS(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ns := range nss {
			records = append(records, ns.Host)
		}
	default:
		return nil, fmt.Errorf("unsupported record type %s", recordType)
	}
	return records, nil
}

func normalizeRecord(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}
