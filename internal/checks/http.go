package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// httpProber performs one HTTP exchange and evaluates it against HTTPOptions.
// It is shared by the http, https, keyword and performance checkers.
type httpProber struct {
	BaseChecker
	cfg config.ChecksConfig

	verified   *http.Transport
	unverified *http.Transport
}

func newHTTPProber(cfg config.ChecksConfig, keepAlive bool) *httpProber {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DisableKeepAlives = !keepAlive

	unverified := base.Clone()
	unverified.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per monitor

	return &httpProber{cfg: cfg, verified: base, unverified: unverified}
}

// httpOutcome is what the prober observed before evaluation.
type httpOutcome struct {
	start      time.Time
	statusCode int
	finalURL   string
	body       string
	timings    map[string]int64
}

// phaseTimer collects httptrace phases. Racing dials may report concurrently.
type phaseTimer struct {
	mu sync.Mutex
	m  map[string]int64
}

func (t *phaseTimer) since(phase string, from time.Time) {
	t.mu.Lock()
	t.m[phase] = time.Since(from).Milliseconds()
	t.mu.Unlock()
}

func (t *phaseTimer) snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.m)+1)
	for k, v := range t.m {
		out[k] = v
	}
	return out
}

// client builds a per-probe client so redirect policy never leaks between monitors.
func (p *httpProber) client(opts *HTTPOptions) *http.Client {
	transport := p.verified
	if opts.SkipTLSVerify {
		transport = p.unverified
	}

	maxRedirects := p.cfg.HTTP.MaxRedirects
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !opts.Follow() {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return nil
		},
	}
}

func (p *httpProber) do(ctx context.Context, target string, opts *HTTPOptions, trace bool) (*httpOutcome, error) {
	out := &httpOutcome{start: time.Now()}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	var phases *phaseTimer
	if trace {
		phases = &phaseTimer{m: map[string]int64{}}
		ctx = httptrace.WithClientTrace(ctx, phaseTrace(phases, out.start))
		defer func() {
			out.timings = phases.snapshot()
			out.timings["total"] = time.Since(out.start).Milliseconds()
		}()
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, target, body)
	if err != nil {
		return out, err
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client(opts).Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	out.statusCode = resp.StatusCode
	out.finalURL = resp.Request.URL.String()

	// The body is only needed for keyword matching; otherwise drain a bounded amount.
	limited := io.LimitReader(resp.Body, p.cfg.HTTP.MaxBodyBytes)
	if opts.Keyword != "" {
		raw, err := io.ReadAll(limited)
		if err != nil {
			return out, fmt.Errorf("failed to read body: %w", err)
		}
		out.body = string(raw)
	} else {
		_, _ = io.Copy(io.Discard, limited)
	}

	return out, nil
}

// evaluate turns an outcome into a result: status code first, then keyword.
func (p *httpProber) evaluate(out *httpOutcome, opts *HTTPOptions) *Result {
	details := map[string]any{
		"status_code": out.statusCode,
		"final_url":   out.finalURL,
	}
	if out.timings != nil {
		details["timings"] = out.timings
	}

	if !opts.Accepts(out.statusCode) {
		expected := "2xx"
		if len(opts.ExpectedStatus) > 0 {
			expected = strings.Trim(fmt.Sprint(opts.ExpectedStatus), "[]")
		}
		return p.Failure(out.start,
			fmt.Sprintf("unexpected status code: got %d, expected %s", out.statusCode, expected), details)
	}

	if opts.Keyword != "" {
		found := containsKeyword(out.body, opts.Keyword, opts.CaseSensitive)
		details["keyword_found"] = found
		switch {
		case found && opts.KeywordAbsent:
			return p.Failure(out.start, fmt.Sprintf("keyword %q found but expected to be absent", opts.Keyword), details)
		case !found && !opts.KeywordAbsent:
			return p.Failure(out.start, fmt.Sprintf("keyword %q not found", opts.Keyword), details)
		}
	}

	return p.Success(out.start,
		fmt.Sprintf("HTTP %d in %dms", out.statusCode, time.Since(out.start).Milliseconds()), details)
}

func containsKeyword(body, keyword string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(body, keyword)
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(keyword))
}

func phaseTrace(t *phaseTimer, start time.Time) *httptrace.ClientTrace {
	var mu sync.Mutex
	var dnsStart, connectStart, tlsStart time.Time
	mark := func(v *time.Time) {
		mu.Lock()
		*v = time.Now()
		mu.Unlock()
	}
	read := func(v *time.Time) time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *v
	}

	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { mark(&dnsStart) },
		DNSDone:              func(httptrace.DNSDoneInfo) { t.since("dns", read(&dnsStart)) },
		ConnectStart:         func(string, string) { mark(&connectStart) },
		ConnectDone:          func(string, string, error) { t.since("connect", read(&connectStart)) },
		TLSHandshakeStart:    func() { mark(&tlsStart) },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { t.since("tls", read(&tlsStart)) },
		GotFirstResponseByte: func() { t.since("ttfb", start) },
	}
}

// HTTPChecker implements http, https and keyword monitors.
type HTTPChecker struct {
	prober *httpProber
	kind   string
}

// NewHTTPChecker creates a checker for one of the HTTP family types.
func NewHTTPChecker(cfg config.ChecksConfig, kind string) *HTTPChecker {
	return &HTTPChecker{prober: newHTTPProber(cfg, true), kind: kind}
}

// Type returns the checker type identifier.
func (h *HTTPChecker) Type() string {
	return h.kind
}

// Check performs one request against p.Target.
func (h *HTTPChecker) Check(ctx context.Context, p Probe) *Result {
	var opts *HTTPOptions
	switch o := p.Options.(type) {
	case *HTTPOptions:
		opts = o
	case *KeywordOptions:
		opts = &o.HTTPOptions
	default:
		return Fault(fmt.Sprintf("%s checker got %T options", h.kind, p.Options))
	}

	out, err := h.prober.do(ctx, p.Target, opts, false)
	if err != nil {
		return h.prober.Failure(out.start, "request failed: "+h.prober.DescribeError(err),
			map[string]any{"error": err.Error()})
	}
	return h.prober.evaluate(out, opts)
}

// PerformanceChecker measures page-load phases and grades the total time.
type PerformanceChecker struct {
	prober *httpProber
}

// NewPerformanceChecker creates a performance checker. Connections are
// never reused so every probe measures DNS, connect and TLS afresh.
func NewPerformanceChecker(cfg config.ChecksConfig) *PerformanceChecker {
	return &PerformanceChecker{prober: newHTTPProber(cfg, false)}
}

// Type returns the checker type identifier.
func (c *PerformanceChecker) Type() string {
	return TypePerformance
}

// Check performs one traced request and applies the warn and critical thresholds.
func (c *PerformanceChecker) Check(ctx context.Context, p Probe) *Result {
	opts, ok := p.Options.(*PerformanceOptions)
	if !ok {
		return Fault(fmt.Sprintf("performance checker got %T options", p.Options))
	}

	out, err := c.prober.do(ctx, p.Target, &opts.HTTPOptions, true)
	if err != nil {
		return c.prober.Failure(out.start, "request failed: "+c.prober.DescribeError(err),
			map[string]any{"error": err.Error(), "timings": out.timings})
	}

	result := c.prober.evaluate(out, &opts.HTTPOptions)
	if result.Status != storage.StatusUp {
		return result
	}

	total := out.timings["total"]
	result.ResponseTimeMs = total
	result.Details["warn_ms"] = opts.WarnMs
	result.Details["critical_ms"] = opts.CriticalMs

	switch {
	case total > int64(opts.CriticalMs):
		result.Status = storage.StatusDown
		result.Message = fmt.Sprintf("response time %dms exceeds critical threshold %dms", total, opts.CriticalMs)
	case total > int64(opts.WarnMs):
		result.Details["warning"] = true
		result.Message = fmt.Sprintf("slow response: %dms exceeds warning threshold %dms", total, opts.WarnMs)
	default:
		result.Message = fmt.Sprintf("page loaded in %dms", total)
	}
	return result
}
