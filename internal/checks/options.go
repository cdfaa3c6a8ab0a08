package checks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"pulsewatch/internal/apperr"
)

// Monitor types.
const (
	TypeHTTP        = "http"
	TypeHTTPS       = "https"
	TypeKeyword     = "keyword"
	TypePerformance = "performance"
	TypePing        = "ping"
	TypeTCP         = "tcp"
	TypeDNS         = "dns"
	TypeSSL         = "ssl"
)

// Options is the per-type option variant of a monitor. Each monitor
// type has exactly one concrete Options type.
type Options interface {
	// Kind returns the monitor type the variant belongs to.
	Kind() string
	// Validate applies defaults and rejects out-of-range values.
	Validate() error
}

// HTTPOptions configures http and https monitors.
type HTTPOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// ExpectedStatus lists accepted status codes. Empty accepts any 2xx.
	ExpectedStatus []int `json:"expected_status,omitempty"`

	// Keyword, when set, must be present in the body (absent with KeywordAbsent).
	Keyword       string `json:"keyword,omitempty"`
	KeywordAbsent bool   `json:"keyword_absent,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`

	SkipTLSVerify   bool  `json:"skip_tls_verify,omitempty"`
	FollowRedirects *bool `json:"follow_redirects,omitempty"`

	kind string
}

// KeywordOptions configures keyword monitors: HTTP options with a mandatory keyword.
type KeywordOptions struct {
	HTTPOptions
}

// PerformanceOptions configures page-load monitors.
type PerformanceOptions struct {
	HTTPOptions
	// WarnMs marks slower responses as up with a warning.
	WarnMs int `json:"warn_ms,omitempty"`
	// CriticalMs marks slower responses as down.
	CriticalMs int `json:"critical_ms,omitempty"`
}

// PingOptions configures ICMP monitors. Zero Count uses the configured default.
type PingOptions struct {
	Count int `json:"count,omitempty"`
}

// TCPOptions configures TCP connect monitors. The target carries everything.
type TCPOptions struct{}

// DNSOptions configures DNS resolution monitors.
type DNSOptions struct {
	RecordType string `json:"record_type,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Server     string `json:"server,omitempty"`
}

// SSLOptions configures certificate monitors. Zero WarnDays uses the configured default.
type SSLOptions struct {
	WarnDays   int  `json:"warn_days,omitempty"`
	SkipVerify bool `json:"skip_verify,omitempty"`
}

var (
	httpMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	dnsRecordTypes = []string{"A", "AAAA", "CNAME", "MX", "TXT", "NS"}
)

// Kind implements Options.
func (o *HTTPOptions) Kind() string {
	if o.kind == "" {
		return TypeHTTP
	}
	return o.kind
}

// Validate implements Options.
func (o *HTTPOptions) Validate() error {
	o.Method = strings.ToUpper(strings.TrimSpace(o.Method))
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if !slices.Contains(httpMethods, o.Method) {
		return apperr.Invalidf("invalid HTTP method: %s", o.Method)
	}
	for _, code := range o.ExpectedStatus {
		if code < 100 || code > 599 {
			return apperr.Invalidf("invalid expected status code: %d (must be between 100-599)", code)
		}
	}
	for name := range o.Headers {
		if name == "" || strings.ContainsAny(name, " \r\n:") {
			return apperr.Invalidf("invalid header name: %q", name)
		}
	}
	if o.KeywordAbsent && o.Keyword == "" {
		return apperr.Invalidf("keyword_absent requires a keyword")
	}
	if len(o.Keyword) > 500 {
		return apperr.Invalidf("keyword too long (max 500 chars)")
	}
	if o.Body != "" && (o.Method == http.MethodGet || o.Method == http.MethodHead) {
		return apperr.Invalidf("%s requests cannot carry a body", o.Method)
	}
	return nil
}

// Follow reports whether redirects are followed. Defaults to true.
func (o *HTTPOptions) Follow() bool {
	return o.FollowRedirects == nil || *o.FollowRedirects
}

// Accepts reports whether code is an expected status code.
func (o *HTTPOptions) Accepts(code int) bool {
	if len(o.ExpectedStatus) == 0 {
		return code >= 200 && code <= 299
	}
	return slices.Contains(o.ExpectedStatus, code)
}

// Kind implements Options.
func (o *KeywordOptions) Kind() string { return TypeKeyword }

// Validate implements Options.
func (o *KeywordOptions) Validate() error {
	if strings.TrimSpace(o.Keyword) == "" {
		return apperr.Invalidf("keyword monitors require a keyword")
	}
	return o.HTTPOptions.Validate()
}

// Kind implements Options.
func (o *PerformanceOptions) Kind() string { return TypePerformance }

// Validate implements Options.
func (o *PerformanceOptions) Validate() error {
	if o.WarnMs == 0 {
		o.WarnMs = 1000
	}
	if o.CriticalMs == 0 {
		o.CriticalMs = 3000
	}
	if o.WarnMs < 1 || o.CriticalMs < 1 {
		return apperr.Invalidf("performance thresholds must be positive")
	}
	if o.WarnMs >= o.CriticalMs {
		return apperr.Invalidf("warn_ms must be lower than critical_ms")
	}
	return o.HTTPOptions.Validate()
}

// Kind implements Options.
func (o *PingOptions) Kind() string { return TypePing }

// Validate implements Options.
func (o *PingOptions) Validate() error {
	if o.Count < 0 || o.Count > 10 {
		return apperr.Invalidf("ping count must be between 1 and 10")
	}
	return nil
}

// Kind implements Options.
func (o *TCPOptions) Kind() string { return TypeTCP }

// Validate implements Options.
func (o *TCPOptions) Validate() error { return nil }

// Kind implements Options.
func (o *DNSOptions) Kind() string { return TypeDNS }

// Validate implements Options.
func (o *DNSOptions) Validate() error {
	o.RecordType = strings.ToUpper(strings.TrimSpace(o.RecordType))
	if o.RecordType == "" {
		o.RecordType = "A"
	}
	if !slices.Contains(dnsRecordTypes, o.RecordType) {
		return apperr.Invalidf("unsupported DNS record type: %s", o.RecordType)
	}
	if o.Server != "" {
		host, port, err := net.SplitHostPort(o.Server)
		if err != nil {
			return apperr.Invalidf("dns server must be host:port")
		}
		if err := validateHost(host); err != nil {
			return err
		}
		if err := validatePort(port); err != nil {
			return err
		}
	}
	return nil
}

// Kind implements Options.
func (o *SSLOptions) Kind() string { return TypeSSL }

// Validate implements Options.
func (o *SSLOptions) Validate() error {
	if o.WarnDays < 0 || o.WarnDays > 365 {
		return apperr.Invalidf("warn_days must be between 1 and 365")
	}
	return nil
}

// ParseOptions decodes raw JSON into the variant for monitorType and
// validates it. Unknown fields are rejected. Empty input yields defaults.
func ParseOptions(monitorType string, raw []byte) (Options, error) {
	var opts Options
	switch monitorType {
	case TypeHTTP, TypeHTTPS:
		opts = &HTTPOptions{kind: monitorType}
	case TypeKeyword:
		opts = &KeywordOptions{}
	case TypePerformance:
		opts = &PerformanceOptions{}
	case TypePing:
		opts = &PingOptions{}
	case TypeTCP:
		opts = &TCPOptions{}
	case TypeDNS:
		opts = &DNSOptions{}
	case TypeSSL:
		opts = &SSLOptions{}
	default:
		return nil, apperr.Invalidf("unsupported monitor type: %s", monitorType)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(opts); err != nil {
			return nil, apperr.Invalidf("invalid %s options: %v", monitorType, err)
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// EncodeOptions serializes validated options for storage.
func EncodeOptions(opts Options) (string, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}
	return string(b), nil
}
