package checks

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"pulsewatch/internal/apperr"
)

// ValidateTarget checks the target syntax for monitorType and returns its
// normalized form. Hosts handed to network primitives never start with '-'
// and contain only hostname characters, so a target cannot smuggle flags
// or shell syntax into the probe.
func ValidateTarget(monitorType, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", apperr.Invalidf("target is required")
	}
	if len(target) > 2048 {
		return "", apperr.Invalidf("target too long")
	}

	switch monitorType {
	case TypeHTTP, TypeKeyword, TypePerformance:
		return validateURLTarget(target, false)
	case TypeHTTPS:
		return validateURLTarget(target, true)
	case TypePing:
		return target, validateHost(target)
	case TypeDNS:
		if net.ParseIP(target) != nil {
			return "", apperr.Invalidf("dns target must be a domain name")
		}
		return strings.TrimSuffix(target, "."), validateHostname(strings.TrimSuffix(target, "."))
	case TypeTCP:
		return validateHostPort(target, "")
	case TypeSSL:
		return validateSSLTarget(target)
	default:
		return "", apperr.Invalidf("unsupported monitor type: %s", monitorType)
	}
}

func validateURLTarget(target string, httpsOnly bool) (string, error) {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", apperr.Invalidf("invalid URL format: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Invalidf("invalid scheme: %s (only http and https supported)", u.Scheme)
	}
	if httpsOnly && u.Scheme != "https" {
		return "", apperr.Invalidf("https monitors require an https URL")
	}
	if u.User != nil {
		return "", apperr.Invalidf("credentials in URL are not allowed; use headers")
	}
	if err := validateHost(u.Hostname()); err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		if err := validatePort(port); err != nil {
			return "", err
		}
	}
	return u.String(), nil
}

func validateSSLTarget(target string) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil || u.Scheme != "https" {
			return "", apperr.Invalidf("ssl target must be host, host:port or an https URL")
		}
		target = u.Host
	}
	return validateHostPort(target, "443")
}

// validateHostPort accepts host:port, or a bare host when defaultPort is set.
func validateHostPort(target, defaultPort string) (string, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		if defaultPort == "" {
			return "", apperr.Invalidf("target must be host:port")
		}
		host, port = strings.Trim(target, "[]"), defaultPort
	}
	if err := validateHost(host); err != nil {
		return "", err
	}
	if err := validatePort(port); err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return apperr.Invalidf("port out of range (1-65535): %s", port)
	}
	return nil
}

// validateHost accepts an IPv4/IPv6 literal or a hostname.
func validateHost(host string) error {
	if host == "" {
		return apperr.Invalidf("missing host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	return validateHostname(host)
}

func validateHostname(host string) error {
	if len(host) > 253 {
		return apperr.Invalidf("hostname too long (max 253 chars)")
	}
	if strings.HasPrefix(host, "-") {
		return apperr.Invalidf("hostname cannot start with '-'")
	}
	if strings.Contains(host, "..") || strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return apperr.Invalidf("invalid hostname format")
	}

	hasLetter := false
	for _, label := range strings.Split(host, ".") {
		if len(label) > 63 {
			return apperr.Invalidf("hostname label too long (max 63 chars)")
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return apperr.Invalidf("hostname labels cannot start or end with '-'")
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
				hasLetter = true
			case r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return apperr.Invalidf("hostname contains invalid characters")
			}
		}
	}

	// All-digit dotted strings that failed IP parsing are malformed addresses.
	if !hasLetter {
		return apperr.Invalidf("target is not a valid IP address or hostname")
	}
	return nil
}
