package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*\.[a-z]{2,}$`)

// NormalizeDomain lowercases raw and strips scheme, credentials, port, path and trailing
// dot. The result must look like a hostname under a known public suffix.
func NormalizeDomain(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrInvalidDomain
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	if !domainPattern.MatchString(host) {
		return "", ErrInvalidDomain
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	return host, nil
}

// Registrable returns the eTLD+1 of a normalized domain, or the domain itself.
func Registrable(domain string) string {
	r, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return r
}
