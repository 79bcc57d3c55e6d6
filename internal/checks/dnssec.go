package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"complylaw/internal/domain"
)

// EmailPosture is the DNS-published mail and zone protection of a domain.
type EmailPosture struct {
	SPF    bool
	DMARC  bool
	DNSSEC bool
}

// DNSProber looks up DNS security records.
type DNSProber interface {
	EmailPosture(ctx context.Context, target string) (EmailPosture, error)
}

// DNSResolver queries a single recursive resolver over UDP.
type DNSResolver struct {
	Server  string
	Timeout time.Duration
}

func (r DNSResolver) EmailPosture(ctx context.Context, target string) (EmailPosture, error) {
	var p EmailPosture
	txt, err := r.query(ctx, target, dns.TypeTXT)
	if err != nil {
		return p, err
	}
	p.SPF = hasTXTPrefix(txt, "v=spf1")

	dmarc, err := r.query(ctx, "_dmarc."+target, dns.TypeTXT)
	if err != nil {
		return p, err
	}
	p.DMARC = hasTXTPrefix(dmarc, "v=DMARC1")

	keys, err := r.query(ctx, target, dns.TypeDNSKEY)
	if err != nil {
		return p, err
	}
	for _, rr := range keys {
		if _, ok := rr.(*dns.DNSKEY); ok {
			p.DNSSEC = true
			break
		}
	}
	return p, nil
}

func (r DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	server := r.Server
	if server == "" {
		server = "8.8.8.8:53"
	}
	c := &dns.Client{Timeout: r.Timeout}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.SetEdns0(4096, true)

	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("dns %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("dns %s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[in.Rcode])
	}
	return in.Answer, nil
}

func hasTXTPrefix(rrs []dns.RR, prefix string) bool {
	for _, rr := range rrs {
		t, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.Join(t.Txt, "")), strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (s *suite) emailSecurity(ctx context.Context, target string) (domain.Finding, error) {
	p, err := s.DNS.EmailPosture(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	status, risk := domain.FindingPass, domain.RiskLow
	switch {
	case !p.SPF && !p.DMARC:
		status, risk = domain.FindingFail, domain.RiskMedium
	case !p.SPF || !p.DMARC:
		status = domain.FindingWarn
	}
	return domain.Finding{
		Title:  "Email & DNS Security",
		Status: status,
		Details: fmt.Sprintf("SPF: %s | DMARC: %s | DNSSEC: %s",
			yesNo(p.SPF, "Yes", "No"), yesNo(p.DMARC, "Yes", "No"), yesNo(p.DNSSEC, "Yes", "No")),
		StandardReference: "PCI DSS 5.4.1",
		RiskLevel:         risk,
		Module:            "DNS",
	}, nil
}
