// Package checks holds the Check Units: independent compliance and security tests that
// take a normalized domain and return a single domain.Finding.
package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"complylaw/internal/domain"
)

// ID identifies a Check Unit in tier tables and persisted findings.
type ID string

const (
	GDPRDSAR          ID = "gdpr.dsar"
	GDPRDPIA          ID = "gdpr.dpia"
	GDPRRetention     ID = "gdpr.retention"
	GDPRDPO           ID = "gdpr.dpo"
	GDPRSitemap       ID = "gdpr.sitemap"
	GDPRCookieConsent ID = "gdpr.cookie_consent"
	GDPRPrivacyPolicy ID = "gdpr.privacy_policy"

	OWASPAccessControl ID = "owasp.a01"
	OWASPCrypto        ID = "owasp.a02"
	OWASPInjection     ID = "owasp.a03"
	OWASPHeaders       ID = "owasp.a04"
	OWASPMisconfig     ID = "owasp.a05"
	OWASPOutdated      ID = "owasp.a06"
	OWASPAuth          ID = "owasp.a07"
	OWASPIntegrity     ID = "owasp.a08"
	OWASPLogging       ID = "owasp.a09"
	OWASPSSRF          ID = "owasp.a10"
	OWASPNikto         ID = "owasp.nikto"

	EncryptionTLS      ID = "encryption.tls"
	ThirdPartyScripts  ID = "supply_chain.third_party_scripts"
	ISOAccessPolicy    ID = "iso27001.access"
	PCIServerHeader    ID = "pci.server_header"
	DNSEmailSecurity   ID = "dns.email_security"
	HIPAAEncryption    ID = "hipaa.encryption"
	HIPAAForms         ID = "hipaa.forms"
	SOC2AccessReviews  ID = "soc2.access_reviews"
	CISLockout         ID = "cis.lockout"
	NmapVulnerability  ID = "vuln.nmap"
)

// Func is the body of a Check Unit. A returned error is a CheckFault and becomes an
// "error" finding; it never reaches the orchestrator's caller.
type Func func(ctx context.Context, target string) (domain.Finding, error)

// Unit is one registered Check Unit.
type Unit struct {
	ID      ID
	Label   string
	Module  string
	Timeout time.Duration
	// Recommendation is suggested when the unit fails or warns.
	Recommendation *domain.Recommendation
	// Checklist names the checklist item a passing run proves, if any.
	Checklist string
	Run       Func
}

// Checklist items.
const (
	ChecklistHTTPS        = "https"
	ChecklistCookieBanner = "cookie_banner"
)

// Registry maps identifiers to units. It is built once and never mutated.
type Registry struct {
	units map[ID]Unit
	order []ID
}

// NewRegistry indexes units, rejecting duplicates and units without a body.
func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{units: make(map[ID]Unit, len(units))}
	for _, u := range units {
		if u.ID == "" || u.Run == nil {
			return nil, fmt.Errorf("check %q: missing id or body", u.ID)
		}
		if _, dup := r.units[u.ID]; dup {
			return nil, fmt.Errorf("check %q registered twice", u.ID)
		}
		r.units[u.ID] = u
		r.order = append(r.order, u.ID)
	}
	return r, nil
}

func (r *Registry) Lookup(id ID) (Unit, bool) {
	u, ok := r.units[id]
	return u, ok
}

// IDs returns identifiers in registration order.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

// Recommendations returns the remediation catalog keyed by check identifier.
func (r *Registry) Recommendations() map[string]domain.Recommendation {
	out := make(map[string]domain.Recommendation)
	for id, u := range r.units {
		if u.Recommendation != nil {
			out[string(id)] = *u.Recommendation
		}
	}
	return out
}

// ErrTimeout is reported in the details of a unit that overran its deadline.
var ErrTimeout = errors.New("check timed out")

// Execute runs u against target under a deadline and converts every fault, including
// panics and overruns, into an "error" finding. A unit's own Timeout takes precedence
// over the default.
func Execute(ctx context.Context, u Unit, target string, timeout time.Duration) domain.Finding {
	if u.Timeout > 0 {
		timeout = u.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		f   domain.Finding
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		f, err := u.Run(ctx, target)
		ch <- result{f: f, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return faultFinding(u, r.err)
		}
		return normalize(u, r.f)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return faultFinding(u, fmt.Errorf("%w after %s", ErrTimeout, timeout))
		}
		return faultFinding(u, ctx.Err())
	}
}

func faultFinding(u Unit, err error) domain.Finding {
	return domain.Finding{
		Check:     string(u.ID),
		Title:     u.Label,
		Status:    domain.FindingError,
		RiskLevel: domain.RiskNone,
		Module:    u.Module,
		Details:   err.Error(),
	}
}

func normalize(u Unit, f domain.Finding) domain.Finding {
	f.Check = string(u.ID)
	if f.Title == "" {
		f.Title = u.Label
	}
	if f.Module == "" {
		f.Module = u.Module
	}
	if !f.Status.Valid() {
		f.Status = domain.FindingError
		if f.Details == "" {
			f.Details = "check returned no status"
		}
	}
	if f.RiskLevel == "" {
		switch f.Status {
		case domain.FindingFail:
			f.RiskLevel = domain.RiskMedium
		case domain.FindingWarn:
			f.RiskLevel = domain.RiskLow
		default:
			f.RiskLevel = domain.RiskNone
		}
	}
	return f
}

// riskIf returns level when cond holds and low otherwise.
func riskIf(cond bool, level domain.RiskLevel) domain.RiskLevel {
	if cond {
		return level
	}
	return domain.RiskLow
}

func statusIf(cond bool, yes, no domain.FindingStatus) domain.FindingStatus {
	if cond {
		return yes
	}
	return no
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
