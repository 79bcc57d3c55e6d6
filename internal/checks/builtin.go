package checks

import (
	"time"

	"complylaw/internal/domain"
)

// Deps are the probes the built-in units share. Nil fields get production defaults.
type Deps struct {
	Fetcher       *Fetcher
	TLS           TLSProber
	DNS           DNSProber
	Crawler       Crawler
	Fingerprinter Fingerprinter
	Nikto         VulnScanner
	Nmap          VulnScanner
}

type suite struct {
	Deps
}

func (d Deps) withDefaults() Deps {
	if d.Fetcher == nil {
		d.Fetcher = NewFetcher(FetcherOptions{})
	}
	if d.TLS == nil {
		d.TLS = TLSDialer{}
	}
	if d.DNS == nil {
		d.DNS = DNSResolver{}
	}
	if d.Crawler == nil {
		d.Crawler = CollyCrawler{Fetcher: d.Fetcher}
	}
	if d.Fingerprinter == nil {
		d.Fingerprinter = &Wappalyzer{}
	}
	if d.Nikto == nil {
		d.Nikto = Nikto{}
	}
	if d.Nmap == nil {
		d.Nmap = Nmap{}
	}
	return d
}

var (
	recCookie  = &domain.Recommendation{Title: "Add Cookie Consent Banner", Priority: "high"}
	recTLS     = &domain.Recommendation{Title: "Upgrade TLS & Enable HSTS", Priority: "high"}
	recHeaders = &domain.Recommendation{Title: "Add Security Headers", Priority: "high"}
)

// Builtin returns every Check Unit this service ships, in tier order.
func Builtin(deps Deps) []Unit {
	s := &suite{Deps: deps.withDefaults()}
	return []Unit{
		{ID: GDPRDSAR, Label: "GDPR: DSAR", Module: moduleGDPR, Run: s.dsar},
		{ID: GDPRDPIA, Label: "GDPR: DPIA", Module: moduleGDPR, Run: s.dpia},
		{ID: GDPRRetention, Label: "GDPR: Retention", Module: moduleGDPR, Run: s.retention},
		{ID: GDPRDPO, Label: "GDPR: DPO", Module: moduleGDPR, Run: s.dpo},
		{ID: GDPRSitemap, Label: "Sitemap & Robots", Module: moduleGDPR, Run: s.sitemap},
		{ID: GDPRCookieConsent, Label: "Cookie Consent", Module: moduleGDPR, Run: s.cookieConsent,
			Recommendation: recCookie, Checklist: ChecklistCookieBanner},
		{ID: GDPRPrivacyPolicy, Label: "Privacy Policy", Module: moduleGDPR, Run: s.privacyPolicy},

		{ID: OWASPAccessControl, Label: "OWASP A01: Access Control", Module: moduleOWASP, Run: s.brokenAccessControl},
		{ID: OWASPCrypto, Label: "OWASP A02: Crypto", Module: moduleOWASP, Run: s.cryptoFailures, Recommendation: recTLS},
		{ID: OWASPInjection, Label: "OWASP A03: Injection", Module: moduleOWASP, Run: s.sqlInjection},
		{ID: OWASPHeaders, Label: "OWASP A04: Headers", Module: moduleOWASP, Run: s.securityHeaders, Recommendation: recHeaders},
		{ID: OWASPMisconfig, Label: "OWASP A05: Misconfig", Module: moduleOWASP, Run: s.securityMisconfig},
		{ID: OWASPOutdated, Label: "OWASP A06: Outdated", Module: moduleOWASP, Run: s.outdatedSoftware},
		{ID: OWASPAuth, Label: "OWASP A07: Auth", Module: moduleOWASP, Run: s.authFailures},
		{ID: OWASPIntegrity, Label: "OWASP A08: Integrity", Module: moduleOWASP, Run: s.integrityFailures},
		{ID: OWASPLogging, Label: "OWASP A09: Logging", Module: moduleOWASP, Run: s.loggingMonitoring},
		{ID: OWASPSSRF, Label: "OWASP A10: SSRF", Module: moduleOWASP, Run: s.ssrf},
		{ID: OWASPNikto, Label: "Nikto Scan", Module: "Vulnerability", Run: s.nikto, Timeout: 2 * time.Minute},

		{ID: EncryptionTLS, Label: "SSL/TLS Check", Module: "Encryption", Run: s.sslTLS,
			Recommendation: recTLS, Checklist: ChecklistHTTPS},
		{ID: ThirdPartyScripts, Label: "Third-Party Scripts", Module: "Supply Chain", Run: s.thirdPartyScripts},
		{ID: ISOAccessPolicy, Label: "ISO 27001 Access", Module: "ISO 27001", Run: s.isoAccessControl},
		{ID: PCIServerHeader, Label: "PCI DSS Headers", Module: "PCI DSS", Run: s.pciServerHeader},
		{ID: DNSEmailSecurity, Label: "DNS & Email Security", Module: "DNS", Run: s.emailSecurity},
		{ID: HIPAAEncryption, Label: "HIPAA Encryption", Module: "HIPAA", Run: s.hipaaEncryption},
		{ID: HIPAAForms, Label: "HIPAA Forms", Module: "HIPAA", Run: s.hipaaForms},
		{ID: SOC2AccessReviews, Label: "SOC 2 Access", Module: "SOC 2", Run: s.soc2AccessReviews},
		{ID: CISLockout, Label: "CIS Lockout", Module: "CIS", Run: s.cisLockout},
		{ID: NmapVulnerability, Label: "Nmap Vuln Scan", Module: "Vulnerability", Run: s.nmapVulns, Timeout: 5 * time.Minute},
	}
}

// BuiltinRegistry indexes Builtin(deps).
func BuiltinRegistry(deps Deps) (*Registry, error) {
	return NewRegistry(Builtin(deps)...)
}
