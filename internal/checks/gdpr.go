package checks

import (
	"context"
	"fmt"
	"net/http"

	"complylaw/internal/domain"
)

const moduleGDPR = "GDPR"

func (s *suite) dsar(ctx context.Context, target string) (domain.Finding, error) {
	link, _ := s.Fetcher.FindLink(ctx, target, "dsar", "data subject", "access my data")
	text := s.Fetcher.PageText(ctx, s.Fetcher.URL(target, ""))
	found := link != "" || containsAny(text, "dsar", "data subject access request")
	status := statusIf(found, domain.FindingPass, domain.FindingFail)
	return domain.Finding{
		Title:             "DSAR Endpoint (GDPR Art. 15)",
		Status:            status,
		Details:           "DSAR page: " + yesNo(link != "", "Found", "Missing"),
		StandardReference: "GDPR Art. 15",
		RiskLevel:         riskIf(status == domain.FindingFail, domain.RiskHigh),
		Module:            moduleGDPR,
	}, nil
}

// policyClause checks that the page behind one of linkWords mentions one of clauses.
// A missing page fails, a page without the clause warns.
func (s *suite) policyClause(ctx context.Context, target, title, missingTitle, standard string,
	linkWords, clauses []string, warnRisk domain.RiskLevel) domain.Finding {
	link, _ := s.Fetcher.FindLink(ctx, target, linkWords...)
	if link == "" {
		return domain.Finding{
			Title:             missingTitle,
			Status:            domain.FindingFail,
			Details:           "Privacy policy missing",
			StandardReference: standard,
			RiskLevel:         domain.RiskHigh,
			Module:            moduleGDPR,
		}
	}
	found := containsAny(s.Fetcher.PageText(ctx, link), clauses...)
	status := statusIf(found, domain.FindingPass, domain.FindingWarn)
	risk := domain.RiskLow
	if !found {
		risk = warnRisk
	}
	return domain.Finding{
		Title:             title,
		Status:            status,
		Details:           "Clause: " + yesNo(found, "Found", "Missing"),
		StandardReference: standard,
		RiskLevel:         risk,
		Module:            moduleGDPR,
	}
}

func (s *suite) dpia(ctx context.Context, target string) (domain.Finding, error) {
	return s.policyClause(ctx, target,
		"DPIA Mentioned (GDPR Art. 35)", "DPIA Reference (GDPR Art. 35)", "GDPR Art. 35",
		[]string{"privacy policy", "privacy"},
		[]string{"dpia", "data protection impact assessment"}, domain.RiskHigh), nil
}

func (s *suite) retention(ctx context.Context, target string) (domain.Finding, error) {
	return s.policyClause(ctx, target,
		"Data Retention Policy", "Retention Policy (GDPR Art. 5)", "GDPR Art. 5(1)(e)",
		[]string{"privacy policy"},
		[]string{"retention period", "data will be deleted"}, domain.RiskHigh), nil
}

func (s *suite) dpo(ctx context.Context, target string) (domain.Finding, error) {
	return s.policyClause(ctx, target,
		"DPO Appointed", "DPO Contact (GDPR Art. 37)", "GDPR Art. 37",
		[]string{"privacy", "contact"},
		[]string{"data protection officer", "dpo"}, domain.RiskMedium), nil
}

func (s *suite) sitemap(ctx context.Context, target string) (domain.Finding, error) {
	ok := func(path string) bool {
		p, err := s.Fetcher.Head(ctx, s.Fetcher.URL(target, path))
		return err == nil && p.StatusCode == http.StatusOK
	}
	sitemap, robots := ok("/sitemap.xml"), ok("/robots.txt")
	return domain.Finding{
		Title:             "Sitemap & Robots",
		Status:            statusIf(sitemap && robots, domain.FindingPass, domain.FindingWarn),
		Details:           fmt.Sprintf("Sitemap: %s | Robots: %s", yesNo(sitemap, "OK", "Missing"), yesNo(robots, "OK", "Missing")),
		StandardReference: "GDPR Art. 35",
		Module:            moduleGDPR,
	}, nil
}

func (s *suite) cookieConsent(ctx context.Context, target string) (domain.Finding, error) {
	page, err := s.Fetcher.Get(ctx, s.Fetcher.URL(target, ""))
	if err != nil {
		return domain.Finding{
			Title:     "Cookie Consent",
			Status:    domain.FindingFail,
			Details:   "Site down",
			RiskLevel: domain.RiskHigh,
			Module:    moduleGDPR,
		}, nil
	}
	banner := containsAny(string(lower(page.Body)), "cookie", "consent")
	return domain.Finding{
		Title:             "Cookie Consent",
		Status:            statusIf(banner, domain.FindingPass, domain.FindingFail),
		Details:           "Banner: " + yesNo(banner, "Detected", "Missing"),
		StandardReference: "GDPR Art. 7",
		RiskLevel:         riskIf(!banner, domain.RiskHigh),
		Module:            moduleGDPR,
	}, nil
}

func (s *suite) privacyPolicy(ctx context.Context, target string) (domain.Finding, error) {
	link, _ := s.Fetcher.FindLink(ctx, target, "privacy", "policy")
	if link == "" {
		return domain.Finding{Title: "Privacy Policy", Status: domain.FindingFail, Details: "Not found", Module: moduleGDPR}, nil
	}
	text := s.Fetcher.PageText(ctx, link)
	gdpr := 0
	for _, k := range []string{"gdpr", "controller", "erase", "dpo"} {
		if containsAny(text, k) {
			gdpr++
		}
	}
	ccpa := containsAny(text, "ccpa", "california")
	return domain.Finding{
		Title:             "Privacy Policy",
		Status:            statusIf(gdpr >= 2 && ccpa, domain.FindingPass, domain.FindingWarn),
		Details:           fmt.Sprintf("GDPR: %d/4 | CCPA: %s", gdpr, yesNo(ccpa, "Yes", "No")),
		StandardReference: "GDPR, CCPA",
		Module:            moduleGDPR,
	}, nil
}

func lower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
