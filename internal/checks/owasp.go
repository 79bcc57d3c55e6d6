package checks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"complylaw/internal/domain"
)

const moduleOWASP = "OWASP"

func (s *suite) brokenAccessControl(ctx context.Context, target string) (domain.Finding, error) {
	page, err := s.Fetcher.GetNoRedirect(ctx, s.Fetcher.URL(target, "/admin"))
	if err != nil {
		return domain.Finding{Title: "Access Control", Status: domain.FindingPass, Details: "/admin not found", Module: moduleOWASP}, nil
	}
	exposed := page.StatusCode == http.StatusOK ||
		page.StatusCode == http.StatusMovedPermanently ||
		page.StatusCode == http.StatusFound
	return domain.Finding{
		Title:             "Admin Endpoint Exposure (A01)",
		Status:            statusIf(exposed, domain.FindingFail, domain.FindingPass),
		Details:           fmt.Sprintf("/admin → %d", page.StatusCode),
		StandardReference: "OWASP A01:2021",
		RiskLevel:         riskIf(exposed, domain.RiskHigh),
		Module:            moduleOWASP,
	}, nil
}

func (s *suite) cryptoFailures(ctx context.Context, target string) (domain.Finding, error) {
	f := s.tlsFinding(ctx, target)
	if f.Status == domain.FindingWarn || f.Status == domain.FindingFail {
		f.Title = "Weak TLS (A02)"
		f.StandardReference = "OWASP A02:2021"
		f.Module = moduleOWASP
		f.RiskLevel = domain.RiskHigh
	}
	return f, nil
}

var injectionPayloads = []string{"' OR '1'='1", "1; DROP TABLE users--"}

func (s *suite) sqlInjection(ctx context.Context, target string) (domain.Finding, error) {
	vulnerable := false
	for _, p := range injectionPayloads {
		page, err := s.Fetcher.Get(ctx, s.Fetcher.URL(target, "/search?q="+url.QueryEscape(p)))
		if err != nil {
			if ctx.Err() != nil {
				return domain.Finding{}, ctx.Err()
			}
			continue
		}
		if containsAny(string(lower(page.Body)), "sql syntax", "sql error", "sqlstate", "syntax error") {
			vulnerable = true
			break
		}
	}
	return domain.Finding{
		Title:             "SQL Injection (A03)",
		Status:            statusIf(vulnerable, domain.FindingFail, domain.FindingPass),
		Details:           fmt.Sprintf("Tested %d payloads", len(injectionPayloads)),
		StandardReference: "OWASP A03:2021",
		RiskLevel:         riskIf(vulnerable, domain.RiskHigh),
		Module:            moduleOWASP,
	}, nil
}

var requiredHeaders = []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options"}

func (s *suite) securityHeaders(ctx context.Context, target string) (domain.Finding, error) {
	h := s.Fetcher.Headers(ctx, target)
	var missing []string
	for _, name := range requiredHeaders {
		if h.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	risk := domain.RiskLow
	switch {
	case len(missing) > 1:
		risk = domain.RiskHigh
	case len(missing) == 1:
		risk = domain.RiskMedium
	}
	return domain.Finding{
		Title:             "Missing Security Headers (A04)",
		Status:            statusIf(len(missing) == 0, domain.FindingPass, domain.FindingFail),
		Details:           "Missing: " + yesNo(len(missing) == 0, "None", strings.Join(missing, ", ")),
		StandardReference: "OWASP A04:2021",
		RiskLevel:         risk,
		Module:            moduleOWASP,
	}, nil
}

func (s *suite) securityMisconfig(ctx context.Context, target string) (domain.Finding, error) {
	page, err := s.Fetcher.Get(ctx, s.Fetcher.URL(target, "/phpinfo.php"))
	if err == nil && page.StatusCode == http.StatusOK && strings.Contains(string(page.Body), "phpinfo()") {
		return domain.Finding{
			Title:             "PHP Info Exposure (A05)",
			Status:            domain.FindingFail,
			Details:           "phpinfo.php accessible",
			StandardReference: "OWASP A05:2021",
			RiskLevel:         domain.RiskHigh,
			Module:            moduleOWASP,
		}, nil
	}
	return domain.Finding{Title: "Misconfig", Status: domain.FindingPass, Details: "No exposure", Module: moduleOWASP}, nil
}

// outdatedMarkers are banner fragments of end-of-life server software.
var outdatedMarkers = map[string]string{
	"apache/2.2":  "Old web server",
	"nginx/1.14":  "Old web server",
	"php/5.":      "Old PHP",
	"iis/6.0":     "Old web server",
	"openssl/1.0": "Old OpenSSL",
}

func (s *suite) outdatedSoftware(ctx context.Context, target string) (domain.Finding, error) {
	page, err := s.Fetcher.Get(ctx, s.Fetcher.URL(target, ""))
	var header http.Header
	var body []byte
	if err == nil {
		header, body = page.Header, page.Body
	} else {
		header = http.Header{}
	}
	banner := strings.ToLower(header.Get("Server") + " " + header.Get("X-Powered-By"))

	seen := make(map[string]struct{})
	var outdated []string
	for marker, label := range outdatedMarkers {
		if strings.Contains(banner, marker) {
			if _, dup := seen[label]; !dup {
				seen[label] = struct{}{}
				outdated = append(outdated, label)
			}
		}
	}
	sort.Strings(outdated)

	details := "Detected: " + yesNo(len(outdated) == 0, "Up-to-date", strings.Join(outdated, ", "))
	if s.Fingerprinter != nil {
		if tech := s.Fingerprinter.Technologies(header, body); len(tech) > 0 {
			details += " | Stack: " + strings.Join(tech, ", ")
		}
	}
	return domain.Finding{
		Title:             "Outdated Software (A06)",
		Status:            statusIf(len(outdated) == 0, domain.FindingPass, domain.FindingFail),
		Details:           details,
		StandardReference: "OWASP A06:2021",
		RiskLevel:         riskIf(len(outdated) > 0, domain.RiskHigh),
		Module:            moduleOWASP,
	}, nil
}

func (s *suite) authFailures(ctx context.Context, target string) (domain.Finding, error) {
	login, _ := s.Fetcher.FindLink(ctx, target, "login", "log in", "sign in")
	if login == "" {
		return domain.Finding{Title: "Login Not Found (A07)", Status: domain.FindingWarn, Details: "No login", Module: moduleOWASP}, nil
	}
	weak := !containsAny(s.Fetcher.PageText(ctx, login), "mfa", "2fa", "two-factor")
	return domain.Finding{
		Title:             "Weak Auth (A07)",
		Status:            statusIf(weak, domain.FindingWarn, domain.FindingPass),
		Details:           "MFA hint: " + yesNo(weak, "Missing", "Present"),
		StandardReference: "OWASP A07:2021",
		RiskLevel:         domain.RiskMedium,
		Module:            moduleOWASP,
	}, nil
}

// integrityFailures flags cross-origin scripts loaded without subresource integrity.
func (s *suite) integrityFailures(ctx context.Context, target string) (domain.Finding, error) {
	inv, err := s.Crawler.Inventory(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	var unpinned int
	for _, sc := range inv.Scripts {
		if sc.External && !sc.Integrity {
			unpinned++
		}
	}
	if unpinned == 0 {
		return domain.Finding{Title: "Integrity (A08)", Status: domain.FindingPass, Details: "No untrusted JS", Module: moduleOWASP}, nil
	}
	return domain.Finding{
		Title:             "Integrity (A08)",
		Status:            domain.FindingWarn,
		Details:           fmt.Sprintf("%d external scripts without SRI", unpinned),
		StandardReference: "OWASP A08:2021",
		RiskLevel:         domain.RiskMedium,
		Module:            moduleOWASP,
	}, nil
}

func (s *suite) loggingMonitoring(ctx context.Context, target string) (domain.Finding, error) {
	page, err := s.Fetcher.Get(ctx, s.Fetcher.URL(target, "/error.log"))
	if err == nil && page.StatusCode == http.StatusOK {
		return domain.Finding{
			Title:             "Error Log Exposure (A09)",
			Status:            domain.FindingFail,
			Details:           "error.log public",
			StandardReference: "OWASP A09:2021",
			RiskLevel:         domain.RiskHigh,
			Module:            moduleOWASP,
		}, nil
	}
	return domain.Finding{Title: "Logging", Status: domain.FindingPass, Details: "No leaks", Module: moduleOWASP}, nil
}

const ssrfCanary = "https://canary.invalid/"

// ssrf probes common redirect parameters for an open forwarder.
func (s *suite) ssrf(ctx context.Context, target string) (domain.Finding, error) {
	for _, param := range []string{"url", "next", "redirect"} {
		page, err := s.Fetcher.GetNoRedirect(ctx, s.Fetcher.URL(target, "/?"+param+"="+url.QueryEscape(ssrfCanary)))
		if err != nil {
			continue
		}
		if strings.HasPrefix(page.Header.Get("Location"), ssrfCanary) {
			return domain.Finding{
				Title:             "SSRF (A10)",
				Status:            domain.FindingWarn,
				Details:           "Open redirect via ?" + param,
				StandardReference: "OWASP A10:2021",
				RiskLevel:         domain.RiskMedium,
				Module:            moduleOWASP,
			}, nil
		}
	}
	return domain.Finding{Title: "SSRF (A10)", Status: domain.FindingPass, Details: "Blocked", Module: moduleOWASP}, nil
}
