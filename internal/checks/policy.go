package checks

import (
	"context"
	"fmt"
	"strings"

	"complylaw/internal/domain"
)

// externalScriptLimit is the number of third-party scripts tolerated before warning.
const externalScriptLimit = 8

func (s *suite) thirdPartyScripts(ctx context.Context, target string) (domain.Finding, error) {
	inv, err := s.Crawler.Inventory(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	n := inv.External()
	return domain.Finding{
		Title:             "Third-Party Scripts",
		Status:            statusIf(n > externalScriptLimit, domain.FindingWarn, domain.FindingPass),
		Details:           fmt.Sprintf("%d external", n),
		StandardReference: "NIST",
		Module:            "Supply Chain",
	}, nil
}

func (s *suite) hipaaForms(ctx context.Context, target string) (domain.Finding, error) {
	inv, err := s.Crawler.Inventory(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	secure := true
	for _, f := range inv.Forms {
		if f.Action != "" && !f.Secure {
			secure = false
		}
	}
	return domain.Finding{
		Title:             "Data Forms",
		Status:            statusIf(secure, domain.FindingPass, domain.FindingFail),
		Details:           fmt.Sprintf("%d forms | HTTPS: %s", len(inv.Forms), yesNo(secure, "Yes", "No")),
		StandardReference: "HIPAA",
		Module:            "HIPAA",
	}, nil
}

func (s *suite) isoAccessControl(ctx context.Context, target string) (domain.Finding, error) {
	link, _ := s.Fetcher.FindLink(ctx, target, "terms", "aup", "acceptable use")
	if link == "" {
		return domain.Finding{
			Title:             "Access Policy (ISO)",
			Status:            domain.FindingWarn,
			Details:           "Missing",
			StandardReference: "ISO A.9",
			Module:            "ISO 27001",
		}, nil
	}
	found := containsAny(s.Fetcher.PageText(ctx, link), "registration", "user access")
	return domain.Finding{
		Title:             "User Access Policy",
		Status:            statusIf(found, domain.FindingPass, domain.FindingWarn),
		Details:           "Defined: " + yesNo(found, "Yes", "No"),
		StandardReference: "ISO 27001 A.9.2.1",
		Module:            "ISO 27001",
	}, nil
}

func (s *suite) pciServerHeader(ctx context.Context, target string) (domain.Finding, error) {
	server := s.Fetcher.Headers(ctx, target).Get("Server")
	leaked := false
	for _, product := range []string{"apache", "nginx", "iis"} {
		if strings.Contains(strings.ToLower(server), product) {
			leaked = true
		}
	}
	if server == "" {
		server = "Hidden"
	}
	return domain.Finding{
		Title:             "Server Header Leak (PCI)",
		Status:            statusIf(leaked, domain.FindingFail, domain.FindingPass),
		Details:           "Server: " + server,
		StandardReference: "PCI DSS 10.2",
		RiskLevel:         riskIf(leaked, domain.RiskHigh),
		Module:            "PCI DSS",
	}, nil
}

func (s *suite) soc2AccessReviews(ctx context.Context, target string) (domain.Finding, error) {
	link, _ := s.Fetcher.FindLink(ctx, target, "security", "trust")
	mentioned := link != "" && containsAny(s.Fetcher.PageText(ctx, link), "access review", "soc 2", "soc2")
	return domain.Finding{
		Title:             "Access Reviews (SOC 2)",
		Status:            statusIf(mentioned, domain.FindingPass, domain.FindingWarn),
		Details:           yesNo(mentioned, "Mentioned", "Not mentioned"),
		StandardReference: "SOC 2 CC6.1",
		Module:            "SOC 2",
	}, nil
}

// cisLockout looks for an account lockout notice on the login page.
func (s *suite) cisLockout(ctx context.Context, target string) (domain.Finding, error) {
	login, _ := s.Fetcher.FindLink(ctx, target, "login", "log in", "sign in")
	if login == "" {
		return domain.Finding{
			Title:             "Account Lockout (CIS)",
			Status:            domain.FindingInfo,
			Details:           "No login page",
			StandardReference: "CIS 1.4",
			Module:            "CIS",
		}, nil
	}
	found := containsAny(s.Fetcher.PageText(ctx, login), "locked", "too many attempts", "captcha")
	return domain.Finding{
		Title:             "Account Lockout (CIS)",
		Status:            statusIf(found, domain.FindingPass, domain.FindingWarn),
		Details:           "Lockout hint: " + yesNo(found, "Present", "Missing"),
		StandardReference: "CIS 1.4",
		Module:            "CIS",
	}, nil
}
