package domain

// BreachAlerts lists titles of alerting findings in order.
func BreachAlerts(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		if f.RiskLevel.Alerting() && (f.Status == FindingFail || f.Status == FindingWarn) {
			out = append(out, f.Title)
		}
	}
	return out
}

// Recommendations maps failing or warning findings to remediation hints through catalog,
// keyed by check identifier. Each hint appears once.
func Recommendations(findings []Finding, catalog map[string]Recommendation) []Recommendation {
	var out []Recommendation
	seen := make(map[string]struct{})
	for _, f := range findings {
		if f.Status != FindingFail && f.Status != FindingWarn {
			continue
		}
		rec, ok := catalog[f.Check]
		if !ok {
			continue
		}
		if _, dup := seen[rec.Title]; dup {
			continue
		}
		seen[rec.Title] = struct{}{}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return []Recommendation{{Title: "No critical issues", Priority: "low"}}
	}
	return out
}
