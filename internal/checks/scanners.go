package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"complylaw/internal/domain"
)

// VulnScanner runs an external vulnerability scanner against a target.
type VulnScanner interface {
	Scan(ctx context.Context, target string) ([]domain.Vulnerability, error)
}

// Nmap runs service detection plus the "vuln" NSE category over the most common ports
// and keeps script output that names a CVE.
type Nmap struct {
	TopPorts int
}

func (n Nmap) Scan(ctx context.Context, target string) ([]domain.Vulnerability, error) {
	top := n.TopPorts
	if top <= 0 {
		top = 100
	}
	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(target),
		nmap.WithMostCommonPorts(top),
		nmap.WithServiceInfo(),
		nmap.WithScripts("vuln"),
	)
	if err != nil {
		return nil, fmt.Errorf("create nmap scanner: %w", err)
	}
	result, _, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("run nmap: %w", err)
	}

	var out []domain.Vulnerability
	for _, h := range result.Hosts {
		for _, p := range h.Ports {
			for _, sc := range p.Scripts {
				if !strings.Contains(sc.Output, "CVE") {
					continue
				}
				out = append(out, domain.Vulnerability{
					Identifier: sc.ID,
					Port:       int(p.ID),
					Detail:     strings.TrimSpace(sc.Output),
				})
			}
		}
	}
	return out, nil
}

// Nikto shells out to the nikto binary with JSON output on stdout.
type Nikto struct {
	Binary string
}

type niktoItem struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Msg    string `json:"msg"`
}

type niktoHost struct {
	Port            json.RawMessage `json:"port"`
	Vulnerabilities []niktoItem     `json:"vulnerabilities"`
}

func (n Nikto) Scan(ctx context.Context, target string) ([]domain.Vulnerability, error) {
	bin := n.Binary
	if bin == "" {
		bin = "nikto"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-h", "https://"+target, "-Format", "json", "-output", "-")
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run nikto: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseNikto(stdout.Bytes())
}

// parseNikto accepts both the single-host object and the multi-host array nikto emits.
func parseNikto(data []byte) ([]domain.Vulnerability, error) {
	data = bytes.TrimSpace(data)
	var hosts []niktoHost
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &hosts); err != nil {
			return nil, fmt.Errorf("decode nikto output: %w", err)
		}
	} else {
		var h niktoHost
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("decode nikto output: %w", err)
		}
		hosts = []niktoHost{h}
	}

	var out []domain.Vulnerability
	for _, h := range hosts {
		port, _ := strconv.Atoi(strings.Trim(string(h.Port), `"`))
		for _, v := range h.Vulnerabilities {
			detail := v.Msg
			if v.URL != "" {
				detail = strings.TrimSpace(v.Method+" "+v.URL) + ": " + v.Msg
			}
			out = append(out, domain.Vulnerability{Identifier: v.ID, Port: port, Detail: detail})
		}
	}
	return out, nil
}

func vulnFinding(title, standard string, vulns []domain.Vulnerability, noun string) domain.Finding {
	return domain.Finding{
		Title:             title,
		Status:            statusIf(len(vulns) > 0, domain.FindingFail, domain.FindingPass),
		Details:           fmt.Sprintf("%d %s", len(vulns), noun),
		StandardReference: standard,
		RiskLevel:         riskIf(len(vulns) > 0, domain.RiskHigh),
		Module:            "Vulnerability",
		Vulnerabilities:   vulns,
	}
}

func (s *suite) nikto(ctx context.Context, target string) (domain.Finding, error) {
	vulns, err := s.Nikto.Scan(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	return vulnFinding("Nikto Web Vulns", "OWASP", vulns, "issues"), nil
}

func (s *suite) nmapVulns(ctx context.Context, target string) (domain.Finding, error) {
	vulns, err := s.Nmap.Scan(ctx, target)
	if err != nil {
		return domain.Finding{}, err
	}
	return vulnFinding("Nmap Vulnerabilities", "NIST", vulns, "CVEs"), nil
}
