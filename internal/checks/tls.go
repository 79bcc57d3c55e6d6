package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"complylaw/internal/domain"
)

// TLSState is what a handshake with the target revealed.
type TLSState struct {
	Version     uint16
	CipherSuite uint16
	NotAfter    time.Time
}

func (s TLSState) VersionName() string { return tls.VersionName(s.Version) }

func (s TLSState) CipherName() string { return tls.CipherSuiteName(s.CipherSuite) }

// TLSProber performs a TLS handshake against a host.
type TLSProber interface {
	Probe(ctx context.Context, host string) (TLSState, error)
}

// TLSDialer probes host:Port with certificate verification enabled.
type TLSDialer struct {
	Port   string
	Config *tls.Config
	// Addr overrides the dialed address; the host is still used for SNI and verification.
	Addr func(host string) string
}

func (d TLSDialer) Probe(ctx context.Context, host string) (TLSState, error) {
	port := d.Port
	if port == "" {
		port = "443"
	}
	addr := net.JoinHostPort(host, port)
	if d.Addr != nil {
		addr = d.Addr(host)
	}
	cfg := &tls.Config{}
	if d.Config != nil {
		cfg = d.Config.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	dialer := &tls.Dialer{Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return TLSState{}, err
	}
	defer conn.Close()

	cs := conn.(*tls.Conn).ConnectionState()
	st := TLSState{Version: cs.Version, CipherSuite: cs.CipherSuite}
	if len(cs.PeerCertificates) > 0 {
		st.NotAfter = cs.PeerCertificates[0].NotAfter
	}
	return st, nil
}

// tlsFinding grades a handshake. Modern protocol without RSA key exchange passes.
func (s *suite) tlsFinding(ctx context.Context, target string) domain.Finding {
	st, err := s.TLS.Probe(ctx, target)
	if err != nil {
		return domain.Finding{
			Title:     "SSL/TLS",
			Status:    domain.FindingFail,
			Details:   "Error: " + err.Error(),
			RiskLevel: domain.RiskHigh,
			Module:    "Encryption",
		}
	}
	modern := st.Version >= tls.VersionTLS12
	rsaKex := strings.HasPrefix(st.CipherName(), "TLS_RSA_")
	status := statusIf(modern && !rsaKex, domain.FindingPass, domain.FindingWarn)
	details := fmt.Sprintf("%s | %s", st.VersionName(), st.CipherName())
	if !st.NotAfter.IsZero() {
		details += " | Expires: " + st.NotAfter.Format(time.DateOnly)
	}
	return domain.Finding{
		Title:             "SSL/TLS",
		Status:            status,
		Details:           details,
		StandardReference: "PCI DSS Req 4.1",
		Module:            "Encryption",
	}
}

func (s *suite) sslTLS(ctx context.Context, target string) (domain.Finding, error) {
	return s.tlsFinding(ctx, target), nil
}

func (s *suite) hipaaEncryption(ctx context.Context, target string) (domain.Finding, error) {
	f := s.tlsFinding(ctx, target)
	f.Module = "HIPAA"
	f.StandardReference = "HIPAA §164.312"
	return f, nil
}
