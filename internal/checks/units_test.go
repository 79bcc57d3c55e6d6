package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complylaw/internal/domain"
)

type fakeTLS struct {
	state TLSState
	err   error
}

func (f fakeTLS) Probe(context.Context, string) (TLSState, error) { return f.state, f.err }

type fakeDNS EmailPosture

func (f fakeDNS) EmailPosture(context.Context, string) (EmailPosture, error) {
	return EmailPosture(f), nil
}

type fakeScanner []domain.Vulnerability

func (f fakeScanner) Scan(context.Context, string) ([]domain.Vulnerability, error) { return f, nil }

// site serves pages keyed by path and returns a suite pointed at it.
func site(t *testing.T, pages map[string]string, header http.Header) (*suite, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header()[k] = v
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(FetcherOptions{Scheme: "http", Timeout: 2 * time.Second})
	s := &suite{Deps: Deps{
		Fetcher:       f,
		Crawler:       CollyCrawler{Fetcher: f, Timeout: 2 * time.Second},
		TLS:           fakeTLS{state: TLSState{Version: tls.VersionTLS13, CipherSuite: tls.TLS_AES_128_GCM_SHA256}},
		DNS:           fakeDNS{SPF: true, DMARC: true},
		Fingerprinter: nil,
	}}
	return s, strings.TrimPrefix(srv.URL, "http://")
}

func TestSecurityHeaders(t *testing.T) {
	s, target := site(t, map[string]string{"/": "<html></html>"}, http.Header{"X-Frame-Options": {"DENY"}})
	f, err := s.securityHeaders(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingFail, f.Status)
	assert.Equal(t, domain.RiskHigh, f.RiskLevel)
	assert.Equal(t, "Missing: Content-Security-Policy, X-Content-Type-Options", f.Details)

	s, target = site(t, map[string]string{"/": "ok"}, http.Header{
		"Content-Security-Policy": {"default-src 'self'"},
		"X-Frame-Options":         {"DENY"},
		"X-Content-Type-Options":  {"nosniff"},
	})
	f, err = s.securityHeaders(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingPass, f.Status)
}

func TestAccessControl(t *testing.T) {
	s, target := site(t, map[string]string{"/admin": "login"}, nil)
	f, err := s.brokenAccessControl(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingFail, f.Status)
	assert.Equal(t, "/admin → 200", f.Details)

	s, target = site(t, map[string]string{}, nil)
	f, err = s.brokenAccessControl(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingPass, f.Status)
}

func TestCookieConsentAndPolicies(t *testing.T) {
	pages := map[string]string{
		"/": `<html><body><div id="banner">We use Cookies</div>
			<a href="/privacy">Privacy Policy</a><a href="/login">Sign in</a></body></html>`,
		"/privacy": `<html><body>Under the GDPR the controller lets you erase data.
			California residents (CCPA) too. Our Data Protection Officer answers.</body></html>`,
		"/login":       `<form action="/session"></form> Two-factor supported`,
		"/sitemap.xml": `<urlset/>`,
	}
	s, target := site(t, pages, nil)
	ctx := context.Background()

	f, _ := s.cookieConsent(ctx, target)
	assert.Equal(t, domain.FindingPass, f.Status)

	f, _ = s.privacyPolicy(ctx, target)
	assert.Equal(t, domain.FindingPass, f.Status)
	assert.Equal(t, "GDPR: 3/4 | CCPA: Yes", f.Details)

	f, _ = s.dpo(ctx, target)
	assert.Equal(t, domain.FindingPass, f.Status)

	f, _ = s.dpia(ctx, target)
	assert.Equal(t, domain.FindingWarn, f.Status)
	assert.Equal(t, domain.RiskHigh, f.RiskLevel)

	f, _ = s.sitemap(ctx, target)
	assert.Equal(t, domain.FindingWarn, f.Status)
	assert.Equal(t, "Sitemap: OK | Robots: Missing", f.Details)

	f, _ = s.authFailures(ctx, target)
	assert.Equal(t, domain.FindingPass, f.Status)

	f, _ = s.dsar(ctx, target)
	assert.Equal(t, domain.FindingFail, f.Status)
}

func TestCrawlInventory(t *testing.T) {
	pages := map[string]string{
		"/": `<html><head>
			<script src="/app.js"></script>
			<script src="https://cdn.other.test/lib.js"></script>
			<script src="https://cdn.other.test/pinned.js" integrity="sha384-abc"></script>
			</head><body>
			<form action="http://insecure.test/post"></form>
			<form></form>
			</body></html>`,
	}
	s, target := site(t, pages, nil)
	inv, err := s.Crawler.Inventory(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, inv.Scripts, 3)
	assert.Equal(t, 2, inv.External())
	require.Len(t, inv.Forms, 2)

	f, err := s.integrityFailures(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingWarn, f.Status)
	assert.Equal(t, "1 external scripts without SRI", f.Details)

	f, err = s.hipaaForms(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingFail, f.Status)

	f, err = s.thirdPartyScripts(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, domain.FindingPass, f.Status)
	assert.Equal(t, "2 external", f.Details)
}

func TestTLSFinding(t *testing.T) {
	s := &suite{Deps: Deps{TLS: fakeTLS{state: TLSState{Version: tls.VersionTLS12, CipherSuite: tls.TLS_RSA_WITH_AES_128_GCM_SHA256}}}}
	f, _ := s.sslTLS(context.Background(), "example.com")
	assert.Equal(t, domain.FindingWarn, f.Status)

	f, _ = s.cryptoFailures(context.Background(), "example.com")
	assert.Equal(t, "Weak TLS (A02)", f.Title)
	assert.Equal(t, domain.RiskHigh, f.RiskLevel)

	s.TLS = fakeTLS{err: errors.New("handshake failure")}
	f, _ = s.hipaaEncryption(context.Background(), "example.com")
	assert.Equal(t, domain.FindingFail, f.Status)
	assert.Equal(t, "HIPAA", f.Module)
}

func TestTLSDialer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	d := TLSDialer{
		Config: &tls.Config{RootCAs: pool},
		Addr:   func(string) string { return srv.Listener.Addr().String() },
	}
	st, err := d.Probe(context.Background(), "example.com")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Version, uint16(tls.VersionTLS12))
	assert.False(t, st.NotAfter.IsZero())

	_, err = TLSDialer{Addr: d.Addr}.Probe(context.Background(), "example.com")
	assert.Error(t, err, "self-signed certificate must not verify")
}

func TestDNSResolver(t *testing.T) {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch {
		case q.Qtype == dns.TypeTXT && q.Name == "example.com.":
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{"v=spf1 -all"},
			})
		case q.Qtype == dns.TypeTXT:
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	defer srv.Shutdown()
	<-started

	r := DNSResolver{Server: pc.LocalAddr().String(), Timeout: time.Second}
	p, err := r.EmailPosture(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, EmailPosture{SPF: true}, p)

	s := &suite{Deps: Deps{DNS: r}}
	f, err := s.emailSecurity(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.FindingWarn, f.Status)
	assert.Equal(t, "SPF: Yes | DMARC: No | DNSSEC: No", f.Details)
}

func TestParseNikto(t *testing.T) {
	single := `{"host":"example.com","port":"443","vulnerabilities":[
		{"id":"999986","method":"GET","url":"/","msg":"Missing X-Frame-Options"}]}`
	vulns, err := parseNikto([]byte(single))
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, domain.Vulnerability{Identifier: "999986", Port: 443, Detail: "GET /: Missing X-Frame-Options"}, vulns[0])

	multi := `[{"port":80,"vulnerabilities":[{"id":"1","msg":"a"}]},{"port":443,"vulnerabilities":[]}]`
	vulns, err = parseNikto([]byte(multi))
	require.NoError(t, err)
	assert.Equal(t, []domain.Vulnerability{{Identifier: "1", Port: 80, Detail: "a"}}, vulns)

	_, err = parseNikto([]byte("not json"))
	assert.Error(t, err)
}

func TestVulnFindings(t *testing.T) {
	s := &suite{Deps: Deps{
		Nikto: fakeScanner{},
		Nmap:  fakeScanner{{Identifier: "vulners", Port: 22, Detail: "CVE-2023-38408"}},
	}}
	f, err := s.nikto(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.FindingPass, f.Status)

	f, err = s.nmapVulns(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.FindingFail, f.Status)
	assert.Equal(t, domain.RiskHigh, f.RiskLevel)
	assert.Len(t, f.Vulnerabilities, 1)
}
