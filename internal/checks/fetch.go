package checks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Page is a fetched HTTP response with a capped body.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetcherOptions configures outbound HTTP for the checks.
type FetcherOptions struct {
	Scheme    string
	UserAgent string
	Timeout   time.Duration
	MaxBody   int64
	// RequestsPerSecond paces requests per target host; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	Transport         http.RoundTripper
}

// Fetcher is the HTTP client shared by every Check Unit. Requests to the same host are
// paced so a scan never bursts against its target.
type Fetcher struct {
	client    *http.Client
	scheme    string
	userAgent string
	maxBody   int64
	limiters  *hostLimiters
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "complylaw-scanner/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 2 << 20
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		scheme:    opts.Scheme,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBody,
		limiters:  newHostLimiters(opts.RequestsPerSecond, opts.Burst),
	}
}

// Transport exposes the round tripper so crawlers share TLS settings.
func (f *Fetcher) Transport() http.RoundTripper { return f.client.Transport }

func (f *Fetcher) UserAgent() string { return f.userAgent }

// URL builds an absolute URL for path on target.
func (f *Fetcher) URL(target, path string) string {
	return f.scheme + "://" + target + path
}

// Get fetches rawURL following redirects.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Page, error) {
	return f.do(ctx, http.MethodGet, rawURL, true)
}

// GetNoRedirect fetches rawURL and returns the first response as is.
func (f *Fetcher) GetNoRedirect(ctx context.Context, rawURL string) (*Page, error) {
	return f.do(ctx, http.MethodGet, rawURL, false)
}

// Head issues a HEAD request following redirects.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (*Page, error) {
	return f.do(ctx, http.MethodHead, rawURL, true)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string, follow bool) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	if err := f.limiters.wait(ctx, u.Host); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	client := f.client
	if !follow {
		c := *f.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		client = &c
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &Page{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Header: resp.Header}
	if method != http.MethodHead {
		page.Body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	return page, nil
}

// Headers returns the response headers of the site root, or empty headers when the site
// cannot be reached.
func (f *Fetcher) Headers(ctx context.Context, target string) http.Header {
	page, err := f.Head(ctx, f.URL(target, ""))
	if err != nil {
		return http.Header{}
	}
	return page.Header
}

// Document fetches rawURL and parses it as HTML. Non-2xx responses are errors.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, *Page, error) {
	page, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, page, fmt.Errorf("GET %s: status %d", rawURL, page.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, page, fmt.Errorf("parse html: %w", err)
	}
	return doc, page, nil
}

// FindLink returns the absolute URL of the first anchor on the site root whose text
// contains one of keywords, or "" when none does.
func (f *Fetcher) FindLink(ctx context.Context, target string, keywords ...string) (string, error) {
	base := f.URL(target, "")
	doc, page, err := f.Document(ctx, base)
	if err != nil {
		return "", err
	}
	baseURL, err := url.Parse(page.URL)
	if err != nil {
		return "", err
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		for _, k := range keywords {
			if strings.Contains(text, k) {
				href, _ := s.Attr("href")
				if ref, err := url.Parse(href); err == nil {
					found = baseURL.ResolveReference(ref).String()
					return false
				}
			}
		}
		return true
	})
	return found, nil
}

// PageText returns the lowercased visible text of rawURL. Unreachable pages yield "".
func (f *Fetcher) PageText(ctx context.Context, rawURL string) string {
	doc, _, err := f.Document(ctx, rawURL)
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer").Remove()
	return strings.ToLower(strings.Join(strings.Fields(doc.Text()), " "))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// hostLimiters keeps one token bucket per target host.
type hostLimiters struct {
	mu    sync.Mutex
	rps   float64
	burst int
	m     map[string]*rate.Limiter
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	if burst < 1 {
		burst = 1
	}
	return &hostLimiters{rps: rps, burst: burst, m: make(map[string]*rate.Limiter)}
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	if h.rps <= 0 {
		return nil
	}
	h.mu.Lock()
	l, ok := h.m[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.rps), h.burst)
		h.m[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}
