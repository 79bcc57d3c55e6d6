package checks

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
)

// Script is a <script src> found on a page.
type Script struct {
	Src       string
	External  bool
	Integrity bool
}

// Form is a <form> found on a page.
type Form struct {
	Action string
	Secure bool
}

// Inventory lists the scripts and forms of a site's landing page.
type Inventory struct {
	Scripts []Script
	Forms   []Form
}

func (inv Inventory) External() int {
	n := 0
	for _, s := range inv.Scripts {
		if s.External {
			n++
		}
	}
	return n
}

// Crawler inventories a target's landing page.
type Crawler interface {
	Inventory(ctx context.Context, target string) (Inventory, error)
}

// CollyCrawler visits the landing page with colly and records scripts and forms.
type CollyCrawler struct {
	Fetcher *Fetcher
	Timeout time.Duration
}

func (c CollyCrawler) Inventory(ctx context.Context, target string) (Inventory, error) {
	start := c.Fetcher.URL(target, "/")
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	col := colly.NewCollector(
		colly.MaxDepth(1),
		colly.UserAgent(c.Fetcher.UserAgent()),
	)
	col.WithTransport(c.Fetcher.Transport())
	col.SetRequestTimeout(timeout)

	var (
		inv      Inventory
		visitErr error
	)
	col.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	col.OnHTML("script[src]", func(e *colly.HTMLElement) {
		src := e.Request.AbsoluteURL(e.Attr("src"))
		inv.Scripts = append(inv.Scripts, Script{
			Src:       src,
			External:  !sameSite(src, target),
			Integrity: e.Attr("integrity") != "",
		})
	})
	col.OnHTML("form", func(e *colly.HTMLElement) {
		action := e.Attr("action")
		abs := e.Request.AbsoluteURL(action)
		if action == "" {
			abs = e.Request.URL.String()
		}
		inv.Forms = append(inv.Forms, Form{Action: action, Secure: strings.HasPrefix(abs, "https://")})
	})
	col.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	if err := col.Visit(start); err != nil {
		return Inventory{}, fmt.Errorf("crawl %s: %w", start, err)
	}
	col.Wait()
	if visitErr != nil {
		return Inventory{}, fmt.Errorf("crawl %s: %w", start, visitErr)
	}
	if err := ctx.Err(); err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// sameSite reports whether rawURL is served by target or one of its subdomains.
func sameSite(rawURL, target string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if h, _, err := net.SplitHostPort(target); err == nil {
		target = h
	}
	host := strings.ToLower(u.Hostname())
	return host == target || strings.HasSuffix(host, "."+target)
}

// Fingerprinter names the technologies a response reveals.
type Fingerprinter interface {
	Technologies(header http.Header, body []byte) []string
}

// Wappalyzer fingerprints with wappalyzergo. The signature database loads on first use.
type Wappalyzer struct {
	once sync.Once
	wap  *wappalyzer.Wappalyze
	err  error
}

func (w *Wappalyzer) Technologies(header http.Header, body []byte) []string {
	w.once.Do(func() {
		w.wap, w.err = wappalyzer.New()
	})
	if w.err != nil || header == nil {
		return nil
	}
	found := w.wap.Fingerprint(header, body)
	out := make([]string, 0, len(found))
	for tech := range found {
		out = append(out, tech)
	}
	sort.Strings(out)
	return out
}
