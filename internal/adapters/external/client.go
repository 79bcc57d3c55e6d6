// Package external asks an authoritative third-party scanner for a ready-made verdict.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"complylaw/internal/domain"
)

// Defaults used when the scanner omits a field.
const (
	defaultGrade = domain.GradeC
	defaultRisk  = 45.0
)

type Options struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client calls the external scanner. A client without URL or key is disabled and never
// returns an override.
type Client struct {
	url    string
	key    string
	client *http.Client
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := opts.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{url: opts.URL, key: opts.APIKey, client: c}
}

func (c *Client) Enabled() bool { return c.url != "" && c.key != "" }

type lookupRequest struct {
	Domain string `json:"domain"`
	APIKey string `json:"api_key"`
}

// Lookup posts the domain and decodes a 200 answer. Any other status is not an override.
func (c *Client) Lookup(ctx context.Context, d string) (*domain.ExternalResult, error) {
	if !c.Enabled() {
		return nil, nil
	}
	body, err := json.Marshal(lookupRequest{Domain: d, APIKey: c.key})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("external scanner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external scanner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("external scanner: decode: %w", err)
	}
	res := &domain.ExternalResult{Grade: defaultGrade, RiskScore: defaultRisk, Raw: raw}
	if g, ok := raw["grade"].(string); ok {
		res.Grade = domain.Grade(g)
	}
	if r, ok := raw["risk_score"].(float64); ok {
		res.RiskScore = r
	}
	return res, nil
}
