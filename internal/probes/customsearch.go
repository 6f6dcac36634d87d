package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IndexPilot/server/internal/circuitbreaker"
)

// DefaultCustomSearchURL is the Custom Search JSON API endpoint.
const DefaultCustomSearchURL = "https://www.googleapis.com/customsearch/v1"

// CustomSearchProbe runs a site: query for the URL against a Custom Search
// engine scoped to the whole web. Presence in results is evidence of
// indexation and carries a title and snippet; an empty result set for a
// site: query means the page is not in the index.
type CustomSearchProbe struct {
	apiKey     string
	engineID   string
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	baseURL    string
}

// NewCustomSearchProbe creates the Custom Search probe.
func NewCustomSearchProbe(apiKey, engineID string, breakers *circuitbreaker.Manager, httpClient *http.Client) *CustomSearchProbe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CustomSearchProbe{
		apiKey:     apiKey,
		engineID:   engineID,
		breakers:   breakers,
		httpClient: httpClient,
		baseURL:    DefaultCustomSearchURL,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (p *CustomSearchProbe) SetBaseURL(baseURL string) {
	p.baseURL = baseURL
}

func (p *CustomSearchProbe) Name() string { return "custom_search" }

// Check issues a site: search for the exact URL and scans result links for a
// match.
func (p *CustomSearchProbe) Check(ctx context.Context, rawURL string) (Result, error) {
	if p.apiKey == "" || p.engineID == "" {
		return Result{Verdict: VerdictUnknown, Probe: p.Name()}, nil
	}

	result, err := p.breakers.Execute(circuitbreaker.ServiceCustomSearch, func() (interface{}, error) {
		query := url.Values{}
		query.Set("key", p.apiKey)
		query.Set("cx", p.engineID)
		query.Set("q", "site:"+rawURL)
		query.Set("num", "10")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("custom search returned %d", resp.StatusCode)
		}

		var payload struct {
			Items []struct {
				Link    string `json:"link"`
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"items"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Items {
			if sameURL(item.Link, rawURL) {
				return Result{
					Verdict: VerdictYes,
					Probe:   p.Name(),
					Title:   item.Title,
					Snippet: item.Snippet,
				}, nil
			}
		}
		// A site: query returns nothing for a page outside the index
		return Result{Verdict: VerdictNo, Probe: p.Name()}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("probes: custom search %s: %w", rawURL, err)
	}
	return result.(Result), nil
}

// sameURL compares URLs ignoring scheme, a www prefix and a trailing slash.
func sameURL(a, b string) bool {
	return canonicalURL(a) == canonicalURL(b)
}

func canonicalURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
	path := strings.TrimSuffix(parsed.Path, "/")
	return host + path + "?" + parsed.RawQuery
}
