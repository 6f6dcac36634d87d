package probes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IndexPilot/server/internal/cacheutil"
	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/credentials"
	"github.com/IndexPilot/server/internal/storage"
)

const (
	// DefaultSitesURL lists the Search Console properties a credential can see.
	DefaultSitesURL = "https://www.googleapis.com/webmasters/v3/sites"

	// DefaultInspectURL is the URL Inspection API endpoint.
	DefaultInspectURL = "https://searchconsole.googleapis.com/v1/urlInspection/index:inspect"
)

// InspectionProbe asks the Search Console URL Inspection API whether a URL is
// indexed. It is the authoritative source but only answers for URLs under a
// property the service account has been granted access to; everything else
// comes back unknown so cheaper probes can try.
type InspectionProbe struct {
	pool       *credentials.Pool
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	sitesURL   string
	inspectURL string
	cacheTTL   time.Duration

	mu         sync.RWMutex
	properties map[string]cacheutil.CachedValue[[]string] // credential ID -> property URLs
}

// NewInspectionProbe creates the Search Console inspection probe.
func NewInspectionProbe(pool *credentials.Pool, breakers *circuitbreaker.Manager, httpClient *http.Client, cacheTTL time.Duration) *InspectionProbe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &InspectionProbe{
		pool:       pool,
		breakers:   breakers,
		httpClient: httpClient,
		sitesURL:   DefaultSitesURL,
		inspectURL: DefaultInspectURL,
		cacheTTL:   cacheTTL,
		properties: make(map[string]cacheutil.CachedValue[[]string]),
	}
}

// SetEndpoints overrides the API endpoints. Used by tests.
func (p *InspectionProbe) SetEndpoints(sitesURL, inspectURL string) {
	p.sitesURL = sitesURL
	p.inspectURL = inspectURL
}

func (p *InspectionProbe) Name() string { return "inspection" }

// Check inspects the URL through the least-used pool credential. The verdict
// is unknown when no credential covers the URL's property.
func (p *InspectionProbe) Check(ctx context.Context, rawURL string) (Result, error) {
	credential, err := p.pool.Acquire(ctx)
	if err != nil {
		if err == storage.ErrNoCredentials {
			return Result{Verdict: VerdictUnknown, Probe: p.Name()}, nil
		}
		return Result{}, fmt.Errorf("probes: acquire credential: %w", err)
	}

	property, err := p.matchProperty(ctx, credential, rawURL)
	if err != nil {
		return Result{}, err
	}
	if property == "" {
		return Result{Verdict: VerdictUnknown, Probe: p.Name()}, nil
	}

	token, err := p.pool.AccessToken(ctx, credential)
	if err != nil {
		return Result{}, fmt.Errorf("probes: access token: %w", err)
	}

	verdict, err := p.inspect(ctx, token, credential.ID, rawURL, property)
	if err != nil {
		return Result{}, err
	}
	return Result{Verdict: verdict, Probe: p.Name()}, nil
}

// matchProperty finds a Search Console property of the credential that covers
// the URL. URL-prefix properties match by host, domain properties (sc-domain:)
// match the host or any subdomain.
func (p *InspectionProbe) matchProperty(ctx context.Context, credential storage.Credential, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("probes: parse url %q: %w", rawURL, err)
	}
	host := strings.ToLower(parsed.Hostname())

	properties, err := p.listProperties(ctx, credential)
	if err != nil {
		return "", err
	}

	for _, property := range properties {
		if domain, ok := strings.CutPrefix(property, "sc-domain:"); ok {
			domain = strings.ToLower(domain)
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return property, nil
			}
			continue
		}
		propURL, err := url.Parse(property)
		if err != nil {
			continue
		}
		if strings.EqualFold(propURL.Hostname(), host) {
			return property, nil
		}
	}
	return "", nil
}

// listProperties returns the credential's property list, cached per credential.
func (p *InspectionProbe) listProperties(ctx context.Context, credential storage.Credential) ([]string, error) {
	return cacheutil.ReadThrough(
		&p.mu,
		func(now time.Time) ([]string, bool) {
			entry, ok := p.properties[credential.ID]
			if ok && now.Sub(entry.FetchedAt) < p.cacheTTL {
				return entry.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]string, error) {
			properties, err := p.fetchProperties(ctx, credential)
			if err != nil {
				return nil, err
			}
			p.properties[credential.ID] = cacheutil.CachedValue[[]string]{Value: properties, FetchedAt: now}
			return properties, nil
		},
	)
}

func (p *InspectionProbe) fetchProperties(ctx context.Context, credential storage.Credential) ([]string, error) {
	token, err := p.pool.AccessToken(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("probes: access token: %w", err)
	}

	result, err := p.breakers.Execute(circuitbreaker.ServiceSearchConsole, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sitesURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

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
			p.pool.HandleAPIStatus(ctx, credential.ID, resp.StatusCode)
			return nil, fmt.Errorf("sites list returned %d", resp.StatusCode)
		}

		var payload struct {
			SiteEntry []struct {
				SiteURL string `json:"siteUrl"`
			} `json:"siteEntry"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		properties := make([]string, 0, len(payload.SiteEntry))
		for _, entry := range payload.SiteEntry {
			properties = append(properties, entry.SiteURL)
		}
		return properties, nil
	})
	if err != nil {
		return nil, fmt.Errorf("probes: list properties for %s: %w", credential.ID, err)
	}
	return result.([]string), nil
}

// inspect calls the URL Inspection API and maps the coverage verdict.
// PASS means indexed; NEUTRAL and FAIL mean the page is known but not in the
// index; anything else is unknown.
func (p *InspectionProbe) inspect(ctx context.Context, token, credentialID, rawURL, property string) (Verdict, error) {
	result, err := p.breakers.Execute(circuitbreaker.ServiceSearchConsole, func() (interface{}, error) {
		payload, err := json.Marshal(map[string]string{
			"inspectionUrl": rawURL,
			"siteUrl":       property,
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.inspectURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if err := p.pool.Charge(ctx, credentialID); err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			p.pool.HandleAPIStatus(ctx, credentialID, resp.StatusCode)
			return nil, fmt.Errorf("inspection returned %d", resp.StatusCode)
		}

		var inspection struct {
			InspectionResult struct {
				IndexStatusResult struct {
					Verdict       string `json:"verdict"`
					CoverageState string `json:"coverageState"`
				} `json:"indexStatusResult"`
			} `json:"inspectionResult"`
		}
		if err := json.Unmarshal(body, &inspection); err != nil {
			return nil, err
		}
		return inspection.InspectionResult.IndexStatusResult.Verdict, nil
	})
	if err != nil {
		return VerdictUnknown, fmt.Errorf("probes: inspect %s: %w", rawURL, err)
	}

	switch result.(string) {
	case "PASS":
		return VerdictYes, nil
	case "NEUTRAL", "FAIL":
		return VerdictNo, nil
	default:
		return VerdictUnknown, nil
	}
}
