// Package sitemaps discovers a site's existing sitemaps and generates one
// for a project's tracked URLs. Discovery probes the conventional locations
// and follows sitemap indices one level deep.
package sitemaps

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/IndexPilot/server/internal/httputil"
)

// Namespace is the sitemap protocol XML namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// maxSitemapBytes caps how much of a sitemap response we read.
const maxSitemapBytes = 10 << 20

// candidatePaths are probed in order; the first path that yields a parseable
// sitemap wins.
var candidatePaths = []string{
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml",
	"/wp-sitemap.xml",
}

// Sitemap summarises one discovered sitemap file.
type Sitemap struct {
	Location string   `json:"location"`
	URLCount int      `json:"url_count"`
	URLs     []string `json:"urls,omitempty"`
}

// Discovery probes a domain for sitemaps.
type Discovery struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewDiscovery creates a sitemap discovery client. A nil httpClient gets a
// default with a 15s timeout.
func NewDiscovery(httpClient *http.Client, logger zerolog.Logger) *Discovery {
	if httpClient == nil {
		httpClient = httputil.NewClient(15 * time.Second)
	}
	return &Discovery{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "sitemaps").Logger(),
	}
}

// Discover probes the candidate paths on the domain. A sitemap index is
// expanded one level: each referenced child sitemap is fetched and counted.
func (d *Discovery) Discover(ctx context.Context, domain string) ([]Sitemap, error) {
	base, err := normalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	for _, path := range candidatePaths {
		location := base + path
		doc, err := d.fetch(ctx, location)
		if err != nil {
			d.logger.Debug().Str("location", location).Err(err).Msg("sitemaps.candidate_miss")
			continue
		}

		switch {
		case len(doc.children) > 0:
			return d.expandIndex(ctx, location, doc.children), nil
		case len(doc.urls) > 0:
			return []Sitemap{{Location: location, URLCount: len(doc.urls), URLs: doc.urls}}, nil
		default:
			// Parseable but empty; keep probing
			d.logger.Debug().Str("location", location).Msg("sitemaps.candidate_empty")
		}
	}

	return nil, fmt.Errorf("sitemaps: no sitemap found for %s", domain)
}

// expandIndex fetches each child of a sitemap index. Children that fail to
// fetch are reported with a zero count rather than dropped.
func (d *Discovery) expandIndex(ctx context.Context, indexLocation string, children []string) []Sitemap {
	found := []Sitemap{{Location: indexLocation, URLCount: 0}}
	for _, child := range children {
		doc, err := d.fetch(ctx, child)
		if err != nil {
			d.logger.Warn().Str("location", child).Err(err).Msg("sitemaps.child_fetch_failed")
			found = append(found, Sitemap{Location: child})
			continue
		}
		// Nested indices are not followed further
		found = append(found, Sitemap{Location: child, URLCount: len(doc.urls), URLs: doc.urls})
	}
	return found
}

type sitemapDoc struct {
	urls     []string
	children []string
}

func (d *Discovery) fetch(ctx context.Context, location string) (sitemapDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return sitemapDoc{}, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return sitemapDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sitemapDoc{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return sitemapDoc{}, err
	}
	return parseSitemap(body)
}

// parseSitemap handles both document shapes the protocol defines: a urlset
// of page locations and a sitemapindex of child sitemaps.
func parseSitemap(data []byte) (sitemapDoc, error) {
	var urlset struct {
		XMLName xml.Name `xml:"urlset"`
		URLs    []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal(data, &urlset); err == nil {
		doc := sitemapDoc{}
		for _, u := range urlset.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				doc.urls = append(doc.urls, loc)
			}
		}
		return doc, nil
	}

	var index struct {
		XMLName  xml.Name `xml:"sitemapindex"`
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal(data, &index); err != nil {
		return sitemapDoc{}, fmt.Errorf("sitemaps: not a sitemap document: %w", err)
	}
	doc := sitemapDoc{}
	for _, s := range index.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			doc.children = append(doc.children, loc)
		}
	}
	return doc, nil
}

func normalizeDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("sitemaps: domain required")
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	parsed, err := url.Parse(domain)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("sitemaps: invalid domain %q", domain)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
