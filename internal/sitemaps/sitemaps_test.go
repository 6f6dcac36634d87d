package sitemaps

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/IndexPilot/server/internal/storage"
)

const urlsetDoc = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc></url>
  <url><loc>https://example.com/about</loc></url>
  <url><loc>https://example.com/blog/post-1</loc></url>
</urlset>`

func TestDiscoverPlainSitemap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, urlsetDoc)
	}))
	defer server.Close()

	d := NewDiscovery(server.Client(), zerolog.Nop())
	found, err := d.Discover(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one sitemap, got %d", len(found))
	}
	if found[0].URLCount != 3 {
		t.Errorf("expected 3 urls, got %d", found[0].URLCount)
	}
	if !strings.HasSuffix(found[0].Location, "/sitemap.xml") {
		t.Errorf("unexpected location %s", found[0].Location)
	}
}

func TestDiscoverExpandsIndex(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap_index.xml":
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/pages.xml</loc></sitemap>
  <sitemap><loc>%s/posts.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL)
		case "/pages.xml":
			fmt.Fprint(w, urlsetDoc)
		case "/posts.xml":
			fmt.Fprint(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>https://example.com/p1</loc></url></urlset>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	d := NewDiscovery(server.Client(), zerolog.Nop())
	found, err := d.Discover(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	// The index itself plus its two children
	if len(found) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(found), found)
	}
	if found[1].URLCount != 3 || found[2].URLCount != 1 {
		t.Errorf("unexpected child counts: %+v", found)
	}
}

func TestDiscoverFallsThroughCandidates(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path == "/wp-sitemap.xml" {
			fmt.Fprint(w, urlsetDoc)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	d := NewDiscovery(server.Client(), zerolog.Nop())
	found, err := d.Discover(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(found) != 1 || found[0].URLCount != 3 {
		t.Errorf("unexpected result %+v", found)
	}
	if len(requested) != len(candidatePaths) {
		t.Errorf("expected all candidates probed in order, got %v", requested)
	}
}

func TestDiscoverNoSitemap(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	d := NewDiscovery(server.Client(), zerolog.Nop())
	if _, err := d.Discover(context.Background(), server.URL); err == nil {
		t.Fatal("expected an error when no candidate resolves")
	}
}

func TestDiscoverRejectsBadDomain(t *testing.T) {
	d := NewDiscovery(nil, zerolog.Nop())
	if _, err := d.Discover(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty domain")
	}
}

func TestParseSitemapRejectsGarbage(t *testing.T) {
	if _, err := parseSitemap([]byte("<html><body>not a sitemap")); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"https://example.com/some/path", "https://example.com"},
		{"http://example.com", "http://example.com"},
	}
	for _, tc := range tests {
		got, err := normalizeDomain(tc.in)
		if err != nil {
			t.Errorf("normalizeDomain(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenerateForURLs(t *testing.T) {
	indexedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	urls := []storage.URL{
		{Address: "https://example.com/a", IsIndexed: true, UpdatedAt: indexedAt},
		{Address: "https://example.com/b", UpdatedAt: indexedAt},
	}

	body, err := GenerateForURLs(urls)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	doc := string(body)

	if !strings.Contains(doc, `xmlns="`+Namespace+`"`) {
		t.Error("missing sitemap namespace")
	}
	if !strings.Contains(doc, "<loc>https://example.com/a</loc>") ||
		!strings.Contains(doc, "<loc>https://example.com/b</loc>") {
		t.Errorf("missing url entries:\n%s", doc)
	}
	if !strings.Contains(doc, "<lastmod>2026-02-10</lastmod>") {
		t.Errorf("missing lastmod:\n%s", doc)
	}
	if !strings.Contains(doc, "<priority>0.8</priority>") || !strings.Contains(doc, "<priority>0.5</priority>") {
		t.Errorf("indexed urls should rank higher:\n%s", doc)
	}

	// Generated output must itself be discoverable
	parsed, err := parseSitemap(body)
	if err != nil {
		t.Fatalf("round trip parse: %v", err)
	}
	if len(parsed.urls) != 2 {
		t.Errorf("expected 2 urls after reparse, got %d", len(parsed.urls))
	}
}
