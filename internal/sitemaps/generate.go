package sitemaps

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/IndexPilot/server/internal/storage"
)

// Entry is one page in a generated sitemap.
type Entry struct {
	Loc        string
	LastMod    time.Time
	ChangeFreq string
	Priority   string
}

type urlsetXML struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []urlXML `xml:"url"`
}

type urlXML struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Generate renders a urlset document for the given entries.
func Generate(entries []Entry) ([]byte, error) {
	set := urlsetXML{Xmlns: Namespace}
	for _, e := range entries {
		u := urlXML{
			Loc:        e.Loc,
			ChangeFreq: e.ChangeFreq,
			Priority:   e.Priority,
		}
		if !e.LastMod.IsZero() {
			u.LastMod = e.LastMod.UTC().Format("2006-01-02")
		}
		set.URLs = append(set.URLs, u)
	}

	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sitemaps: marshal urlset: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// GenerateForURLs renders a sitemap for a project's tracked URLs. Confirmed
// indexed pages get a higher priority than the rest.
func GenerateForURLs(urls []storage.URL) ([]byte, error) {
	entries := make([]Entry, 0, len(urls))
	for _, u := range urls {
		entry := Entry{
			Loc:        u.Address,
			LastMod:    u.UpdatedAt,
			ChangeFreq: "weekly",
			Priority:   "0.5",
		}
		if u.IsIndexed {
			entry.Priority = "0.8"
		}
		entries = append(entries, entry)
	}
	return Generate(entries)
}
