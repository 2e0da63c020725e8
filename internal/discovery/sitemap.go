package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nao1215/a11ycrawl/internal/fetcher"
)

// WellKnownSitemaps are probed in this order.
var WellKnownSitemaps = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemaps/sitemap.xml"}

const (
	// maxChildSitemaps bounds how many sitemaps of an index are followed.
	maxChildSitemaps = 20

	// maxSitemapEntries bounds the entries kept from one probe.
	maxSitemapEntries = 5000
)

// SitemapEntry is one URL listed in a sitemap.
type SitemapEntry struct {
	URL          string
	LastModified string
}

// SitemapResult is the outcome of a probe.
type SitemapResult struct {
	// SitemapURL is the sitemap that yielded the entries. Empty when none did.
	SitemapURL string

	// Tried lists the sitemap URLs requested, in order.
	Tried []string

	Entries []SitemapEntry
}

// SitemapProbe locates and reads a site's sitemap.
type SitemapProbe struct {
	fetcher fetcher.Fetcher
	logger  *slog.Logger
}

// NewSitemapProbe creates a probe that fetches through f.
func NewSitemapProbe(f fetcher.Fetcher, logger *slog.Logger) *SitemapProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapProbe{fetcher: f, logger: logger}
}

// Probe tries the well-known locations under root in order, then the
// declared sitemap URLs (from robots.txt). It stops at the first sitemap
// yielding at least one same-host URL. Entry URLs are kept as given.
// Failures are not errors: an unreachable or invalid sitemap just yields nothing.
func (p *SitemapProbe) Probe(ctx context.Context, root *url.URL, declared []string) *SitemapResult {
	result := &SitemapResult{Entries: make([]SitemapEntry, 0)}

	candidates := make([]string, 0, len(WellKnownSitemaps)+len(declared))
	seen := make(map[string]bool)
	origin := &url.URL{Scheme: root.Scheme, Host: root.Host}
	for _, wk := range WellKnownSitemaps {
		candidates = append(candidates, origin.ResolveReference(&url.URL{Path: wk}).String())
	}
	candidates = append(candidates, declared...)

	for _, candidate := range candidates {
		if seen[candidate] || ctx.Err() != nil {
			continue
		}
		seen[candidate] = true
		result.Tried = append(result.Tried, candidate)

		entries := p.read(ctx, root, candidate, 0)
		if len(entries) > 0 {
			result.SitemapURL = candidate
			result.Entries = entries
			p.logger.Debug("sitemap found", "url", candidate, "entries", len(entries))
			return result
		}
	}
	return result
}

// read fetches one sitemap. Sitemap indexes are followed one level deep.
func (p *SitemapProbe) read(ctx context.Context, root *url.URL, sitemapURL string, level int) []SitemapEntry {
	resp, err := p.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		p.logger.Debug("sitemap unavailable", "url", sitemapURL, "error", err)
		return nil
	}

	body, err := maybeGunzip(resp.Body)
	if err != nil {
		p.logger.Debug("sitemap decode failed", "url", sitemapURL, "error", err)
		return nil
	}

	set, index, err := parseSitemap(body)
	if err != nil {
		p.logger.Debug("sitemap parse failed", "url", sitemapURL, "error", err)
		return nil
	}

	entries := make([]SitemapEntry, 0, len(set))
	for _, e := range set {
		if SameHost(root, e.URL) {
			entries = append(entries, e)
		}
		if len(entries) >= maxSitemapEntries {
			return entries
		}
	}

	if level > 0 {
		return entries
	}
	for i, child := range index {
		if i >= maxChildSitemaps || ctx.Err() != nil {
			break
		}
		if !SameHost(root, child) {
			continue
		}
		entries = append(entries, p.read(ctx, root, child, level+1)...)
		if len(entries) >= maxSitemapEntries {
			return entries[:maxSitemapEntries]
		}
	}
	return entries
}

type xmlURLSet struct {
	URLs []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

type xmlSitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// parseSitemap decodes either a urlset or a sitemapindex document.
func parseSitemap(body []byte) ([]SitemapEntry, []string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("no sitemap root element: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "urlset":
			var set xmlURLSet
			if err := dec.DecodeElement(&set, &start); err != nil {
				return nil, nil, err
			}
			entries := make([]SitemapEntry, 0, len(set.URLs))
			for _, u := range set.URLs {
				if loc := strings.TrimSpace(u.Loc); loc != "" {
					entries = append(entries, SitemapEntry{URL: loc, LastModified: strings.TrimSpace(u.LastMod)})
				}
			}
			return entries, nil, nil
		case "sitemapindex":
			var idx xmlSitemapIndex
			if err := dec.DecodeElement(&idx, &start); err != nil {
				return nil, nil, err
			}
			children := make([]string, 0, len(idx.Sitemaps))
			for _, s := range idx.Sitemaps {
				if loc := strings.TrimSpace(s.Loc); loc != "" {
					children = append(children, loc)
				}
			}
			return nil, children, nil
		default:
			return nil, nil, fmt.Errorf("unexpected root element %q", start.Name.Local)
		}
	}
}

// maybeGunzip decompresses .xml.gz payloads served without Content-Encoding.
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(io.LimitReader(gz, 50*1024*1024))
}
