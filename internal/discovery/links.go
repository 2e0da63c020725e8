package discovery

import (
	"bytes"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// scriptRoutePattern matches route-like keys followed by a quoted absolute path.
// It is a text heuristic and never executes script.
var scriptRoutePattern = regexp.MustCompile(`(?:\b|["'])(?:path|route|to|href|url|action|endpoint)["']?\s*:\s*["'](/[^"'\s<>]*)["']`)

// rawAttrPattern drives the regex-only fallback over unparsable markup.
var rawAttrPattern = regexp.MustCompile(`(?i)\b(?:href|src|action|data-href|data-url|data-route)\s*=\s*["']([^"'<>]+)["']`)

// routerAttributes carry navigation targets in common front-end frameworks.
var routerAttributes = []string{
	"data-href", "data-url", "data-link", "data-route", "data-path", "data-to",
	"data-navigate", "ng-href", "routerlink", "to",
}

// Document is the result of analyzing one page.
type Document struct {
	Title     string
	WordCount int

	// Links are absolute same-host URLs in discovery order, without duplicates.
	Links []string
}

// Engine extracts candidate URLs from HTML.
type Engine struct {
	parse    func(io.Reader) (*goquery.Document, error)
	guess    bool
	families []RouteFamily
	custom   []RouteFamily
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRouteGuesses adds the common route family, plus any host-matched
// families, to every extraction.
func WithRouteGuesses() EngineOption {
	return func(e *Engine) { e.guess = true }
}

// WithRouteFamilies enables builtin route families by name and implies
// WithRouteGuesses. Unknown names are ignored.
func WithRouteFamilies(names ...string) EngineOption {
	return func(e *Engine) {
		e.guess = true
		for _, name := range names {
			if f, ok := lookupFamily(strings.TrimSpace(name)); ok {
				e.families = append(e.families, f)
			}
		}
	}
}

// WithFamily adds a custom route family and implies WithRouteGuesses.
func WithFamily(f RouteFamily) EngineOption {
	return func(e *Engine) {
		e.guess = true
		e.custom = append(e.custom, f)
	}
}

// NewEngine creates a link discovery engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{parse: goquery.NewDocumentFromReader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns absolute same-host URLs found in body. It never fails:
// unparsable markup falls back to regex extraction.
func (e *Engine) Extract(body []byte, baseURL string) []string {
	return e.Analyze(body, baseURL).Links
}

// Analyze extracts links together with the page title and word count.
func (e *Engine) Analyze(body []byte, baseURL string) *Document {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return &Document{Links: []string{}}
	}

	c := newCollector(base)
	doc, err := e.parse(bytes.NewReader(body))
	result := &Document{}
	if err != nil {
		e.extractRaw(c, string(body))
	} else {
		result.Title = strings.TrimSpace(doc.Find("title").First().Text())
		result.WordCount = countWords(doc)
		e.extractDocument(c, doc)
	}

	if e.guess {
		for _, guess := range e.guesses(base) {
			c.add(guess)
		}
	}
	result.Links = c.links
	return result
}

func (e *Engine) extractDocument(c *collector, doc *goquery.Document) {
	doc.Find("a[href], area[href], link[href]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "link" && !isNavigationRel(s.AttrOr("rel", "")) {
			return
		}
		c.add(s.AttrOr("href", ""))
	})
	doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		c.add(s.AttrOr("src", ""))
	})
	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		c.add(s.AttrOr("action", ""))
	})
	for _, attr := range routerAttributes {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			v := s.AttrOr(attr, "")
			// Bare words in "to" or data-target are component state, not routes.
			if strings.HasPrefix(v, "/") || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
				c.add(v)
			}
		})
	}
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		extractScriptRoutes(c, s.Text())
	})
}

// extractRaw is the fallback for markup the parser rejected.
func (e *Engine) extractRaw(c *collector, markup string) {
	for _, m := range rawAttrPattern.FindAllStringSubmatch(markup, -1) {
		c.add(m[1])
	}
	extractScriptRoutes(c, markup)
}

func extractScriptRoutes(c *collector, script string) {
	for _, m := range scriptRoutePattern.FindAllStringSubmatch(script, -1) {
		c.add(m[1])
	}
}

// guesses returns route guesses for the host of base.
func (e *Engine) guesses(base *url.URL) []string {
	families := []RouteFamily{CommonFamily}
	families = append(families, e.families...)
	families = append(families, e.custom...)
	for _, f := range builtinFamilies {
		if f.matches(base.Hostname()) {
			families = append(families, f)
		}
	}

	origin := &url.URL{Scheme: base.Scheme, Host: base.Host}
	out := make([]string, 0)
	for _, f := range families {
		for _, p := range f.Paths {
			out = append(out, origin.ResolveReference(&url.URL{Path: p}).String())
		}
	}
	return out
}

func isNavigationRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		switch r {
		case "alternate", "next", "prev", "canonical", "home", "index", "help", "search":
			return true
		}
	}
	return false
}

// countWords counts words in visible body text. Text nodes are counted
// separately so adjacent blocks do not merge into one word.
func countWords(doc *goquery.Document) int {
	n := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if node.Type == html.TextNode {
			n += len(strings.Fields(node.Data))
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, body := range doc.Find("body").Nodes {
		walk(body)
	}
	return n
}

// collector accumulates unique, valid, same-host URLs in order.
type collector struct {
	base  *url.URL
	seen  map[string]bool
	links []string
}

func newCollector(base *url.URL) *collector {
	return &collector{base: base, seen: make(map[string]bool), links: make([]string, 0)}
}

func (c *collector) add(href string) {
	abs := resolve(c.base, href)
	if abs == "" || !SameHost(c.base, abs) {
		return
	}
	u, err := url.Parse(abs)
	if err != nil || !ValidPath(u.Path) {
		return
	}
	key := Canonicalize(abs)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.links = append(c.links, key)
}
