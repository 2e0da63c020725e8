package explorer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/discovery"
)

const (
	// DefaultSettleDelay is waited after load and after each click.
	DefaultSettleDelay = 1500 * time.Millisecond

	// DefaultMaxExpand bounds the collapsed elements opened per selector.
	DefaultMaxExpand = 10

	// maxScriptRoutes bounds the paths read from route tables.
	maxScriptRoutes = 200
)

// Category is a group of selectors clicked with a shared budget.
type Category struct {
	Name      string
	Selectors []string

	// MaxClicks is the click budget of the whole category.
	MaxClicks int
}

// DefaultCategories are tried in order.
var DefaultCategories = []Category{
	{
		Name:      "navigation",
		Selectors: []string{"nav a", "header a", "[role=navigation] a", ".navbar a", ".menu a"},
		MaxClicks: 5,
	},
	{
		Name:      "admin-navigation",
		Selectors: []string{".sidebar a", "aside a", ".admin-menu a", ".side-nav a", ".nav-link"},
		MaxClicks: 5,
	},
	{
		Name: "dropdowns",
		Selectors: []string{
			".dropdown-toggle", "[data-toggle=dropdown]", "[data-bs-toggle=dropdown]",
			"[aria-haspopup=true]", "details > summary", ".accordion-button",
		},
		MaxClicks: 3,
	},
	{
		Name:      "buttons",
		Selectors: []string{"button[onclick]", "[role=button][onclick]", "a[onclick]", "[ng-click]"},
		MaxClicks: 3,
	},
	{
		Name:      "tabs",
		Selectors: []string{"[role=tab]", ".nav-tabs a", "[data-toggle=tab]", "[data-bs-toggle=tab]"},
		MaxClicks: 3,
	},
}

// expandSelectors match collapsed elements that hide navigation.
var expandSelectors = []string{
	`[aria-expanded="false"]`,
	"[data-target]",
	"[data-bs-target]",
	`[data-toggle="collapse"]`,
}

// routeTableScript collects quoted absolute paths from global variables
// whose names suggest routing.
const routeTableScript = `() => {
	const out = [];
	const pattern = /route|router|path|nav|menu|sitemap|url/i;
	for (const name of Object.keys(window)) {
		if (!pattern.test(name)) continue;
		let json;
		try { json = JSON.stringify(window[name]); } catch (e) { continue; }
		if (typeof json !== "string") continue;
		const re = /"(\/[A-Za-z0-9_\-\/.~%]*)"/g;
		let m;
		while ((m = re.exec(json)) !== null) {
			out.push(m[1]);
			if (out.length >= 200) return out;
		}
	}
	return out;
}`

// Explorer drives one browser page at a time.
type Explorer struct {
	engine     *discovery.Engine
	categories []Category
	settle     time.Duration
	maxExpand  int
	logger     *slog.Logger
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithCategories replaces the click categories.
func WithCategories(c []Category) Option {
	return func(e *Explorer) { e.categories = c }
}

// WithSettleDelay sets the wait after load and after each click.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Explorer) { e.settle = d }
}

// WithMaxExpand bounds the collapsed elements opened per selector.
func WithMaxExpand(n int) Option {
	return func(e *Explorer) { e.maxExpand = n }
}

// WithEngine sets the link engine used to re-scan expanded markup.
func WithEngine(engine *discovery.Engine) Option {
	return func(e *Explorer) { e.engine = engine }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Explorer) { e.logger = logger }
}

// New creates an Explorer.
func New(opts ...Option) *Explorer {
	e := &Explorer{
		engine:     discovery.NewEngine(),
		categories: DefaultCategories,
		settle:     DefaultSettleDelay,
		maxExpand:  DefaultMaxExpand,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// routeSet keeps same-host routes in discovery order. Requests are
// observed on another goroutine, so it is locked.
type routeSet struct {
	mu     sync.Mutex
	root   *url.URL
	seen   map[string]bool
	routes []string
}

func newRouteSet(root *url.URL) *routeSet {
	return &routeSet{
		root: root,
		// The explored page itself is never a new route.
		seen:   map[string]bool{discovery.Canonicalize(root.String()): true},
		routes: make([]string, 0),
	}
}

// add records rawURL as given when it is a new same-host page URL.
func (s *routeSet) add(rawURL string) bool {
	abs := discovery.Resolve(s.root, rawURL)
	if abs == "" || !discovery.SameHost(s.root, abs) {
		return false
	}
	u, err := url.Parse(abs)
	if err != nil || !discovery.ValidPath(u.Path) {
		return false
	}
	key := discovery.Canonicalize(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.routes = append(s.routes, abs)
	return true
}

// ignore marks links as already known.
func (s *routeSet) ignore(links []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		s.seen[discovery.Canonicalize(l)] = true
	}
}

func (s *routeSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.routes))
	copy(out, s.routes)
	return out
}

// Explore opens rawURL in page and returns the same-host routes it
// surfaced, excluding links already present in the loaded markup.
// Routes are returned as found, in order: click targets, links revealed
// by expansion, route table paths, then observed requests.
// It never fails; an unusable page yields an empty result.
func (e *Explorer) Explore(ctx context.Context, page browser.Page, rawURL string) []string {
	root, err := url.Parse(rawURL)
	if err != nil || root.Host == "" {
		return []string{}
	}
	routes := newRouteSet(root)

	var requests []string
	var reqMu sync.Mutex
	stop := page.ObserveRequests(ctx, func(u string) {
		reqMu.Lock()
		requests = append(requests, u)
		reqMu.Unlock()
	})
	defer stop()

	if _, err := page.Navigate(ctx, rawURL); err != nil {
		e.logger.Debug("interactive load failed", "url", rawURL, "error", err)
		return routes.list()
	}
	e.settleQuietly(ctx, page)

	// Links present before any interaction belong to static discovery.
	if html, err := page.HTML(ctx); err == nil {
		routes.ignore(e.engine.Extract([]byte(html), rawURL))
	}

	for _, c := range e.categories {
		if ctx.Err() != nil {
			break
		}
		e.clickCategory(ctx, page, rawURL, c, routes)
	}

	e.expand(ctx, page, rawURL, routes)
	if html, err := page.HTML(ctx); err == nil {
		for _, link := range e.engine.Extract([]byte(html), rawURL) {
			routes.add(link)
		}
	}

	for _, p := range e.scriptRoutes(ctx, page) {
		routes.add(p)
	}

	stop()
	reqMu.Lock()
	observed := append([]string(nil), requests...)
	reqMu.Unlock()
	for _, u := range observed {
		routes.add(u)
	}

	found := routes.list()
	e.logger.Debug("interactive exploration finished", "url", rawURL, "routes", len(found))
	return found
}

// clickCategory clicks matches of c until its budget is spent. A click
// that moves to another URL is recorded and undone with Back.
func (e *Explorer) clickCategory(ctx context.Context, page browser.Page, rawURL string, c Category, routes *routeSet) {
	budget := c.MaxClicks
	for _, sel := range c.Selectors {
		if budget <= 0 || ctx.Err() != nil {
			return
		}
		n, err := page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		for i := 0; i < n && budget > 0; i++ {
			budget--
			before, err := page.URL(ctx)
			if err != nil {
				return
			}
			if err := page.Click(ctx, sel, i); err != nil {
				e.logger.Debug("click failed", "category", c.Name, "selector", sel, "index", i, "error", err)
				continue
			}
			e.settleQuietly(ctx, page)

			after, err := page.URL(ctx)
			if err != nil || after == before {
				continue
			}
			routes.add(after)
			e.restore(ctx, page, rawURL)
		}
	}
}

// restore returns to rawURL after a navigating click.
func (e *Explorer) restore(ctx context.Context, page browser.Page, rawURL string) {
	if err := page.Back(ctx); err == nil {
		e.settleQuietly(ctx, page)
		if cur, err := page.URL(ctx); err == nil && discovery.Canonicalize(cur) == discovery.Canonicalize(rawURL) {
			return
		}
	}
	if _, err := page.Navigate(ctx, rawURL); err != nil {
		e.logger.Debug("failed to restore page", "url", rawURL, "error", err)
		return
	}
	e.settleQuietly(ctx, page)
}

// expand opens collapsed elements so their links render. An expander that
// navigates is recorded like any other click and undone.
func (e *Explorer) expand(ctx context.Context, page browser.Page, rawURL string, routes *routeSet) {
	for _, sel := range expandSelectors {
		n, err := page.Count(ctx, sel)
		if err != nil {
			continue
		}
		for i := 0; i < n && i < e.maxExpand; i++ {
			if ctx.Err() != nil {
				return
			}
			before, _ := page.URL(ctx)
			if err := page.Click(ctx, sel, i); err != nil {
				continue
			}
			if after, err := page.URL(ctx); err == nil && after != before {
				routes.add(after)
				e.restore(ctx, page, rawURL)
			}
		}
	}
	e.settleQuietly(ctx, page)
}

func (e *Explorer) scriptRoutes(ctx context.Context, page browser.Page) []string {
	raw, err := page.Eval(ctx, routeTableScript)
	if err != nil {
		e.logger.Debug("route table evaluation failed", "error", err)
		return nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil
	}
	if len(paths) > maxScriptRoutes {
		paths = paths[:maxScriptRoutes]
	}
	return paths
}

func (e *Explorer) settleQuietly(ctx context.Context, page browser.Page) {
	if err := page.Settle(ctx, e.settle); err != nil {
		e.logger.Debug("settle interrupted", "error", err)
	}
}
