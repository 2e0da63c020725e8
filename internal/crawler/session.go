package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/discovery"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/model"
	"github.com/nao1215/a11ycrawl/internal/progress"
	"github.com/nao1215/a11ycrawl/internal/robots"
)

// crawlSession is the state of one crawl. It is created by Crawl and never
// shared, so it needs no locking.
type crawlSession struct {
	o       *Orchestrator
	id      string
	root    *url.URL
	rootURL string
	report  *model.CrawlReport
	phase   progress.Phase

	scope     *scope
	robots    *robots.Agent
	anonymous fetcher.Fetcher
	limiter   *rate.Limiter

	manager     *auth.Manager
	authEnabled bool

	// browser is the session opened for interactive discovery when auth
	// did not provide a page.
	browser browser.Session

	frontier []model.FrontierEntry

	// seen holds every canonical URL ever queued; visited those fetched.
	seen    map[string]bool
	visited map[string]bool

	sitemapPages []model.PageRecord
}

func (o *Orchestrator) newSession(root *url.URL, label string) (*crawlSession, error) {
	if label == "" {
		label = root.Hostname()
	}
	anonymous := o.fetcher
	if anonymous == nil {
		opts := append([]fetcher.Option{fetcher.WithTimeout(o.timeout), fetcher.WithLogger(o.logger)}, o.fetcherOpts...)
		f, err := fetcher.NewHTTPFetcher(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP fetcher: %w", err)
		}
		anonymous = f
	}

	rootURL := discovery.Canonicalize(root.String())
	s := &crawlSession{
		o:       o,
		id:      o.newID(),
		root:    root,
		rootURL: rootURL,
		scope: &scope{
			root:           root,
			ignorePatterns: o.ignorePatterns,
			followPatterns: o.followPatterns,
		},
		robots: robots.NewAgent(anonymous,
			robots.WithRespect(o.respectRobots),
			robots.WithUserAgent(o.userAgent),
			robots.WithLogger(o.logger),
		),
		anonymous: anonymous,
		limiter:   rate.NewLimiter(rate.Every(o.delay), 1),
		frontier:  make([]model.FrontierEntry, 0),
		seen:      make(map[string]bool),
		visited:   make(map[string]bool),
	}
	s.report = model.NewCrawlReport(s.id, label, rootURL)
	s.report.Options = model.Options{
		MaxDepth:             o.maxDepth,
		MaxPages:             o.maxPages,
		Delay:                model.DurationOf(o.delay),
		Timeout:              model.DurationOf(o.timeout),
		Interactive:          o.interactive,
		InteractivePages:     o.interactivePages,
		InteractiveMaxRoutes: o.interactiveMaxRoutes,
		Headless:             o.headless,
		UseAuth:              o.resolver != nil,
		RespectRobots:        o.respectRobots,
	}
	return s, nil
}

// prepareAuth resolves the auth config before anything is fetched, so a
// crawl that cannot authenticate fails without touching the site.
func (s *crawlSession) prepareAuth(ctx context.Context) error {
	r := s.o.resolver
	if r == nil {
		return nil
	}
	domain := s.root.Hostname()
	cfg, source, err := r.Resolve(ctx, domain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	if cfg == nil && s.o.launcher == nil {
		return fmt.Errorf("%w: the stored live session for %s needs a browser", ErrAuthUnavailable, domain)
	}

	opts := []auth.ManagerOption{
		auth.WithManagerLogger(s.o.logger),
		auth.WithFetcherOptions(append([]fetcher.Option{fetcher.WithTimeout(s.o.timeout)}, s.o.fetcherOpts...)...),
		auth.WithStateHook(s.onAuthState),
	}
	if r.Store != nil {
		opts = append(opts, auth.WithStore(r.Store))
	}
	if s.o.launcher != nil {
		opts = append(opts, auth.WithLauncher(s.o.launcher, browser.LaunchOptions{Headless: s.o.headless, Stealth: true}))
	}
	opts = append(opts, s.o.managerOpts...)
	s.manager = auth.NewManager(cfg, s.anonymous, opts...)
	s.report.Options.AuthType = s.manager.AuthType()

	s.o.logger.Info("auth config resolved", "domain", domain, "source", string(source), "auth_type", s.manager.AuthType())
	return nil
}

func (s *crawlSession) onAuthState(state auth.State) {
	s.emit(progress.Event{Kind: progress.KindAuthState, Message: string(state)})
}

// runPhase runs fn as phase and reports its start and end.
func (s *crawlSession) runPhase(ctx context.Context, phase progress.Phase, fn func(ctx context.Context)) {
	s.phase = phase
	start := time.Now()
	s.emit(progress.Event{Kind: progress.KindPhaseStart})
	s.o.logger.Debug("phase started", "crawl_id", s.id, "phase", string(phase))

	fn(ctx)

	elapsed := time.Since(start)
	s.emit(progress.Event{Kind: progress.KindPhaseEnd, Elapsed: elapsed})
	s.o.logger.Debug("phase finished", "crawl_id", s.id, "phase", string(phase), "elapsed", elapsed)
}

func (s *crawlSession) emit(e progress.Event) {
	e.Time = time.Now()
	e.CrawlID = s.id
	if e.Phase == "" {
		e.Phase = s.phase
	}
	e.Counters = progress.Counters{
		Requests:   s.report.Summary.TotalRequests,
		Successes:  s.report.Summary.SuccessfulRequests,
		Visited:    len(s.visited),
		Queued:     len(s.frontier),
		Discovered: len(s.report.Pages),
		Errors:     len(s.report.Errors),
	}
	s.o.sink.Emit(e)
}

// sitemapPhase reads robots.txt and collects the sitemap pages. They are
// kept aside, not queued: traversal decides which of them it visits.
func (s *crawlSession) sitemapPhase(ctx context.Context) {
	s.robots.Load(ctx, s.root)

	probe := discovery.NewSitemapProbe(s.anonymous, s.o.logger)
	result := probe.Probe(ctx, s.root, s.robots.Sitemaps())

	known := make(map[string]bool)
	now := time.Now()
	for _, entry := range result.Entries {
		key := discovery.Canonicalize(entry.URL)
		if known[key] || !s.scope.allows(entry.URL) {
			continue
		}
		known[key] = true
		s.sitemapPages = append(s.sitemapPages, model.PageRecord{
			URL:          entry.URL,
			LastModified: entry.LastModified,
			DiscoveredAt: now,
			Source:       model.SourceSitemap,
		})
	}
	s.o.logger.Debug("sitemap probed",
		"crawl_id", s.id,
		"sitemap", result.SitemapURL,
		"tried", len(result.Tried),
		"pages", len(s.sitemapPages),
	)
}

// authPhase sets up authentication. Failures never abort the crawl:
// best-effort types keep auth enabled, everything else falls back to
// anonymous fetching.
func (s *crawlSession) authPhase(ctx context.Context) {
	err := s.manager.SetupAuthentication(ctx, s.root)
	if err == nil {
		s.authEnabled = true
		return
	}
	if bestEffort(s.manager.Config()) {
		s.o.logger.Warn("authentication is best-effort", "crawl_id", s.id, "error", err)
		s.authEnabled = true
		return
	}
	s.o.logger.Warn("authentication failed, crawling anonymously", "crawl_id", s.id, "error", err)
	if cerr := s.manager.Cleanup(); cerr != nil {
		s.o.logger.Warn("failed to release auth browser", "error", cerr)
	}
}

// traversalPhase walks the site breadth-first from the root. The frontier
// is FIFO, so pages are visited in non-decreasing depth order and every
// page is recorded at the depth it was first reached.
func (s *crawlSession) traversalPhase(ctx context.Context) {
	s.seen[s.rootURL] = true
	s.frontier = append(s.frontier, model.FrontierEntry{URL: s.rootURL})

	for len(s.frontier) > 0 && len(s.visited) < s.o.maxPages {
		if s.o.isStopped(ctx) {
			s.report.Stopped = true
			s.emit(progress.Event{Kind: progress.KindStopped, Message: "stop requested"})
			return
		}

		entry := s.frontier[0]
		s.frontier = s.frontier[1:]
		if s.visited[entry.URL] || entry.Depth > s.o.maxDepth {
			continue
		}

		links, ok := s.visit(ctx, entry, model.SourceTraversal)
		if !ok || entry.Depth >= s.o.maxDepth {
			continue
		}
		for _, link := range links {
			s.enqueue(model.FrontierEntry{URL: link, Depth: entry.Depth + 1, ParentURL: entry.URL})
		}
	}
}

// enqueue adds a traversal link unless it was queued before or is out of
// scope.
func (s *crawlSession) enqueue(entry model.FrontierEntry) {
	key := discovery.Canonicalize(entry.URL)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	if !s.scope.allows(key) {
		return
	}
	if u, err := url.Parse(key); err == nil && !s.robots.Allowed(u) {
		s.report.Summary.SkippedByRobots++
		s.o.logger.Debug("disallowed by robots.txt", "url", key)
		return
	}
	entry.URL = key
	s.frontier = append(s.frontier, entry)
}

// visit paces, fetches and records one URL. It returns the page's links
// and whether the fetch succeeded.
func (s *crawlSession) visit(ctx context.Context, entry model.FrontierEntry, source model.Source) ([]string, bool) {
	s.visited[discovery.Canonicalize(entry.URL)] = true

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, false
	}

	s.report.Summary.TotalRequests++
	s.emit(progress.Event{Kind: progress.KindFetchStart, URL: entry.URL, Depth: entry.Depth})

	resp, err := s.fetch(ctx, entry.URL)
	if err != nil {
		s.report.Errors = append(s.report.Errors, model.NewErrorRecord(entry.URL, err))
		s.emit(progress.Event{Kind: progress.KindFetchError, URL: entry.URL, Depth: entry.Depth, Message: err.Error()})
		s.o.logger.Debug("fetch failed", "url", entry.URL, "error", err)
		return nil, false
	}
	s.report.Summary.SuccessfulRequests++

	record := model.PageRecord{
		URL:          entry.URL,
		Depth:        entry.Depth,
		ParentURL:    entry.ParentURL,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.ContentType,
		LastModified: resp.LastModified,
		DiscoveredAt: time.Now(),
		Source:       source,
	}
	var links []string
	if resp.IsHTML() {
		base := resp.FinalURL
		if base == "" {
			base = entry.URL
		}
		doc := s.o.engine.Analyze(resp.Body, base)
		record.Title = doc.Title
		record.WordCount = doc.WordCount
		links = doc.Links
	}
	s.report.Pages = append(s.report.Pages, record)
	if source == model.SourceTraversal && entry.Depth > s.report.Summary.MaxDepthReached {
		s.report.Summary.MaxDepthReached = entry.Depth
	}

	s.emit(progress.Event{Kind: progress.KindFetchOK, URL: entry.URL, Depth: entry.Depth})
	s.emit(progress.Event{Kind: progress.KindPageDiscovered, URL: entry.URL, Depth: entry.Depth, Source: string(source)})
	return links, true
}

func (s *crawlSession) fetch(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.o.timeout)
	defer cancel()
	if s.authEnabled {
		return s.manager.Fetch(ctx, rawURL)
	}
	return s.anonymous.Fetch(ctx, rawURL)
}

// interactivePhase explores a sample of traversed pages in a browser and
// fetches up to interactiveMaxRoutes of the new routes found.
func (s *crawlSession) interactivePhase(ctx context.Context) {
	sample := s.interactiveSample()
	if len(sample) == 0 || s.o.interactiveMaxRoutes <= 0 {
		return
	}
	page, err := s.explorerPage(ctx)
	if err != nil {
		s.o.logger.Warn("interactive discovery skipped", "crawl_id", s.id, "error", err)
		return
	}

	budget := s.o.interactiveMaxRoutes
	for _, parent := range sample {
		if budget <= 0 || s.o.isStopped(ctx) {
			return
		}
		for _, route := range s.o.explorer.Explore(ctx, page, parent.URL) {
			if budget <= 0 || s.o.isStopped(ctx) {
				return
			}
			key := discovery.Canonicalize(route)
			if s.visited[key] || !s.scope.allows(route) {
				continue
			}
			if u, err := url.Parse(key); err == nil && !s.robots.Allowed(u) {
				continue
			}
			budget--
			s.visit(ctx, model.FrontierEntry{URL: route, Depth: parent.Depth + 1, ParentURL: parent.URL}, model.SourceInteractive)
		}
	}
}

// interactiveSample returns the first traversed HTML pages, in BFS order.
func (s *crawlSession) interactiveSample() []model.PageRecord {
	sample := make([]model.PageRecord, 0, s.o.interactivePages)
	for _, p := range s.report.Pages {
		if len(sample) >= s.o.interactivePages {
			break
		}
		ct := strings.ToLower(p.ContentType)
		if p.Source == model.SourceTraversal && (ct == "" || strings.Contains(ct, "html")) {
			sample = append(sample, p)
		}
	}
	return sample
}

// explorerPage reuses the authenticated page so exploration sees what the
// session sees, and otherwise opens a browser of its own.
func (s *crawlSession) explorerPage(ctx context.Context) (browser.Page, error) {
	if s.authEnabled {
		if page := s.manager.Page(); page != nil {
			return page, nil
		}
	}
	if s.o.launcher == nil {
		return nil, errors.New("no browser configured")
	}
	session, err := s.o.launcher.Launch(ctx, browser.LaunchOptions{Headless: s.o.headless, Stealth: true})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.browser = session
	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, nil
}

// mergePhase adds the sitemap pages traversal never visited. A page
// visited by traversal or interactive discovery keeps that record.
func (s *crawlSession) mergePhase(_ context.Context) {
	added := 0
	for _, p := range s.sitemapPages {
		if s.visited[discovery.Canonicalize(p.URL)] {
			continue
		}
		s.report.Pages = append(s.report.Pages, p)
		added++
		s.emit(progress.Event{Kind: progress.KindPageDiscovered, URL: p.URL, Source: string(model.SourceSitemap)})
	}
	s.o.logger.Debug("merged sitemap pages", "crawl_id", s.id, "added", added, "listed", len(s.sitemapPages))
}

// release closes every browser the crawl opened. It is safe to call more
// than once.
func (s *crawlSession) release() {
	if s.manager != nil {
		if err := s.manager.Cleanup(); err != nil {
			s.o.logger.Warn("failed to release auth browser", "crawl_id", s.id, "error", err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.o.logger.Warn("failed to close browser", "crawl_id", s.id, "error", err)
		}
		s.browser = nil
	}
}

// finish fills in the summary and authentication outcome.
func (s *crawlSession) finish() *model.CrawlReport {
	r := s.report
	r.EndTime = time.Now()
	r.Summary.DiscoveredPages = len(r.Pages)
	r.Summary.Errors = len(r.Errors)
	if s.manager != nil {
		r.Authentication = model.AuthSummary{
			Type:         s.manager.AuthType(),
			State:        string(s.manager.State()),
			Completeness: s.manager.Completeness(),
		}
	}
	return r
}
