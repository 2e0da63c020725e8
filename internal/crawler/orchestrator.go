package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/discovery"
	"github.com/nao1215/a11ycrawl/internal/explorer"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/model"
	"github.com/nao1215/a11ycrawl/internal/progress"
)

var (
	// ErrInvalidRootURL is returned by Crawl for a root URL that is not an
	// absolute http(s) URL.
	ErrInvalidRootURL = errors.New("invalid root URL")

	// ErrAuthUnavailable is returned by Crawl when authentication is
	// enabled but no config or stored live session exists for the domain.
	ErrAuthUnavailable = errors.New("authentication requested but no credentials are available")
)

// Persister stores a finished report and returns where it went.
type Persister interface {
	Persist(ctx context.Context, r *model.CrawlReport) (string, error)
}

// Orchestrator runs crawls. Each call to Crawl owns its own state; the
// Orchestrator only holds configuration and the stop flag.
type Orchestrator struct {
	maxDepth             int
	maxPages             int
	delay                time.Duration
	timeout              time.Duration
	interactive          bool
	interactivePages     int
	interactiveMaxRoutes int
	headless             bool

	resolver    *auth.Resolver
	managerOpts []auth.ManagerOption
	launcher    browser.Launcher

	fetcher     fetcher.Fetcher
	fetcherOpts []fetcher.Option

	respectRobots  bool
	userAgent      string
	ignorePatterns []string
	followPatterns []string

	engine     *discovery.Engine
	explorer   *explorer.Explorer
	sink       progress.Sink
	persisters []Persister
	newID      func() string
	logger     *slog.Logger

	stopped atomic.Bool
}

// New creates an Orchestrator. Without options it crawls anonymously with
// the default limits and no browser.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		maxDepth:             DefaultMaxDepth,
		maxPages:             DefaultMaxPages,
		delay:                DefaultDelay,
		timeout:              DefaultTimeout,
		interactive:          true,
		interactivePages:     DefaultInteractivePages,
		interactiveMaxRoutes: DefaultInteractiveMaxRoutes,
		headless:             true,
		sink:                 progress.Nop,
		newID:                uuid.NewString,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = discovery.NewEngine()
	}
	if o.explorer == nil {
		o.explorer = explorer.New(explorer.WithEngine(o.engine), explorer.WithLogger(o.logger))
	}
	return o
}

// Stop asks the running crawl to stop before its next traversal fetch.
// The in-flight fetch completes, interactive discovery is skipped, and the
// crawl still merges, releases its browser and returns a report. A Stop
// before Crawl applies to the next crawl; the flag clears when it returns.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

func (o *Orchestrator) isStopped(ctx context.Context) bool {
	return o.stopped.Load() || ctx.Err() != nil
}

// Crawl discovers the pages of the site at rootURL. label names the report;
// empty means the root host.
//
// Only setup failures are returned as errors (ErrInvalidRootURL,
// ErrAuthUnavailable). Per-page failures are recorded in the report.
func (o *Orchestrator) Crawl(ctx context.Context, rootURL, label string) (*model.CrawlReport, error) {
	root, err := parseRoot(rootURL)
	if err != nil {
		return nil, err
	}
	defer o.stopped.Store(false)

	s, err := o.newSession(root, label)
	if err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.prepareAuth(ctx); err != nil {
		return nil, err
	}

	o.logger.Info("crawl started", "crawl_id", s.id, "root", s.rootURL)

	s.runPhase(ctx, progress.PhaseSitemap, s.sitemapPhase)
	if s.manager != nil {
		s.runPhase(ctx, progress.PhaseAuth, s.authPhase)
	}
	s.runPhase(ctx, progress.PhaseTraversal, s.traversalPhase)
	if o.interactive && !o.isStopped(ctx) {
		s.runPhase(ctx, progress.PhaseInteractive, s.interactivePhase)
	}
	s.runPhase(ctx, progress.PhaseMerge, s.mergePhase)

	s.release()
	report := s.finish()

	o.logger.Info("crawl finished",
		"crawl_id", s.id,
		"root", s.rootURL,
		"pages", report.Summary.DiscoveredPages,
		"errors", report.Summary.Errors,
		"max_depth_reached", report.Summary.MaxDepthReached,
		"stopped", report.Stopped,
	)

	o.persist(context.WithoutCancel(ctx), report)
	return report, nil
}

func (o *Orchestrator) persist(ctx context.Context, report *model.CrawlReport) {
	for _, p := range o.persisters {
		location, err := p.Persist(ctx, report)
		if err != nil {
			o.logger.Warn("failed to persist report", "crawl_id", report.CrawlID, "error", err)
			continue
		}
		report.Artifacts = append(report.Artifacts, location)
	}
}

// parseRoot accepts absolute http(s) URLs only.
func parseRoot(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRootURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidRootURL, rawURL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// bestEffort reports whether cfg keeps crawling with auth enabled after
// a failed setup. SSO endpoints may still serve public paths anonymously.
func bestEffort(cfg auth.Config) bool {
	switch c := cfg.(type) {
	case *auth.SSOConfig:
		return true
	case *auth.OAuthConfig:
		return c.Token == ""
	}
	return false
}
