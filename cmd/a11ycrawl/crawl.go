package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vbauerster/mpb/v8"
	"golang.org/x/term"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/config"
	"github.com/nao1215/a11ycrawl/internal/crawler"
	"github.com/nao1215/a11ycrawl/internal/database"
	"github.com/nao1215/a11ycrawl/internal/discovery"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/log"
	"github.com/nao1215/a11ycrawl/internal/metrics"
	"github.com/nao1215/a11ycrawl/internal/model"
	"github.com/nao1215/a11ycrawl/internal/progress"
	"github.com/nao1215/a11ycrawl/internal/report"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url> [url...]",
		Short: "Discover the pages of one or more sites",
		Long: `Crawl discovers the pages of a site for accessibility auditing.

Each crawl runs four phases:
- sitemap: probe /sitemap.xml, /sitemap_index.xml, /sitemaps/sitemap.xml and robots.txt
- traversal: breadth-first same-host link traversal up to --max-depth / --max-pages
- interactive: open a few pages in a browser and click navigation to find
  script-driven routes (disable with --no-interactive)
- merge: add sitemap pages the traversal never reached

Bare host names are crawled over https. The JSON report is written to
--report-dir and recorded in the crawl history.

Examples:
  # Crawl a site with the defaults
  a11ycrawl crawl https://www.example.com

  # Shallow crawl without a browser
  a11ycrawl crawl --max-depth 1 --no-interactive example.com

  # Authenticated crawl with an inline config
  a11ycrawl crawl --use-auth --auth-config '{"authType":"api_key","key":"..."}' https://app.example.com

  # Authenticated crawl using a config stored by "a11ycrawl auth setup"
  a11ycrawl crawl --use-auth https://lms.example.edu

  # Crawl several sites, two at a time
  a11ycrawl crawl --batch 2 --test-name release site1.test site2.test site3.test`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCrawlCmd,
	}

	// Crawl limits
	cmd.Flags().String("test-name", "", "Label of the report (default: the root host)")
	cmd.Flags().IntP("max-depth", "d", config.DefaultMaxDepth, "Maximum link depth (0 = root page only)")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages, "Maximum number of pages visited by traversal")
	cmd.Flags().Duration("delay", config.DefaultDelay, "Pause between two fetches")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Timeout of each page load")
	cmd.Flags().String("user-agent", config.DefaultUserAgent, "User-Agent header")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize, "Number of sites crawled concurrently")

	// Scope
	cmd.Flags().Bool("respect-robots", false, "Skip URLs disallowed by robots.txt")
	cmd.Flags().StringSlice("ignore", nil, "Glob patterns of paths to skip (e.g. /admin/*,*.pdf)")
	cmd.Flags().StringSlice("follow", nil, "Only traverse paths matching these glob patterns")
	cmd.Flags().StringSlice("route-family", nil,
		"Extra route-guess families: "+strings.Join(discovery.BuiltinFamilyNames(), ", "))
	cmd.Flags().Bool("no-guess", false, "Do not probe common routes such as /login or /search")

	// Interactive discovery
	cmd.Flags().Bool("no-interactive", false, "Skip browser-driven interactive discovery")
	cmd.Flags().Int("interactive-pages", config.DefaultInteractivePages, "Number of pages explored interactively")
	cmd.Flags().Int("interactive-max-routes", config.DefaultInteractiveMaxRoutes, "Maximum interactive routes fetched")
	cmd.Flags().Bool("headless", true, "Run the browser without a window")

	// Authentication
	cmd.Flags().Bool("use-auth", false, "Authenticate before crawling")
	cmd.Flags().String("auth-config", "", "Auth config as inline JSON or @file.json (implies --use-auth)")
	cmd.Flags().String("api-url", os.Getenv(config.EnvAPIURL), "Backend URL for stored auth configs (env "+config.EnvAPIURL+")")
	cmd.Flags().String("auth-state-dir", config.AuthStateDir(), "Directory of stored auth configs and live sessions")

	// Output
	cmd.Flags().String("report-dir", config.DefaultReportDir, "Directory of JSON report files")
	cmd.Flags().Bool("no-save", false, "Do not write report files")
	cmd.Flags().BoolP("json", "j", false, "Print the report JSON instead of the summary")
	cmd.Flags().BoolP("markdown", "m", false, "Write a Markdown report next to the JSON file")
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the crawl history database (empty disables history)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Site file path (default: .a11ycrawl in current or home directory)")

	return cmd
}

// crawlRun is one invocation of the crawl command.
type crawlRun struct {
	cfg     *config.Config
	changed map[string]bool
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer

	// launcher drives the browser for auth and interactive discovery.
	launcher browser.Launcher

	// interactiveTerm enables progress bars.
	interactiveTerm bool
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.Verbose)
	slog.SetDefault(logger)

	changed := make(map[string]bool)
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	run := &crawlRun{
		cfg:             cfg,
		changed:         changed,
		logger:          logger,
		stdout:          cmd.OutOrStdout(),
		stderr:          cmd.ErrOrStderr(),
		launcher:        &browser.RodLauncher{Logger: logger},
		interactiveTerm: isTerminal(cmd.ErrOrStderr()),
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	return run.execute(ctx, cancel)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getLogFormatFlag retrieves the log format from the command or its parent.
func getLogFormatFlag(cmd *cobra.Command) string {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			return config.DefaultLogFormat
		}
	}
	return format
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.TestName, err = flags.GetString("test-name"); err != nil {
		return nil, err
	}
	if cfg.MaxDepth, err = flags.GetInt("max-depth"); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, err
	}
	if cfg.Delay, err = flags.GetDuration("delay"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}

	if cfg.RespectRobots, err = flags.GetBool("respect-robots"); err != nil {
		return nil, err
	}
	if cfg.IgnorePatterns, err = flags.GetStringSlice("ignore"); err != nil {
		return nil, err
	}
	if cfg.FollowPatterns, err = flags.GetStringSlice("follow"); err != nil {
		return nil, err
	}
	if cfg.RouteFamilies, err = flags.GetStringSlice("route-family"); err != nil {
		return nil, err
	}
	noGuess, err := flags.GetBool("no-guess")
	if err != nil {
		return nil, err
	}
	cfg.GuessRoutes = !noGuess

	noInteractive, err := flags.GetBool("no-interactive")
	if err != nil {
		return nil, err
	}
	cfg.Interactive = !noInteractive
	if cfg.InteractivePages, err = flags.GetInt("interactive-pages"); err != nil {
		return nil, err
	}
	if cfg.InteractiveMaxRoutes, err = flags.GetInt("interactive-max-routes"); err != nil {
		return nil, err
	}
	if cfg.Headless, err = flags.GetBool("headless"); err != nil {
		return nil, err
	}

	if cfg.UseAuth, err = flags.GetBool("use-auth"); err != nil {
		return nil, err
	}
	if cfg.AuthConfig, err = flags.GetString("auth-config"); err != nil {
		return nil, err
	}
	if cfg.AuthConfig != "" {
		cfg.UseAuth = true
	}
	if cfg.APIURL, err = flags.GetString("api-url"); err != nil {
		return nil, err
	}
	if cfg.AuthStateDir, err = flags.GetString("auth-state-dir"); err != nil {
		return nil, err
	}
	cfg.AuthPassphrase = os.Getenv(config.EnvAuthPassphrase)

	if cfg.ReportDir, err = flags.GetString("report-dir"); err != nil {
		return nil, err
	}
	if cfg.NoSave, err = flags.GetBool("no-save"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogFormat = getLogFormatFlag(cmd)

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	cfg.SiteConfigs, err = loadSiteFile(cfg.ConfigFilePath)
	if err != nil {
		return nil, err
	}

	cfg.Targets = make([]string, 0, len(args))
	for _, arg := range args {
		cfg.Targets = append(cfg.Targets, normalizeTarget(arg))
	}

	return cfg, nil
}

// loadSiteFile loads the site file. If the user explicitly specified a
// path, a missing file is an error; otherwise an empty file is used.
func loadSiteFile(explicitPath string) (*config.File, error) {
	path := config.FindConfigFile(explicitPath)
	if path == "" {
		if explicitPath != "" {
			return nil, fmt.Errorf("configuration file not found: %s", explicitPath)
		}
		return &config.File{Sites: make(map[string]config.SiteConfig)}, nil
	}
	cf, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cf, nil
}

// normalizeTarget prefixes bare host names with https://.
func normalizeTarget(raw string) string {
	target := strings.TrimSpace(raw)
	if target == "" || strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}

// execute runs every crawl and prints the results.
func (r *crawlRun) execute(ctx context.Context, cancel context.CancelFunc) error {
	cfg := r.cfg

	var inline auth.Config
	if cfg.UseAuth && cfg.AuthConfig != "" {
		c, err := auth.LoadConfigArg(cfg.AuthConfig)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalidAuthConfig, err)
		}
		inline = c
	}

	var persisters []crawler.Persister
	if !cfg.NoSave {
		persisters = append(persisters, report.NewFileStore(cfg.ReportDir, report.WithMarkdown(cfg.MarkdownReport)))
	}
	if cfg.DBDir != "" {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			r.logger.Warn("crawl history disabled", "dir", cfg.DBDir, "error", err)
		} else {
			defer db.Close()
			persisters = append(persisters, db)
		}
	}

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.New()
		srv, err := metrics.Listen(cfg.MetricsAddr, collector, r.logger)
		if err != nil {
			return err
		}
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		var wg sync.WaitGroup
		wg.Go(func() {
			if err := srv.Serve(metricsCtx); err != nil {
				r.logger.Error("metrics server failed", "error", err)
			}
		})
		defer wg.Wait()
		defer stopMetrics()
	}

	var bars *mpb.Progress
	if r.interactiveTerm && !cfg.JSONReport {
		bars = mpb.NewWithContext(ctx, mpb.WithOutput(r.stderr), mpb.WithWidth(40))
	}

	store := auth.NewStore(cfg.AuthStateDir, auth.WithSealer(auth.NewSealer(cfg.AuthPassphrase)))

	orchestrators := make(map[string]*crawler.Orchestrator, len(cfg.Targets))
	barSinks := make(map[string]*progress.BarSink, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if _, ok := orchestrators[target]; ok {
			continue
		}
		sinks := progress.MultiSink{progress.LogSink{Logger: r.logger}}
		if collector != nil {
			sinks = append(sinks, collector)
		}
		if bars != nil {
			bar := progress.NewBarSink(bars, hostOf(target))
			barSinks[target] = bar
			sinks = append(sinks, bar)
		}
		o, err := r.newOrchestrator(target, inline, store, sinks, persisters)
		if err != nil {
			for _, bar := range barSinks {
				bar.Abort()
			}
			return err
		}
		orchestrators[target] = o
	}

	batch := crawler.NewBatch(func(root string) *crawler.Orchestrator { return orchestrators[root] },
		crawler.WithConcurrency(cfg.BatchSize),
		crawler.WithBatchLogger(r.logger),
	)

	stopSignals := r.handleSignals(batch, cancel)
	results, err := batch.Run(ctx, cfg.Targets, cfg.TestName)
	stopSignals()

	for root, bar := range barSinks {
		if res := resultFor(results, root); res == nil || res.Report == nil {
			bar.Abort()
		}
	}
	if bars != nil {
		bars.Wait()
	}
	if err != nil {
		return err
	}
	return r.printResults(results)
}

// newOrchestrator builds the orchestrator of one root URL. Site file
// values override the defaults; flags given explicitly override both.
func (r *crawlRun) newOrchestrator(target string, inline auth.Config, store *auth.Store, sink progress.Sink, persisters []crawler.Persister) (*crawler.Orchestrator, error) {
	cfg := r.cfg
	site := cfg.SiteConfigs.GetSiteConfig(hostOf(target))

	maxDepth := cfg.MaxDepth
	if !r.changed["max-depth"] && site.Depth != 0 {
		maxDepth = site.Depth
	}
	maxPages := cfg.MaxPages
	if !r.changed["max-pages"] && site.MaxPages != 0 {
		maxPages = site.MaxPages
	}
	ignore := cfg.IgnorePatterns
	if !r.changed["ignore"] {
		ignore = site.IgnorePatterns
	}
	follow := cfg.FollowPatterns
	if !r.changed["follow"] {
		follow = site.FollowPatterns
	}
	families := cfg.RouteFamilies
	if !r.changed["route-family"] {
		families = site.RouteFamilies
	}

	var engineOpts []discovery.EngineOption
	if cfg.GuessRoutes {
		engineOpts = append(engineOpts, discovery.WithRouteGuesses())
	}
	if len(families) > 0 {
		engineOpts = append(engineOpts, discovery.WithRouteFamilies(families...))
	}

	fetcherOpts := []fetcher.Option{
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithMaxBodySize(cfg.MaxBodySize),
	}
	if site.Cookie != "" {
		fetcherOpts = append(fetcherOpts, fetcher.WithCookie(site.Cookie))
	}
	if len(site.Headers) > 0 {
		fetcherOpts = append(fetcherOpts, fetcher.WithHeaders(site.Headers))
	}

	opts := []crawler.Option{
		crawler.WithMaxDepth(maxDepth),
		crawler.WithMaxPages(maxPages),
		crawler.WithDelay(cfg.Delay),
		crawler.WithTimeout(cfg.Timeout),
		crawler.WithInteractive(cfg.Interactive, cfg.InteractivePages, cfg.InteractiveMaxRoutes),
		crawler.WithHeadless(cfg.Headless),
		crawler.WithLauncher(r.launcher),
		crawler.WithFetcherOptions(fetcherOpts...),
		crawler.WithRespectRobots(cfg.RespectRobots),
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithIgnorePatterns(ignore),
		crawler.WithFollowPatterns(follow),
		crawler.WithEngine(discovery.NewEngine(engineOpts...)),
		crawler.WithSink(sink),
		crawler.WithPersisters(persisters...),
		crawler.WithLogger(r.logger),
	}

	if cfg.UseAuth {
		var siteAuth auth.Config
		data, err := site.AuthJSON()
		if err != nil {
			return nil, fmt.Errorf("invalid auth block for %s: %w", hostOf(target), err)
		}
		if data != nil {
			if siteAuth, err = auth.ParseConfig(data); err != nil {
				return nil, fmt.Errorf("invalid auth block for %s: %w", hostOf(target), err)
			}
		}
		resolver := &auth.Resolver{
			Inline: inline,
			Site:   siteAuth,
			Store:  store,
			Logger: r.logger,
		}
		if cfg.APIURL != "" {
			resolver.Backend = auth.NewBackendClient(cfg.APIURL, nil, r.logger)
		}
		opts = append(opts, crawler.WithAuth(resolver))
	}

	return crawler.New(opts...), nil
}

// handleSignals stops the batch on the first SIGINT/SIGTERM and cancels
// the context on the second. The returned func stops listening.
func (r *crawlRun) handleSignals(batch *crawler.Batch, cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if !stopping {
					stopping = true
					r.logger.Info("received shutdown signal, stopping crawls...")
					fmt.Fprintln(r.stderr, "Stopping after the current page (press Ctrl+C again to abort)...")
					batch.Stop()
					continue
				}
				r.logger.Info("received second shutdown signal, cancelling...")
				cancel()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// printResults writes one summary (or JSON document) per crawl. Setup
// failures are reported on stderr and make the command fail.
func (r *crawlRun) printResults(results []crawler.Result) error {
	var failed []error
	reports := make([]*model.CrawlReport, 0, len(results))
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed = append(failed, fmt.Errorf("%s: %w", res.RootURL, res.Err))
			fmt.Fprintf(r.stderr, "Crawl failed for %s: %v\n", res.RootURL, res.Err)
		case res.Report == nil:
			fmt.Fprintf(r.stderr, "Crawl skipped for %s: stopped before it started\n", res.RootURL)
		default:
			reports = append(reports, res.Report)
		}
	}

	var writer report.Writer
	switch {
	case r.cfg.JSONReport && len(results) == 1:
		writer = report.NewJSONWriter(r.stdout, report.WithPrettyPrint())
	case r.cfg.JSONReport:
		// One document per line for several crawls.
		writer = report.NewJSONWriter(r.stdout)
	default:
		writer = report.NewSimpleWriter(r.stdout, report.WithVerbose(r.cfg.Verbose))
	}
	for i, rep := range reports {
		if i > 0 && !r.cfg.JSONReport {
			fmt.Fprintln(r.stdout)
		}
		if _, err := writer.Write(rep); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	switch len(failed) {
	case 0:
		return nil
	case 1:
		if len(results) == 1 {
			return failed[0]
		}
	}
	return fmt.Errorf("%d of %d crawls failed: %w", len(failed), len(results), errors.Join(failed...))
}

// resultFor returns the result of root, or nil.
func resultFor(results []crawler.Result, root string) *crawler.Result {
	for i := range results {
		if results[i].RootURL == root {
			return &results[i]
		}
	}
	return nil
}

// hostOf returns the lower-case host of rawURL, or rawURL itself when it
// does not parse.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}
