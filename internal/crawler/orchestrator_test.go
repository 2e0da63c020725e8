package crawler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/browser/browsertest"
	"github.com/nao1215/a11ycrawl/internal/explorer"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/model"
	"github.com/nao1215/a11ycrawl/internal/progress"
)

const siteRoot = "http://site.test/"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// siteFetcher fetches the fake site from a cookie-less browser page.
func siteFetcher(t *testing.T, site *browsertest.Site) fetcher.Fetcher {
	t.Helper()
	session, err := browsertest.NewLauncher(site).Launch(context.Background(), browser.LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	page, err := session.NewPage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return &browser.PageFetcher{Page: page}
}

func newTestOrchestrator(t *testing.T, site *browsertest.Site, opts ...Option) (*Orchestrator, *browser.CountingLauncher) {
	t.Helper()
	launcher := browser.NewCountingLauncher(browsertest.NewLauncher(site))
	base := []Option{
		WithFetcher(siteFetcher(t, site)),
		WithLauncher(launcher),
		WithDelay(0),
		WithExplorer(explorer.New(explorer.WithSettleDelay(0), explorer.WithLogger(discardLogger()))),
		WithIDGenerator(func() string { return "crawl-test" }),
		WithLogger(discardLogger()),
	}
	return New(append(base, opts...)...), launcher
}

// chainSite is / -> /about -> /contact, with /about linking back to /.
func chainSite() *browsertest.Site {
	site := browsertest.NewSite()
	site.Add(siteRoot, `<html><head><title>Home</title></head><body><a href="/about">About</a></body></html>`)
	site.Add("http://site.test/about", `<html><head><title>About</title></head><body><a href="/">Home</a><a href="/contact">Contact</a></body></html>`)
	site.Add("http://site.test/contact", `<html><head><title>Contact</title></head><body>Write to us</body></html>`)
	return site
}

func countVisits(site *browsertest.Site, rawURL string) int {
	n := 0
	for _, v := range site.Visits() {
		if v == rawURL {
			n++
		}
	}
	return n
}

func pageURLs(r *model.CrawlReport) []string {
	urls := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		urls = append(urls, p.URL)
	}
	return urls
}

func TestCrawl_Traversal(t *testing.T) {
	t.Parallel()

	t.Run("records each page once at its first depth", func(t *testing.T) {
		t.Parallel()

		site := chainSite()
		o, _ := newTestOrchestrator(t, site, WithMaxDepth(2), WithMaxPages(10), WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "chain")
		if err != nil {
			t.Fatalf("Crawl() error = %v", err)
		}

		want := []struct {
			url    string
			depth  int
			parent string
			title  string
		}{
			{siteRoot, 0, "", "Home"},
			{"http://site.test/about", 1, siteRoot, "About"},
			{"http://site.test/contact", 2, "http://site.test/about", "Contact"},
		}
		if len(report.Pages) != len(want) {
			t.Fatalf("expected %d pages, got %v", len(want), pageURLs(report))
		}
		for i, w := range want {
			p := report.Pages[i]
			if p.URL != w.url || p.Depth != w.depth || p.ParentURL != w.parent || p.Title != w.title {
				t.Errorf("page %d = %+v, want %+v", i, p, w)
			}
			if p.Source != model.SourceTraversal {
				t.Errorf("page %s source = %s, want traversal", p.URL, p.Source)
			}
		}
		if got := countVisits(site, siteRoot); got != 1 {
			t.Errorf("root fetched %d times, want 1", got)
		}
		if report.Summary.MaxDepthReached != 2 {
			t.Errorf("MaxDepthReached = %d, want 2", report.Summary.MaxDepthReached)
		}
		if report.Summary.TotalRequests != 3 || report.Summary.SuccessfulRequests != 3 {
			t.Errorf("requests = %d/%d, want 3/3", report.Summary.SuccessfulRequests, report.Summary.TotalRequests)
		}
		if report.CrawlID != "crawl-test" || report.TestName != "chain" || report.RootURL != siteRoot {
			t.Errorf("unexpected report identity %q %q %q", report.CrawlID, report.TestName, report.RootURL)
		}
		if report.Summary.DiscoveredPages != 3 || report.Summary.Errors != 0 {
			t.Errorf("summary = %+v", report.Summary)
		}
	})

	t.Run("max depth zero fetches only the root", func(t *testing.T) {
		t.Parallel()

		site := chainSite()
		o, _ := newTestOrchestrator(t, site, WithMaxDepth(0), WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := pageURLs(report); !slices.Equal(got, []string{siteRoot}) {
			t.Errorf("pages = %v, want only the root", got)
		}
		if report.TestName != "site.test" {
			t.Errorf("TestName = %q, want the root host", report.TestName)
		}
	})

	t.Run("max pages bounds the visits", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		var b strings.Builder
		for _, p := range []string{"/p1", "/p2", "/p3", "/p4", "/p5"} {
			b.WriteString(`<a href="` + p + `">` + p + `</a>`)
			site.Add("http://site.test"+p, "<p>page</p>")
		}
		site.Add(siteRoot, b.String())
		o, _ := newTestOrchestrator(t, site, WithMaxPages(3), WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Summary.TotalRequests != 3 || len(report.Pages) != 3 {
			t.Errorf("requests = %d, pages = %v, want 3", report.Summary.TotalRequests, pageURLs(report))
		}
	})

	t.Run("stays on the root host", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add(siteRoot, `<a href="http://other.test/x">x</a><a href="//cdn.test/lib">lib</a><a href="/in">in</a>`)
		site.Add("http://site.test/in", "<p>in</p>")
		site.Add("http://other.test/x", "<p>x</p>")
		o, _ := newTestOrchestrator(t, site, WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range report.Pages {
			if !strings.HasPrefix(p.URL, "http://site.test/") {
				t.Errorf("crawled off-site page %s", p.URL)
			}
		}
		if countVisits(site, "http://other.test/x") != 0 {
			t.Error("fetched a page on another host")
		}
		if report.Page("http://site.test/in") == nil {
			t.Error("expected /in to be crawled")
		}
	})

	t.Run("fragments do not create new pages", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add(siteRoot, `<a href="/about#team">team</a><a href="/about">about</a><a href="#top">top</a>`)
		site.Add("http://site.test/about", "<p>about</p>")
		o, _ := newTestOrchestrator(t, site, WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := pageURLs(report); !slices.Equal(got, []string{siteRoot, "http://site.test/about"}) {
			t.Errorf("pages = %v", got)
		}
	})

	t.Run("ignore patterns skip matching links", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add(siteRoot, `<a href="/admin/users">admin</a><a href="/docs">docs</a>`)
		site.Add("http://site.test/admin/users", "<p>admin</p>")
		site.Add("http://site.test/docs", "<p>docs</p>")
		o, _ := newTestOrchestrator(t, site, WithIgnorePatterns([]string{"/admin/*"}), WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Page("http://site.test/admin/users") != nil {
			t.Error("ignored page was crawled")
		}
		if report.Page("http://site.test/docs") == nil {
			t.Error("expected /docs to be crawled")
		}
	})

	t.Run("failed fetches become error records", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add(siteRoot, `<a href="/missing">missing</a><a href="/ok">ok</a>`)
		site.Add("http://site.test/ok", "<p>ok</p>")
		o, _ := newTestOrchestrator(t, site, WithInteractive(false, 0, 0))

		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Errors) != 1 || report.Errors[0].URL != "http://site.test/missing" {
			t.Fatalf("errors = %+v", report.Errors)
		}
		if report.Page("http://site.test/missing") != nil {
			t.Error("a failed fetch must not be a page record")
		}
		if report.Summary.TotalRequests != 3 || report.Summary.SuccessfulRequests != 2 {
			t.Errorf("summary = %+v", report.Summary)
		}
	})
}

func TestCrawl_Robots(t *testing.T) {
	t.Parallel()

	newSite := func() *browsertest.Site {
		site := browsertest.NewSite()
		site.Add(siteRoot, `<a href="/private/a">a</a><a href="/public">p</a>`)
		site.Add("http://site.test/private/a", "<p>a</p>")
		site.Add("http://site.test/public", "<p>p</p>")
		site.Add("http://site.test/robots.txt", "User-agent: *\nDisallow: /private/\n").ContentType = "text/plain"
		return site
	}

	t.Run("respected", func(t *testing.T) {
		t.Parallel()

		o, _ := newTestOrchestrator(t, newSite(), WithRespectRobots(true), WithInteractive(false, 0, 0))
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Page("http://site.test/private/a") != nil {
			t.Error("disallowed page was crawled")
		}
		if report.Summary.SkippedByRobots != 1 {
			t.Errorf("SkippedByRobots = %d, want 1", report.Summary.SkippedByRobots)
		}
		if len(report.Errors) != 0 {
			t.Errorf("skipped links are not errors: %+v", report.Errors)
		}
	})

	t.Run("ignored by default", func(t *testing.T) {
		t.Parallel()

		o, _ := newTestOrchestrator(t, newSite(), WithInteractive(false, 0, 0))
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Page("http://site.test/private/a") == nil {
			t.Error("expected the disallowed page without robots respect")
		}
	})
}

func TestCrawl_SitemapMerge(t *testing.T) {
	t.Parallel()

	site := chainSite()
	site.Add("http://site.test/sitemap.xml", `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://site.test/about</loc><lastmod>2024-01-01</lastmod></url>
  <url><loc>http://site.test/orphan</loc><lastmod>2024-02-01</lastmod></url>
  <url><loc>http://elsewhere.test/page</loc></url>
</urlset>`).ContentType = "application/xml"

	o, _ := newTestOrchestrator(t, site, WithMaxDepth(1), WithInteractive(false, 0, 0))
	report, err := o.Crawl(context.Background(), siteRoot, "")
	if err != nil {
		t.Fatal(err)
	}

	about := 0
	for _, p := range report.Pages {
		if p.URL == "http://site.test/about" {
			about++
			if p.Source != model.SourceTraversal {
				t.Errorf("/about source = %s, traversal must win over sitemap", p.Source)
			}
		}
	}
	if about != 1 {
		t.Errorf("/about recorded %d times, want 1", about)
	}

	orphan := report.Page("http://site.test/orphan")
	if orphan == nil {
		t.Fatal("expected the sitemap-only page")
	}
	if orphan.Source != model.SourceSitemap || orphan.Depth != 0 || orphan.LastModified != "2024-02-01" {
		t.Errorf("orphan = %+v", orphan)
	}
	if countVisits(site, "http://site.test/orphan") != 0 {
		t.Error("sitemap pages are recorded without being fetched")
	}
	if report.Page("http://elsewhere.test/page") != nil {
		t.Error("sitemap entries on other hosts must be dropped")
	}
	if got := report.CountBySource(model.SourceSitemap); got != 1 {
		t.Errorf("sitemap pages = %d, want 1", got)
	}
}

// interactiveSite hides /spa-route behind a nav click and /r1../r3 in a
// client-side route table.
func interactiveSite() *browsertest.Site {
	site := browsertest.NewSite()
	root := site.Add(siteRoot, `<html><body><nav><a href="javascript:void(0)">Menu</a></nav></body></html>`)
	root.Elements = map[string]int{"nav a": 1}
	root.Clicks = map[string][]string{"nav a": {"http://site.test/spa-route"}}
	root.Eval = map[string]string{"Object.keys(window)": `["/r1","/r2","/r3"]`}
	for _, p := range []string{"/spa-route", "/r1", "/r2", "/r3"} {
		site.Add("http://site.test"+p, "<p>"+p+"</p>")
	}
	return site
}

func TestCrawl_Interactive(t *testing.T) {
	t.Parallel()

	t.Run("records routes found by exploring", func(t *testing.T) {
		t.Parallel()

		o, launcher := newTestOrchestrator(t, interactiveSite())
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}

		spa := report.Page("http://site.test/spa-route")
		if spa == nil {
			t.Fatalf("expected /spa-route, got %v", pageURLs(report))
		}
		if spa.Source != model.SourceInteractive || spa.Depth != 1 || spa.ParentURL != siteRoot {
			t.Errorf("spa-route = %+v", spa)
		}
		if got := report.CountBySource(model.SourceInteractive); got != 4 {
			t.Errorf("interactive pages = %d, want 4", got)
		}
		if opened, closed := launcher.Counts(); opened != 1 || closed != 1 {
			t.Errorf("browser opened %d closed %d, want 1/1", opened, closed)
		}
	})

	t.Run("route budget", func(t *testing.T) {
		t.Parallel()

		o, _ := newTestOrchestrator(t, interactiveSite(), WithInteractive(true, 5, 2))
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := report.CountBySource(model.SourceInteractive); got != 2 {
			t.Errorf("interactive pages = %d, want 2", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		rec := &progress.Recorder{}
		o, launcher := newTestOrchestrator(t, interactiveSite(), WithInteractive(false, 0, 0), WithSink(rec))
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := report.CountBySource(model.SourceInteractive); got != 0 {
			t.Errorf("interactive pages = %d, want 0", got)
		}
		if opened, _ := launcher.Counts(); opened != 0 {
			t.Errorf("browser launched %d times without interactive discovery", opened)
		}
		if kinds := rec.Kinds(progress.PhaseInteractive); len(kinds) != 0 {
			t.Errorf("interactive phase ran: %v", kinds)
		}
	})

	t.Run("skipped without a browser", func(t *testing.T) {
		t.Parallel()

		site := interactiveSite()
		o := New(
			WithFetcher(siteFetcher(t, site)),
			WithDelay(0),
			WithLogger(discardLogger()),
		)
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := report.CountBySource(model.SourceInteractive); got != 0 {
			t.Errorf("interactive pages = %d, want 0", got)
		}
		if len(report.Pages) != 1 {
			t.Errorf("pages = %v", pageURLs(report))
		}
	})
}

// loginSite serves /login, which sets the sid cookie for alice/s3cret, and
// protected pages under /secret.
func loginSite() *browsertest.Site {
	site := browsertest.NewSite()
	site.LoginURL = "http://site.test/login"
	site.AuthCookie = "sid"
	site.Add(siteRoot, `<a href="/secret">secret</a><a href="/secret/more">more</a><a href="/public">public</a>`)
	site.Add("http://site.test/public", "<p>public</p>")
	site.Add("http://site.test/login", `<form><input id="user"><input id="pass"><button id="go"></button></form>`).
		Elements = map[string]int{"#user": 1, "#pass": 1, "#go": 1}
	site.Add("http://site.test/dashboard", `<a href="/logout">Log out</a>`).Protected = true
	site.Add("http://site.test/secret", `<html><head><title>Secret</title></head></html>`).Protected = true
	site.Add("http://site.test/secret/more", `<p>more</p>`).Protected = true

	site.OnClick = func(p *browsertest.Page, selector string, _ int) (bool, error) {
		if selector != "#go" {
			return false, nil
		}
		in := p.Inputs()
		if in["#user"] != "alice" || in["#pass"] != "s3cret" {
			return true, nil
		}
		p.Session().SetCookie(browser.Cookie{Name: "sid", Value: "ok", Path: "/"})
		_, err := p.Navigate(context.Background(), "http://site.test/dashboard")
		return true, err
	}
	return site
}

func smartConfig(password string) *auth.BasicConfig {
	return &auth.BasicConfig{
		Base: auth.Base{
			AuthType:       auth.TypeBasic,
			ProtectedPaths: []string{"/secret"},
			PublicPaths:    []string{"/"},
		},
		LoginURL:         "http://site.test/login",
		Username:         "alice",
		Password:         password,
		UsernameSelector: "#user",
		PasswordSelector: "#pass",
		SubmitSelector:   "#go",
	}
}

func TestCrawl_Auth(t *testing.T) {
	t.Parallel()

	t.Run("smart login reaches protected pages", func(t *testing.T) {
		t.Parallel()

		rec := &progress.Recorder{}
		o, launcher := newTestOrchestrator(t, loginSite(),
			WithAuth(&auth.Resolver{Inline: smartConfig("s3cret")}),
			WithManagerOptions(auth.WithSettleDelay(0)),
			WithInteractive(false, 0, 0),
			WithSink(rec),
		)
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}

		secret := report.Page("http://site.test/secret")
		if secret == nil || secret.Title != "Secret" {
			t.Fatalf("secret = %+v, errors = %+v", secret, report.Errors)
		}
		if len(report.Errors) != 0 {
			t.Errorf("errors = %+v", report.Errors)
		}
		if report.Authentication.Completeness != model.AuthCompletenessFull {
			t.Errorf("completeness = %s, want full", report.Authentication.Completeness)
		}
		if report.Options.AuthType != "basic" || !report.Options.UseAuth {
			t.Errorf("options = %+v", report.Options)
		}
		if opened, closed := launcher.Counts(); opened != 1 || closed != 1 {
			t.Errorf("browser opened %d closed %d, want 1/1", opened, closed)
		}
		if !slices.Contains(rec.Kinds(progress.PhaseTraversal), progress.KindAuthState) {
			t.Error("expected auth state events during traversal")
		}
	})

	t.Run("failed smart login records protected pages as errors", func(t *testing.T) {
		t.Parallel()

		o, launcher := newTestOrchestrator(t, loginSite(),
			WithAuth(&auth.Resolver{Inline: smartConfig("wrong")}),
			WithManagerOptions(auth.WithSettleDelay(0)),
			WithInteractive(false, 0, 0),
		)
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatalf("Crawl() error = %v", err)
		}

		failed := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			failed = append(failed, e.URL)
		}
		slices.Sort(failed)
		if !slices.Equal(failed, []string{"http://site.test/secret", "http://site.test/secret/more"}) {
			t.Errorf("errors = %v", failed)
		}
		if report.Page("http://site.test/public") == nil {
			t.Error("public pages are crawled after a failed login")
		}
		if report.Authentication.Completeness != model.AuthCompletenessNone {
			t.Errorf("completeness = %s, want none", report.Authentication.Completeness)
		}
		if opened, _ := launcher.Counts(); opened != 1 {
			t.Errorf("browser opened %d times, want 1", opened)
		}
		if launcher.Open() != 0 {
			t.Errorf("%d browsers left open", launcher.Open())
		}
	})

	t.Run("failed login falls back to anonymous crawling", func(t *testing.T) {
		t.Parallel()

		cfg := smartConfig("wrong")
		cfg.ProtectedPaths = nil
		cfg.PublicPaths = nil
		o, launcher := newTestOrchestrator(t, loginSite(),
			WithAuth(&auth.Resolver{Inline: cfg}),
			WithManagerOptions(auth.WithSettleDelay(0)),
			WithInteractive(false, 0, 0),
		)
		report, err := o.Crawl(context.Background(), siteRoot, "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Page("http://site.test/public") == nil {
			t.Errorf("pages = %v", pageURLs(report))
		}
		if report.Authentication.Completeness != model.AuthCompletenessNone {
			t.Errorf("completeness = %s, want none", report.Authentication.Completeness)
		}
		if launcher.Open() != 0 {
			t.Errorf("%d browsers left open", launcher.Open())
		}
	})

	t.Run("interactive discovery reuses the authenticated page", func(t *testing.T) {
		t.Parallel()

		site := loginSite()
		site.Docs[siteRoot].Elements = map[string]int{"nav a": 1}
		site.Docs[siteRoot].Clicks = map[string][]string{"nav a": {"http://site.test/public"}}
		cfg := smartConfig("s3cret")
		cfg.ProtectedPaths = nil
		cfg.PublicPaths = nil
		o, launcher := newTestOrchestrator(t, site,
			WithAuth(&auth.Resolver{Inline: cfg}),
			WithManagerOptions(auth.WithSettleDelay(0)),
		)
		if _, err := o.Crawl(context.Background(), siteRoot, ""); err != nil {
			t.Fatal(err)
		}
		if opened, closed := launcher.Counts(); opened != 1 || closed != 1 {
			t.Errorf("browser opened %d closed %d, want 1/1", opened, closed)
		}
	})

	t.Run("no credentials fails before fetching", func(t *testing.T) {
		t.Parallel()

		site := loginSite()
		o, launcher := newTestOrchestrator(t, site, WithAuth(&auth.Resolver{}))
		_, err := o.Crawl(context.Background(), siteRoot, "")
		if !errors.Is(err, ErrAuthUnavailable) {
			t.Fatalf("Crawl() error = %v, want ErrAuthUnavailable", err)
		}
		if visits := site.Visits(); len(visits) != 0 {
			t.Errorf("fetched %v before failing", visits)
		}
		if opened, _ := launcher.Counts(); opened != 0 {
			t.Errorf("browser launched %d times", opened)
		}
	})
}

func TestCrawl_InvalidRoot(t *testing.T) {
	t.Parallel()

	for _, root := range []string{"", "site.test", "/about", "ftp://site.test/", "http://", "mailto:a@site.test"} {
		t.Run(root, func(t *testing.T) {
			t.Parallel()

			o := New(WithLogger(discardLogger()))
			report, err := o.Crawl(context.Background(), root, "")
			if !errors.Is(err, ErrInvalidRootURL) {
				t.Errorf("Crawl(%q) error = %v, want ErrInvalidRootURL", root, err)
			}
			if report != nil {
				t.Error("expected no report")
			}
		})
	}
}

func TestCrawl_Stop(t *testing.T) {
	t.Parallel()

	site := chainSite()
	site.Add("http://site.test/sitemap.xml", `<urlset><url><loc>http://site.test/listed</loc></url></urlset>`).ContentType = "application/xml"

	var o *Orchestrator
	var once sync.Once
	sink := progress.SinkFunc(func(e progress.Event) {
		if e.Kind == progress.KindFetchOK {
			once.Do(o.Stop)
		}
	})
	o, launcher := newTestOrchestrator(t, site, WithSink(sink))

	report, err := o.Crawl(context.Background(), siteRoot, "")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Stopped {
		t.Error("expected a stopped report")
	}
	if report.Summary.TotalRequests != 1 {
		t.Errorf("requests = %d, want 1", report.Summary.TotalRequests)
	}
	if report.Page("http://site.test/listed") == nil {
		t.Error("merge still runs after a stop")
	}
	if launcher.Open() != 0 {
		t.Errorf("%d browsers left open", launcher.Open())
	}

	// The stop applies to one crawl only.
	again, err := o.Crawl(context.Background(), siteRoot, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Stopped || again.Summary.TotalRequests != 3 {
		t.Errorf("second crawl stopped=%v requests=%d", again.Stopped, again.Summary.TotalRequests)
	}
}

func TestCrawl_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sink := progress.SinkFunc(func(e progress.Event) {
		if e.Kind == progress.KindFetchOK {
			cancel()
		}
	})
	o, launcher := newTestOrchestrator(t, chainSite(), WithSink(sink))

	report, err := o.Crawl(ctx, siteRoot, "")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Stopped || len(report.Pages) != 1 {
		t.Errorf("stopped=%v pages=%v", report.Stopped, pageURLs(report))
	}
	if launcher.Open() != 0 {
		t.Errorf("%d browsers left open", launcher.Open())
	}
}

func TestCrawl_Progress(t *testing.T) {
	t.Parallel()

	rec := &progress.Recorder{}
	o, _ := newTestOrchestrator(t, chainSite(), WithSink(rec))
	if _, err := o.Crawl(context.Background(), siteRoot, ""); err != nil {
		t.Fatal(err)
	}

	var phases []progress.Phase
	for _, e := range rec.Events() {
		if e.CrawlID != "crawl-test" {
			t.Errorf("event without crawl id: %+v", e)
		}
		if e.Kind == progress.KindPhaseStart {
			phases = append(phases, e.Phase)
		}
	}
	want := []progress.Phase{progress.PhaseSitemap, progress.PhaseTraversal, progress.PhaseInteractive, progress.PhaseMerge}
	if !slices.Equal(phases, want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}

	kinds := rec.Kinds(progress.PhaseTraversal)
	if n := count(kinds, progress.KindFetchOK); n != 3 {
		t.Errorf("fetch_ok events = %d, want 3", n)
	}
	if kinds[len(kinds)-1] != progress.KindPhaseEnd {
		t.Errorf("last traversal event = %s", kinds[len(kinds)-1])
	}
}

func count(kinds []progress.Kind, k progress.Kind) int {
	n := 0
	for _, got := range kinds {
		if got == k {
			n++
		}
	}
	return n
}

type memoryPersister struct {
	mu      sync.Mutex
	reports []*model.CrawlReport
	err     error
}

func (m *memoryPersister) Persist(_ context.Context, r *model.CrawlReport) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return "memory://" + r.CrawlID, nil
}

func TestCrawl_Persist(t *testing.T) {
	t.Parallel()

	good := &memoryPersister{}
	bad := &memoryPersister{err: errors.New("disk full")}
	o, _ := newTestOrchestrator(t, chainSite(), WithPersisters(bad, good), WithInteractive(false, 0, 0))

	report, err := o.Crawl(context.Background(), siteRoot, "")
	if err != nil {
		t.Fatalf("a failing persister must not fail the crawl: %v", err)
	}
	if len(good.reports) != 1 || good.reports[0] != report {
		t.Errorf("persisted %d reports", len(good.reports))
	}
	if !slices.Equal(report.Artifacts, []string{"memory://crawl-test"}) {
		t.Errorf("artifacts = %v", report.Artifacts)
	}
	if report.EndTime.IsZero() || report.Summary.DiscoveredPages != 3 {
		t.Error("reports are persisted after they are finished")
	}
}
