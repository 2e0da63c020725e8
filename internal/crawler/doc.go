// Package crawler discovers the pages of one site for accessibility audits.
//
// # Phases
//
// An Orchestrator runs each crawl through a fixed sequence of phases:
//
//	SITEMAP -> AUTH -> TRAVERSAL -> INTERACTIVE -> MERGE
//
// SITEMAP reads robots.txt and the first sitemap that lists same-host
// URLs. AUTH sets up an authenticated session when enabled. TRAVERSAL is a
// breadth-first walk from the root URL bounded by depth and page count.
// INTERACTIVE opens a sample of the traversed pages in a browser and fetches
// the routes found by clicking and expanding elements. MERGE adds the
// sitemap pages traversal never visited.
//
// # Pacing
//
// Fetches are strictly sequential. Two consecutive traversal or interactive
// fetches are separated by the configured delay, so the delay is also the
// crawl's request rate.
//
// # Failures
//
// Only setup problems fail a crawl: a malformed root URL, or authentication
// requested with no way to obtain it. Per-page failures are recorded in the
// report and the crawl continues. Browser resources are released on every
// exit path.
//
// # Usage
//
//	o := crawler.New(crawler.WithMaxDepth(2), crawler.WithLauncher(&browser.RodLauncher{}))
//	report, err := o.Crawl(ctx, "https://example.com/", "smoke")
package crawler
