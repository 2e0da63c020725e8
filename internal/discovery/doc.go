// Package discovery finds candidate page URLs for the crawler.
//
// Engine extracts same-host navigable URLs from a page. It combines several
// independent sources and returns their union:
//   - anchor, area and link-tag href attributes
//   - iframe and frame src attributes
//   - form actions
//   - data attributes used by client-side routers (data-href, routerlink, ...)
//   - route literals in inline scripts ("path: '/x'", "to: '/y'", ...)
//   - optional route guesses (WithRouteGuesses, WithRouteFamilies): the
//     common family plus any selected or host-matched families
//
// Every candidate passes a path validity filter that rejects overly long
// paths, unresolved template syntax and non-HTML file extensions. When the
// document cannot be parsed, a regex-only pass over the raw markup takes over
// so one malformed page never stops discovery.
//
// SitemapProbe tries the well-known sitemap locations and returns the URLs of
// the first sitemap that yields at least one same-host entry.
package discovery
