// Package robots reads a site's robots.txt once per crawl.
//
// The crawler uses it for two things: Sitemap declarations, which are probed
// after the well-known sitemap locations, and optional Disallow filtering of
// traversal URLs.
package robots
