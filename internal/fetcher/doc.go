// Package fetcher retrieves pages over plain HTTP for the crawler.
//
// A Fetcher returns a Response for a URL. The HTTPFetcher decodes gzip,
// deflate and brotli bodies, keeps a cookie jar scoped by the public suffix
// list, and injects site cookies, headers and API-key query parameters into
// every request, including redirects. The browser package provides a second
// Fetcher for authenticated sessions.
package fetcher
