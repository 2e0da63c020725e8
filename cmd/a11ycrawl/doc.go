// Package main provides the entry point for the a11ycrawl CLI.
//
// a11ycrawl discovers the pages of a web site for accessibility auditing.
// It combines sitemap probing, a breadth-first link traversal and
// browser-driven interactive discovery, optionally behind a login.
//
// Usage:
//
//	a11ycrawl crawl <url> [<url>...]
//	a11ycrawl auth setup <url>
//	a11ycrawl history [domain]
//
// See --help for all available options.
package main
