package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// scope decides which discovered URLs a crawl may fetch.
type scope struct {
	root           *url.URL
	ignorePatterns []string
	followPatterns []string
}

// allows reports whether rawURL is on the root host and passes the
// ignore and follow patterns.
//
// Logic:
//  1. A URL on another host is never fetched
//  2. If the path matches any ignore pattern, skip it
//  3. If follow patterns are set and the path matches none, skip it
//  4. Otherwise, fetch it
func (s *scope) allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), s.root.Hostname()) {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, pattern := range s.ignorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(s.followPatterns) == 0 {
		return true
	}
	for _, pattern := range s.followPatterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//   - a trailing /* to match the directory and everything below it
//
// Examples:
//   - "/admin/*" matches "/admin", "/admin/users" and "/admin/users/42"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/logout*" matches "/logout" and "/logout-all"
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*."); ok {
		if strings.HasSuffix(path, "."+ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	// Bare file patterns like "report-??.html" match the last segment.
	if !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
