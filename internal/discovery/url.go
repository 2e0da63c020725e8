package discovery

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// maxPathLength rejects generated or garbage paths.
const maxPathLength = 200

// Canonicalize strips the fragment and lower-cases scheme and host.
// An empty path becomes "/". Two URLs that differ only by fragment
// canonicalize to the same string.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// SameHost reports whether rawURL has the same hostname as root.
func SameHost(root *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || root == nil {
		return false
	}
	return u.Hostname() != "" && strings.EqualFold(u.Hostname(), root.Hostname())
}

var templateSyntax = regexp.MustCompile(`\{\{|\}\}|\$\{|<%|%>|\{[a-zA-Z_]+\}|/:[a-zA-Z_]+`)

// nonHTMLExtensions are file types that never contain a page to audit.
var nonHTMLExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".csv": true, ".txt": true, ".rtf": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".bmp": true, ".avif": true,
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true, ".xml": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".webm": true, ".wav": true, ".ogg": true, ".mov": true,
	".zip": true, ".gz": true, ".tar": true, ".rar": true, ".7z": true, ".dmg": true, ".exe": true,
}

// ValidPath reports whether p looks like a page path worth fetching.
func ValidPath(p string) bool {
	if p == "" {
		return true
	}
	if len(p) > maxPathLength {
		return false
	}
	if templateSyntax.MatchString(p) {
		return false
	}
	return !nonHTMLExtensions[strings.ToLower(path.Ext(p))]
}

// navigable reports whether href can be resolved to a page at all.
func navigable(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:", "ftp:", "file:", "blob:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// resolve turns href into an absolute URL against base. It returns ""
// for non-navigable or non-HTTP targets.
func resolve(base *url.URL, href string) string {
	if !navigable(href) {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// Resolve returns href as an absolute http(s) URL against base, or ""
// when href is not a navigable target.
func Resolve(base *url.URL, href string) string {
	return resolve(base, href)
}
