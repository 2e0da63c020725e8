package auth

import (
	"net/url"
	"slices"
	"strings"
)

// loginPathMarkers are path segments of login and identity-provider pages.
// A marker matches whole segments only: /login and /login.php do, /login-help
// does not.
var loginPathMarkers = []string{
	"/login", "/log-in", "/signin", "/sign-in", "/sso", "/saml", "/cas/login",
	"/oauth", "/oauth2", "/authorize", "/auth/realms", "/adfs/ls", "/idp",
}

// IdentityProviderHosts are hosts (or host suffixes) of common identity
// providers.
var IdentityProviderHosts = []string{
	"login.microsoftonline.com", "accounts.google.com", "okta.com", "oktapreview.com",
	"auth0.com", "onelogin.com", "pingidentity.com", "duosecurity.com",
}

// RequiresAuthentication reports whether rawURL must be fetched with the
// authenticated session.
//
// Configs without path lists protect everything. Otherwise the longest
// matching prefix decides; a tie goes to protected, and a URL matching
// neither list is protected.
func RequiresAuthentication(rawURL string, cfg Config) bool {
	if !IsSmart(cfg) {
		return true
	}
	path := "/"
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}

	protected, public := cfg.Paths()
	p := longestMatch(path, protected)
	q := longestMatch(path, public)
	if q < 0 {
		return true
	}
	return p >= q
}

// longestMatch returns the length of the longest prefix in prefixes that
// matches path on a segment boundary, or -1.
func longestMatch(path string, prefixes []string) int {
	best := -1
	for _, prefix := range prefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		if pathHasPrefix(path, prefix) && len(prefix) > best {
			best = len(prefix)
		}
	}
	return best
}

func pathHasPrefix(path, prefix string) bool {
	if wildcard, ok := strings.CutSuffix(prefix, "*"); ok {
		return strings.HasPrefix(path, wildcard)
	}
	if prefix == "/" || path == prefix {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return strings.HasPrefix(path, prefix+"/")
}

// LooksLikeLoginURL reports whether rawURL is a login page: the configured
// login URL, an identity-provider host or a path with a login marker.
func LooksLikeLoginURL(rawURL, loginURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if loginURL != "" {
		if l, err := url.Parse(loginURL); err == nil && l.Path != "" && l.Path != "/" &&
			strings.EqualFold(l.Hostname(), u.Hostname()) && strings.TrimSuffix(l.Path, "/") == strings.TrimSuffix(u.Path, "/") {
			return true
		}
	}
	if IsIdentityProviderHost(u.Hostname()) {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, marker := range loginPathMarkers {
		if hasPathMarker(path, marker) {
			return true
		}
	}
	return false
}

// hasPathMarker reports whether marker occurs in path starting at a segment
// boundary and ending at "/", "." or the end of the path.
func hasPathMarker(path, marker string) bool {
	for rest := path; ; {
		i := strings.Index(rest, marker)
		if i < 0 {
			return false
		}
		end := i + len(marker)
		if end == len(rest) || rest[end] == '/' || rest[end] == '.' {
			return true
		}
		rest = rest[end:]
	}
}

// IsIdentityProviderHost reports whether host belongs to a known identity
// provider.
func IsIdentityProviderHost(host string) bool {
	host = strings.ToLower(host)
	for _, idp := range IdentityProviderHosts {
		if host == idp || strings.HasSuffix(host, "."+idp) {
			return true
		}
	}
	return strings.HasPrefix(host, "sso.") || strings.HasPrefix(host, "idp.") || strings.HasPrefix(host, "shibboleth.")
}

// landedOnLogin reports whether a fetch of requested ended on a login page
// other than the one requested.
func landedOnLogin(requested, final, loginURL string) bool {
	if final == "" || final == requested {
		return false
	}
	if LooksLikeLoginURL(requested, loginURL) {
		return false
	}
	return LooksLikeLoginURL(final, loginURL)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
