package discovery

import (
	"sort"
	"strings"
)

// RouteFamily is a named set of route guesses. Guesses compensate for
// navigation that only exists in script and is missed by the other sources.
type RouteFamily struct {
	Name  string
	Paths []string

	// HostHints enable the family automatically when the target host
	// contains one of them.
	HostHints []string
}

// CommonFamily is always applied.
var CommonFamily = RouteFamily{
	Name: "common",
	Paths: []string{
		"/dashboard", "/admin", "/settings", "/profile", "/account",
		"/search", "/help", "/contact", "/about", "/sitemap",
	},
}

// builtinFamilies are selectable by name with WithRouteFamilies.
var builtinFamilies = []RouteFamily{
	{
		Name:      "admin",
		Paths:     []string{"/admin/users", "/admin/settings", "/admin/reports", "/users", "/reports", "/preferences", "/notifications"},
		HostHints: []string{"admin", "console", "portal"},
	},
	{
		Name:      "lms",
		Paths:     []string{"/courses", "/calendar", "/grades", "/assignments", "/announcements", "/inbox", "/people", "/modules"},
		HostHints: []string{"lms", "canvas", "moodle", "blackboard", "learn", "course"},
	},
	{
		Name:      "cms",
		Paths:     []string{"/blog", "/news", "/events", "/pages", "/categories", "/tags", "/archive"},
		HostHints: []string{"blog", "news", "cms"},
	},
	{
		Name:      "shop",
		Paths:     []string{"/cart", "/checkout", "/orders", "/products", "/wishlist", "/account/orders"},
		HostHints: []string{"shop", "store", "market"},
	},
	{
		Name:      "docs",
		Paths:     []string{"/docs", "/guides", "/faq", "/support", "/kb"},
		HostHints: []string{"docs", "help", "support", "wiki"},
	},
}

// BuiltinFamilyNames lists the selectable family names.
func BuiltinFamilyNames() []string {
	names := make([]string, 0, len(builtinFamilies))
	for _, f := range builtinFamilies {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// lookupFamily returns the builtin family called name.
func lookupFamily(name string) (RouteFamily, bool) {
	for _, f := range builtinFamilies {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return RouteFamily{}, false
}

// matches reports whether host triggers f automatically.
func (f RouteFamily) matches(host string) bool {
	host = strings.ToLower(host)
	for _, hint := range f.HostHints {
		if strings.Contains(host, hint) {
			return true
		}
	}
	return false
}
