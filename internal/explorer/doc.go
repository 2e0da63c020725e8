// Package explorer finds routes that only appear after interacting with a
// page in a real browser.
//
// The explorer clicks navigation elements, expands collapsed menus, watches
// first-party requests and reads route tables from global script variables.
// Failures are never returned: a page that cannot be explored yields fewer
// routes, nothing more.
package explorer
