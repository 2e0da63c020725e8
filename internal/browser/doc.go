// Package browser drives a real Chrome instance through go-rod.
//
// The crawler, the auth session manager and the interactive explorer only
// see the Launcher, Session and Page interfaces, so tests replace the
// browser with deterministic fakes. Rod is the single implementation used in
// production: one Chrome process per Session, stealth pages by default,
// and storage state (cookies plus local/session storage) that can be exported
// after a login and imported into a later crawl.
//
// CountingLauncher wraps any Launcher and records opened and closed sessions,
// which the crawler checks after cleanup.
package browser
