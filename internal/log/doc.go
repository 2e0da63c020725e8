// Package log provides slog-based logging that masks credentials before they
// reach any output.
//
// The crawler handles login passwords, API keys, bearer tokens, cookies and
// captured browser storage state. Any of these can end up as a log attribute
// while debugging an authenticated crawl, so every logger built by this
// package wraps its handler in a SecureHandler that:
//   - masks attributes whose key names a credential (password, cookie, token,
//     api_key, storage_state, ...)
//   - masks values that look like a credential regardless of key (JWT,
//     Bearer/Basic header values, sealed store fields)
//   - masks credential query parameters inside URLs while keeping the rest of
//     the URL readable
//
// Masking also applies in verbose mode.
//
// # Usage
//
//	logger := log.New(os.Stderr, "text", verbose)
//	logger.Debug("fetch", "url", "https://site.test/a?api_key=abc")
//	// url=https://site.test/a?api_key=***REDACTED***
package log
