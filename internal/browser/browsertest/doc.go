// Package browsertest provides an in-memory browser for tests.
//
// A Site maps URLs to canned documents. Pages navigate between them, count
// and click elements, evaluate scripts by substring lookup, and replay
// requests to observers. Protected documents redirect to the login URL
// unless the session carries the site's auth cookie.
package browsertest
