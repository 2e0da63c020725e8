// Package progress defines the events a crawl emits and the sinks that
// consume them.
//
// Events are emitted synchronously, in the order state transitions occur.
// A sink that blocks slows the crawl down; it never reorders events.
package progress
