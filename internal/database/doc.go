// Package database stores crawl history in SQLite.
//
// Every finished crawl is kept as one row of the crawls table, holding the
// summary columns used by `a11ycrawl history` and the full report as JSON,
// plus one row per discovered page in the pages table. The database is a
// single CGO-free file (modernc.org/sqlite) in WAL mode.
package database
