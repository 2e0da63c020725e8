// Package model defines the data structures shared by the crawler, the
// authentication subsystem, and the report writers.
//
// This package contains the following main types:
//   - PageRecord: One discovered page in the final result
//   - ErrorRecord: One per-page failure, append-only during a crawl
//   - FrontierEntry: A discovered-but-not-yet-fetched URL
//   - CrawlReport: The artifact written at the end of a crawl
//
// Models are plain data. They carry no behavior beyond small accessors so
// that every package can depend on them without import cycles.
package model
