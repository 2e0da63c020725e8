// Package config provides the crawl configuration, its defaults and the
// per-domain site file (.a11ycrawl) with crawl overrides and auth blocks.
package config
