package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Source names where a resolved config came from.
type Source string

// Config sources, in resolution order.
const (
	SourceFlag        Source = "flag"
	SourceSiteFile    Source = "site-file"
	SourceBackend     Source = "backend"
	SourceStore       Source = "store"
	SourceLiveSession Source = "live-session"
)

// Resolver finds the auth config of a domain. Every field is optional.
type Resolver struct {
	// Inline is the config given on the command line.
	Inline Config

	// Site is the auth block of the site file for the domain.
	Site Config

	Backend *BackendClient
	Store   *Store
	Logger  *slog.Logger
}

// Resolve returns the first config found for domain: inline, site file,
// backend, then the newest stored config. When none exists but a live
// session is stored, it returns a nil Config with SourceLiveSession.
// Otherwise it fails with ErrNoConfig.
//
// Inline and site configs are copied, so one Resolver can serve several
// domains. Backend and store failures are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, domain string) (Config, Source, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Inline != nil {
		return WithDomain(Clone(r.Inline), domain), SourceFlag, nil
	}
	if r.Site != nil {
		return WithDomain(Clone(r.Site), domain), SourceSiteFile, nil
	}
	if r.Backend != nil {
		cfg, err := r.Backend.FetchConfig(ctx, domain)
		switch {
		case err == nil:
			return cfg, SourceBackend, nil
		case !errors.Is(err, ErrNoConfig):
			logger.Warn("backend auth lookup failed", "domain", domain, "error", err)
		}
	}
	if r.Store != nil {
		cfg, err := r.Store.NewestConfig(domain)
		switch {
		case err == nil:
			return cfg, SourceStore, nil
		case !errors.Is(err, ErrNoConfig):
			logger.Warn("failed to read stored auth config", "domain", domain, "error", err)
		}

		_, err = r.Store.NewestLiveSession(domain)
		switch {
		case err == nil:
			return nil, SourceLiveSession, nil
		case !errors.Is(err, ErrNoSession):
			logger.Warn("failed to read stored live session", "domain", domain, "error", err)
		}
	}
	return nil, "", fmt.Errorf("%w for %s", ErrNoConfig, domain)
}
