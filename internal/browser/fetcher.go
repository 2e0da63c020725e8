package browser

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nao1215/a11ycrawl/internal/fetcher"
)

// PageFetcher fetches URLs by navigating a single browser page, so every
// request shares the session's cookies and storage.
type PageFetcher struct {
	Page Page
}

// Fetch implements fetcher.Fetcher.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	nav, err := f.Page.Navigate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp := &fetcher.Response{
		URL:          rawURL,
		FinalURL:     nav.URL,
		StatusCode:   nav.StatusCode,
		ContentType:  nav.ContentType,
		LastModified: nav.LastModified,
		Body:         []byte(nav.HTML),
	}
	if resp.FinalURL == "" {
		resp.FinalURL = rawURL
	}
	if nav.StatusCode >= http.StatusBadRequest {
		return resp, fmt.Errorf("%w: %d %s", fetcher.ErrHTTPStatus, nav.StatusCode, http.StatusText(nav.StatusCode))
	}
	return resp, nil
}
