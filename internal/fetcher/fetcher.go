package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 5 * 1024 * 1024
	maxRedirects       = 10
)

// ErrHTTPStatus is wrapped by Fetch when the server answers with 4xx or 5xx.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Response is a fetched page.
type Response struct {
	// URL is the requested URL.
	URL string

	// FinalURL is the URL after redirects.
	FinalURL string

	StatusCode   int
	ContentType  string
	LastModified string
	Body         []byte

	// Truncated is set when the body exceeded the size limit.
	Truncated bool
}

// IsHTML reports whether the response carries an HTML document.
// A missing Content-Type is treated as HTML.
func (r *Response) IsHTML() bool {
	ct := strings.ToLower(r.ContentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// HTTPFetcher implements Fetcher with net/http.
type HTTPFetcher struct {
	client      *http.Client
	jar         http.CookieJar
	userAgent   string
	maxBodySize int64
	logger      *slog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*options)

type options struct {
	timeout     time.Duration
	userAgent   string
	maxBodySize int64
	cookie      string
	headers     map[string]string
	query       map[string]string
	transport   http.RoundTripper
	logger      *slog.Logger
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithMaxBodySize limits how many body bytes are read.
func WithMaxBodySize(n int64) Option {
	return func(o *options) { o.maxBodySize = n }
}

// WithCookie adds a raw cookie string ("a=1; b=2") to every request.
func WithCookie(cookie string) Option {
	return func(o *options) { o.cookie = cookie }
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithQueryParams adds query parameters to every request URL.
// API keys passed as ?api_key= use this.
func WithQueryParams(params map[string]string) Option {
	return func(o *options) {
		if o.query == nil {
			o.query = make(map[string]string, len(params))
		}
		for k, v := range params {
			o.query[k] = v
		}
	}
}

// WithTransport replaces the base transport. Tests use it.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(opts ...Option) (*HTTPFetcher, error) {
	o := options{
		timeout:     defaultTimeout,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = defaultTimeout
	}
	if o.maxBodySize <= 0 {
		o.maxBodySize = defaultMaxBodySize
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	base := o.transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	var transport http.RoundTripper = base
	if o.cookie != "" || len(o.headers) > 0 || len(o.query) > 0 {
		transport = &injectingTransport{
			base:    base,
			cookie:  o.cookie,
			headers: o.headers,
			query:   o.query,
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client:      client,
		jar:         jar,
		userAgent:   o.userAgent,
		maxBodySize: o.maxBodySize,
		logger:      o.logger,
	}, nil
}

// Client exposes the underlying HTTP client for robots.txt and sitemap requests.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// SetCookies stores cookies for u in the fetcher's jar.
// Live sessions use it so that anonymous HTTP requests carry the session cookies.
func (f *HTTPFetcher) SetCookies(u *url.URL, cookies []*http.Cookie) {
	f.jar.SetCookies(u, cookies)
}

// Fetch downloads rawURL. 4xx and 5xx responses are returned together with
// an error wrapping ErrHTTPStatus so that callers can still inspect them.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	body, truncated, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	page := &Response{
		URL:          rawURL,
		FinalURL:     finalURL,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		Body:         body,
		Truncated:    truncated,
	}
	if truncated {
		f.logger.Debug("response body truncated", "url", rawURL, "limit", f.maxBodySize)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return page, fmt.Errorf("%w: %d %s", ErrHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return page, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, bool, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, false, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodySize+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodySize {
		return body[:f.maxBodySize], true, nil
	}
	return body, false, nil
}

// injectingTransport adds configured cookies, headers and query parameters
// to requests for the host a fetch started on. Redirect hops to any other
// host are sent without them.
type injectingTransport struct {
	base    http.RoundTripper
	cookie  string
	headers map[string]string
	query   map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *injectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Hostname(), originHost(req)) {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())

	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}
	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}
	if len(t.query) > 0 {
		q := clone.URL.Query()
		for key, value := range t.query {
			q.Set(key, value)
		}
		clone.URL.RawQuery = q.Encode()
	}

	resp, err := t.base.RoundTrip(clone)
	if resp != nil {
		// Keep injected query parameters out of Response.FinalURL.
		resp.Request = req
	}
	return resp, err
}

// originHost returns the hostname of the first request in a redirect chain.
func originHost(req *http.Request) string {
	first := req
	for first.Response != nil && first.Response.Request != nil {
		first = first.Response.Request
	}
	return first.URL.Hostname()
}
