package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/model"
)

// State is a step of the authentication state machine.
type State string

// Authentication states.
const (
	StateUnauthenticated   State = "UNAUTHENTICATED"
	StateDetecting         State = "DETECTING"
	StateNone              State = "NONE"
	StateLiveSessionLoaded State = "LIVE_SESSION_LOADED"
	StateFormAuthenticated State = "FORM_AUTHENTICATED"
	StateSSOBestEffort     State = "SSO_BEST_EFFORT"
	StateActive            State = "ACTIVE"
	StateExpired           State = "EXPIRED"
	StateAnonymousFallback State = "ANONYMOUS_FALLBACK"
)

// DefaultSettleDelay is waited after submitting a login form.
const DefaultSettleDelay = 2 * time.Second

var (
	defaultUsernameSelectors = []string{
		`input[type="email"]`,
		`input[name="username"]`,
		`input[name="email"]`,
		`input[id="username"]`,
		`input[name="login"]`,
		`input[autocomplete="username"]`,
		`input[type="text"]`,
	}
	defaultPasswordSelectors = []string{
		`input[type="password"]`,
	}
	defaultSubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[name="login"]`,
		`form button`,
	}
)

// Manager owns the authentication of one crawl: it sets up a session,
// routes fetches through it and releases the browser on Cleanup.
//
// Fetch is meant for the crawl's single fetch loop and is not safe for
// concurrent use. State, History and Completeness may be read from any
// goroutine.
type Manager struct {
	cfg         Config
	anonymous   fetcher.Fetcher
	store       *Store
	launcher    browser.Launcher
	launchOpts  browser.LaunchOptions
	detector    LoginSuccessDetector
	fetcherOpts []fetcher.Option
	settle      time.Duration
	logger      *slog.Logger
	onState     func(State)

	session      browser.Session
	page         browser.Page
	auth         fetcher.Fetcher
	pendingLogin bool
	reauthed     bool

	mu            sync.Mutex
	state         State
	history       []State
	reachedActive bool
	bestEffort    bool
	fallbacks     int
	failures      int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore enables live session reuse from s.
func WithStore(s *Store) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithLauncher sets the browser used for form, SSO and live session auth.
func WithLauncher(l browser.Launcher, opts browser.LaunchOptions) ManagerOption {
	return func(m *Manager) {
		m.launcher = l
		m.launchOpts = opts
	}
}

// WithDetector replaces the login success detector for form logins.
func WithDetector(d LoginSuccessDetector) ManagerOption {
	return func(m *Manager) {
		m.detector = d
	}
}

// WithFetcherOptions sets the base options of HTTP fetchers built for
// header-based auth (timeouts, user agent, body limit).
func WithFetcherOptions(opts ...fetcher.Option) ManagerOption {
	return func(m *Manager) {
		m.fetcherOpts = append(m.fetcherOpts, opts...)
	}
}

// WithSettleDelay sets the wait after submitting a login form.
func WithSettleDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.settle = d
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStateHook calls fn on every state transition, in order.
func WithStateHook(fn func(State)) ManagerOption {
	return func(m *Manager) {
		m.onState = fn
	}
}

// NewManager creates a manager for cfg. cfg may be nil when only a stored
// live session is expected. anonymous serves public and fallback fetches.
func NewManager(cfg Config, anonymous fetcher.Fetcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		anonymous: anonymous,
		settle:    DefaultSettleDelay,
		logger:    slog.Default(),
		state:     StateUnauthenticated,
		history:   []State{StateUnauthenticated},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the auth config, possibly nil.
func (m *Manager) Config() Config {
	return m.cfg
}

// AuthType names the configured auth type, or "live_session" / "none".
func (m *Manager) AuthType() string {
	if m.cfg != nil {
		return string(m.cfg.Type())
	}
	if m.session != nil {
		return "live_session"
	}
	return string(TypeNone)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state entered, in order.
func (m *Manager) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Completeness summarizes how much of the site was reachable with
// credentials.
func (m *Manager) Completeness() model.AuthCompleteness {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.reachedActive:
		return model.AuthCompletenessNone
	case m.bestEffort || m.fallbacks > 0 || m.failures > 0:
		return model.AuthCompletenessPartial
	default:
		return model.AuthCompletenessFull
	}
}

// Page returns the authenticated browser page, or nil when auth does not
// use a browser.
func (m *Manager) Page() browser.Page {
	return m.page
}

func (m *Manager) transition(s State) {
	m.mu.Lock()
	m.state = s
	m.history = append(m.history, s)
	if s == StateActive {
		m.reachedActive = true
	}
	hook := m.onState
	m.mu.Unlock()

	m.logger.Debug("auth state", "state", string(s))
	if hook != nil {
		hook(s)
	}
}

// SetupAuthentication obtains a session for root. A stored live session
// for the domain is tried first; otherwise the configured auth type decides.
//
// Failures leave the manager in StateNone, except for SSO, which stays
// best-effort and may still return an error for logging.
func (m *Manager) SetupAuthentication(ctx context.Context, root *url.URL) error {
	m.transition(StateDetecting)
	domain := root.Hostname()
	rootURL := root.String()

	if m.store != nil && m.launcher != nil {
		ls, err := m.store.NewestLiveSession(domain)
		switch {
		case err == nil:
			loadErr := m.loadLiveSession(ctx, rootURL, ls)
			if loadErr == nil {
				return nil
			}
			m.logger.Warn("stored live session rejected", "domain", domain, "error", loadErr)
		case !errors.Is(err, ErrNoSession):
			m.logger.Warn("failed to read live session", "domain", domain, "error", err)
		}
	}

	switch c := m.cfg.(type) {
	case nil:
		m.transition(StateNone)
		return fmt.Errorf("%w for %s", ErrNoConfig, domain)
	case *NoneConfig:
		m.transition(StateNone)
		return nil
	case *BasicConfig:
		if IsSmart(c) && !RequiresAuthentication(rootURL, c) {
			// Public root: log in on the first protected URL.
			m.pendingLogin = true
			return nil
		}
		return m.formLogin(ctx, c)
	case *SSOConfig:
		return m.ssoBestEffort(ctx, rootURL, c.LoginURL)
	case *OAuthConfig:
		if c.Token != "" {
			return m.headerAuth(ctx, rootURL, fetcher.WithHeaders(map[string]string{"Authorization": "Bearer " + c.Token}))
		}
		return m.ssoBestEffort(ctx, rootURL, c.LoginURL)
	case *APIKeyConfig:
		if c.QueryParam != "" {
			return m.headerAuth(ctx, rootURL, fetcher.WithQueryParams(map[string]string{c.QueryParam: c.Key}))
		}
		return m.headerAuth(ctx, rootURL, fetcher.WithHeaders(map[string]string{c.HeaderName(): c.Key}))
	case *CustomConfig:
		var opts []fetcher.Option
		if len(c.Cookies) > 0 {
			opts = append(opts, fetcher.WithCookie(c.CookieHeader()))
		}
		if len(c.Headers) > 0 {
			opts = append(opts, fetcher.WithHeaders(c.Headers))
		}
		return m.headerAuth(ctx, rootURL, opts...)
	default:
		m.transition(StateNone)
		return fmt.Errorf("%w: %T", ErrUnknownAuthType, c)
	}
}

func (m *Manager) ensureBrowser(ctx context.Context) error {
	if m.page != nil {
		return nil
	}
	if m.launcher == nil {
		return errors.New("no browser available for authentication")
	}
	session, err := m.launcher.Launch(ctx, m.launchOpts)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	page, err := session.NewPage(ctx)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("failed to open page: %w", err)
	}
	m.session = session
	m.page = page
	return nil
}

func (m *Manager) loadLiveSession(ctx context.Context, rootURL string, ls *LiveSession) error {
	if ls.Empty() {
		return ErrNoSession
	}
	if err := m.ensureBrowser(ctx); err != nil {
		return err
	}
	if err := m.session.LoadStorageState(ctx, &ls.StorageState); err != nil {
		return fmt.Errorf("failed to load storage state: %w", err)
	}
	pf := &browser.PageFetcher{Page: m.page}
	resp, err := pf.Fetch(ctx, rootURL)
	if err != nil && !errors.Is(err, fetcher.ErrHTTPStatus) {
		return err
	}
	if resp != nil && landedOnLogin(rootURL, resp.FinalURL, m.loginURL()) {
		return fmt.Errorf("%w: root redirected to %s", ErrAuthExpired, resp.FinalURL)
	}
	m.auth = pf
	m.logger.Info("reusing live session", "domain", ls.Domain, "captured_at", ls.CapturedAt)
	m.transition(StateLiveSessionLoaded)
	m.transition(StateActive)
	return nil
}

func (m *Manager) formLogin(ctx context.Context, c *BasicConfig) error {
	if err := m.ensureBrowser(ctx); err != nil {
		m.transition(StateNone)
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if err := m.submitLogin(ctx, c); err != nil {
		m.transition(StateNone)
		return err
	}
	m.auth = &browser.PageFetcher{Page: m.page}
	m.transition(StateFormAuthenticated)
	m.transition(StateActive)
	return nil
}

// submitLogin fills and submits the login form and verifies the result.
func (m *Manager) submitLogin(ctx context.Context, c *BasicConfig) error {
	page := m.page
	if _, err := page.Navigate(ctx, c.LoginURL); err != nil {
		return fmt.Errorf("%w: open login page: %w", ErrLoginFailed, err)
	}

	userSel := firstPresent(ctx, page, c.UsernameSelector, defaultUsernameSelectors)
	passSel := firstPresent(ctx, page, c.PasswordSelector, defaultPasswordSelectors)
	submitSel := firstPresent(ctx, page, c.SubmitSelector, defaultSubmitSelectors)
	if userSel == "" || passSel == "" || submitSel == "" {
		return fmt.Errorf("%w: login form not found on %s", ErrLoginFailed, c.LoginURL)
	}

	if err := page.Input(ctx, userSel, c.Username); err != nil {
		return fmt.Errorf("%w: fill username: %w", ErrLoginFailed, err)
	}
	if err := page.Input(ctx, passSel, c.Password); err != nil {
		return fmt.Errorf("%w: fill password: %w", ErrLoginFailed, err)
	}
	if err := page.Click(ctx, submitSel, 0); err != nil {
		return fmt.Errorf("%w: submit: %w", ErrLoginFailed, err)
	}
	if err := page.Settle(ctx, m.settle); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	ok, err := m.detectorFor(c).Detect(ctx, page, c.LoginURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: no sign of a logged-in page after submitting %s", ErrLoginFailed, c.LoginURL)
	}
	m.logger.Info("form login succeeded", "login_url", c.LoginURL)
	return nil
}

func (m *Manager) detectorFor(c *BasicConfig) LoginSuccessDetector {
	if m.detector != nil {
		return m.detector
	}
	detectors := AnyDetector{SelectorDetector{Selectors: c.SuccessSelectors}, URLChangeDetector{}}
	if c.SuccessURL != "" {
		detectors = append(detectors, successURLDetector(c.SuccessURL))
	}
	return detectors
}

func successURLDetector(successURL string) LoginSuccessDetector {
	return DetectorFunc(func(ctx context.Context, page browser.Page, _ string) (bool, error) {
		current, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		want, err := url.Parse(successURL)
		if err != nil {
			return false, nil
		}
		got, err := url.Parse(current)
		if err != nil {
			return false, nil
		}
		return pathHasPrefix(got.Path, want.Path), nil
	})
}

// firstPresent returns configured when set, else the first candidate
// matching at least one element.
func firstPresent(ctx context.Context, page browser.Page, configured string, candidates []string) string {
	if configured != "" {
		return configured
	}
	for _, sel := range candidates {
		if n, err := page.Count(ctx, sel); err == nil && n > 0 {
			return sel
		}
	}
	return ""
}

func (m *Manager) ssoBestEffort(ctx context.Context, rootURL, loginURL string) error {
	m.mu.Lock()
	m.bestEffort = true
	m.mu.Unlock()
	m.transition(StateSSOBestEffort)

	if err := m.ensureBrowser(ctx); err != nil {
		m.transition(StateAnonymousFallback)
		return err
	}
	m.auth = &browser.PageFetcher{Page: m.page}
	target := rootURL
	if loginURL != "" {
		target = loginURL
	}
	resp, err := m.auth.Fetch(ctx, target)
	switch {
	case err != nil && !errors.Is(err, fetcher.ErrHTTPStatus):
		m.logger.Warn("SSO entry page unreachable, crawling best-effort", "url", target, "error", err)
	case resp != nil && LooksLikeLoginURL(resp.FinalURL, loginURL):
		m.logger.Warn("SSO needs an interactive login; capture a live session with 'auth setup --live' for full coverage",
			"idp_url", resp.FinalURL)
	}
	m.transition(StateActive)
	return nil
}

func (m *Manager) headerAuth(ctx context.Context, rootURL string, extra ...fetcher.Option) error {
	opts := append(slices.Clone(m.fetcherOpts), extra...)
	f, err := fetcher.NewHTTPFetcher(opts...)
	if err != nil {
		m.transition(StateNone)
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	resp, err := f.Fetch(ctx, rootURL)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			m.transition(StateNone)
			return fmt.Errorf("%w: root returned %d", ErrLoginFailed, resp.StatusCode)
		}
		if !errors.Is(err, fetcher.ErrHTTPStatus) {
			m.transition(StateNone)
			return fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}
	}
	if landedOnLogin(rootURL, resp.FinalURL, m.loginURL()) {
		m.transition(StateNone)
		return fmt.Errorf("%w: root redirected to %s", ErrLoginFailed, resp.FinalURL)
	}
	m.auth = f
	m.transition(StateActive)
	return nil
}

func (m *Manager) loginURL() string {
	switch c := m.cfg.(type) {
	case *BasicConfig:
		return c.LoginURL
	case *SSOConfig:
		return c.LoginURL
	case *OAuthConfig:
		return c.LoginURL
	}
	return ""
}

// Fetch fetches rawURL with the session when the URL needs it.
//
// Public URLs of smart configs go through the anonymous fetcher. When a
// protected fetch lands on a login page the session is considered expired:
// form configs re-authenticate once per crawl, smart configs then retry
// anonymously once, and anything else fails with ErrAuthExpired.
func (m *Manager) Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	if !RequiresAuthentication(rawURL, m.cfg) {
		return m.anonymous.Fetch(ctx, rawURL)
	}

	if m.auth == nil && m.pendingLogin {
		m.pendingLogin = false
		if c, ok := m.cfg.(*BasicConfig); ok {
			if err := m.formLogin(ctx, c); err != nil {
				m.countFailure()
				return nil, fmt.Errorf("%w: %w", ErrAuthExpired, err)
			}
		}
	}

	loginURL := m.loginURL()
	if m.auth == nil {
		resp, err := m.anonymous.Fetch(ctx, rawURL)
		if err == nil && IsSmart(m.cfg) && landedOnLogin(rawURL, resp.FinalURL, loginURL) {
			m.countFailure()
			return resp, fmt.Errorf("%w: %s redirected to %s", ErrAuthExpired, rawURL, resp.FinalURL)
		}
		return resp, err
	}

	resp, err := m.auth.Fetch(ctx, rawURL)
	if err != nil || !landedOnLogin(rawURL, resp.FinalURL, loginURL) {
		return resp, err
	}

	m.logger.Warn("session expired", "url", rawURL, "landed_on", resp.FinalURL)
	m.transition(StateExpired)

	if c, ok := m.cfg.(*BasicConfig); ok && !m.reauthed && m.page != nil {
		m.reauthed = true
		if err := m.submitLogin(ctx, c); err == nil {
			m.transition(StateFormAuthenticated)
			m.transition(StateActive)
			retry, err := m.auth.Fetch(ctx, rawURL)
			if err != nil || !landedOnLogin(rawURL, retry.FinalURL, loginURL) {
				return retry, err
			}
			resp = retry
		} else {
			m.logger.Warn("re-authentication failed", "error", err)
		}
	}

	if IsSmart(m.cfg) {
		m.mu.Lock()
		m.fallbacks++
		m.mu.Unlock()
		m.transition(StateAnonymousFallback)
		m.auth = nil
		anon, err := m.anonymous.Fetch(ctx, rawURL)
		if err != nil {
			return anon, err
		}
		if !landedOnLogin(rawURL, anon.FinalURL, loginURL) {
			return anon, nil
		}
		resp = anon
	}

	m.countFailure()
	return nil, fmt.Errorf("%w: %s redirected to %s", ErrAuthExpired, rawURL, resp.FinalURL)
}

func (m *Manager) countFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

// Cleanup releases the browser. It is safe to call more than once and
// after a failed setup.
func (m *Manager) Cleanup() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	m.page = nil
	if _, ok := m.auth.(*browser.PageFetcher); ok {
		m.auth = nil
	}
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
