package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
)

// Classification is the wizard's guess of a site's login style.
type Classification struct {
	Type Type

	// LoginURL is where the login form or identity provider was found.
	LoginURL string

	// Reason explains the guess for the user.
	Reason string
}

var (
	ssoPathMarkers   = []string{"/saml", "/sso", "/cas/login", "/shibboleth", "/adfs/"}
	oauthPathMarkers = []string{"/oauth", "/authorize"}
	loginLinkQueries = []string{`a[href*="login"]`, `a[href*="signin"]`, `a[href*="sign-in"]`}
)

// Classify opens rawURL in page and guesses the authentication style from
// where it lands and what it renders.
func Classify(ctx context.Context, page browser.Page, rawURL string) (*Classification, error) {
	nav, err := page.Navigate(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", rawURL, err)
	}
	final := nav.URL
	if final == "" {
		final = rawURL
	}
	u, err := url.Parse(final)
	if err != nil {
		return nil, fmt.Errorf("invalid landing URL %q: %w", final, err)
	}
	path := strings.ToLower(u.Path)

	if IsIdentityProviderHost(u.Hostname()) {
		return &Classification{Type: TypeSSO, LoginURL: final, Reason: "redirected to identity provider " + u.Hostname()}, nil
	}
	for _, marker := range ssoPathMarkers {
		if strings.Contains(path, marker) {
			return &Classification{Type: TypeSSO, LoginURL: final, Reason: "landed on single sign-on path " + u.Path}, nil
		}
	}
	for _, marker := range oauthPathMarkers {
		if strings.Contains(path, marker) {
			return &Classification{Type: TypeOAuth, LoginURL: final, Reason: "landed on OAuth authorization path " + u.Path}, nil
		}
	}
	if n, err := page.Count(ctx, `input[type="password"]`); err == nil && n > 0 {
		return &Classification{Type: TypeBasic, LoginURL: final, Reason: "page has a password field"}, nil
	}
	for _, q := range loginLinkQueries {
		if n, err := page.Count(ctx, q); err == nil && n > 0 {
			return &Classification{Type: TypeBasic, Reason: "page links to a login page; enter its URL"}, nil
		}
	}
	return &Classification{Type: TypeNone, Reason: "no login form or identity provider found"}, nil
}

// Prompter asks the user for wizard input.
type Prompter interface {
	// Ask returns the answer to label, or def when the answer is empty.
	Ask(label, def string) (string, error)

	// AskSecret reads an answer without echoing it.
	AskSecret(label string) (string, error)

	// Wait blocks until the user confirms message.
	Wait(message string) error
}

// Wizard configures authentication for a site with a person in the loop.
type Wizard struct {
	Launcher browser.Launcher
	Store    *Store
	Prompter Prompter
	Logger   *slog.Logger
}

// WizardResult reports what the wizard saved.
type WizardResult struct {
	Classification *Classification
	Config         Config
	ConfigPath     string
	SessionPath    string
}

// Run classifies rawURL, asks the user to confirm or override the auth
// type and saves either a config or, for SSO/OAuth or when live is set, a
// captured live session.
func (w *Wizard) Run(ctx context.Context, rawURL string, live bool) (*WizardResult, error) {
	root, err := url.Parse(rawURL)
	if err != nil || root.Hostname() == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	domain := root.Hostname()

	class, err := w.classify(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	result := &WizardResult{Classification: class}

	answer, err := w.Prompter.Ask("Auth type (none, basic, sso, saml, oauth, api_key, custom)", string(class.Type))
	if err != nil {
		return nil, err
	}
	authType := Type(strings.ToLower(strings.TrimSpace(answer)))

	loginURL := class.LoginURL
	if authType == TypeSSO || authType == TypeSAML || authType == TypeOAuth || live {
		if loginURL == "" {
			loginURL = rawURL
		}
		path, err := w.captureLive(ctx, domain, loginURL)
		if err != nil {
			return nil, err
		}
		result.SessionPath = path
		if authType == TypeBasic || authType == TypeNone {
			return result, nil
		}
	}

	cfg, err := w.buildConfig(authType, domain, loginURL)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return result, nil
	}
	path, err := w.Store.SaveConfig(cfg)
	if err != nil {
		return nil, err
	}
	result.Config = cfg
	result.ConfigPath = path
	return result, nil
}

func (w *Wizard) classify(ctx context.Context, rawURL string) (*Classification, error) {
	session, err := w.Launcher.Launch(ctx, browser.LaunchOptions{Headless: true, Stealth: true})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return Classify(ctx, page, rawURL)
}

func (w *Wizard) buildConfig(authType Type, domain, loginURL string) (Config, error) {
	b := Base{AuthType: authType, DomainName: domain}
	p := w.Prompter

	switch authType {
	case TypeNone:
		return nil, nil
	case TypeBasic:
		login, err := p.Ask("Login page URL", loginURL)
		if err != nil {
			return nil, err
		}
		user, err := p.Ask("Username", "")
		if err != nil {
			return nil, err
		}
		pass, err := p.AskSecret("Password")
		if err != nil {
			return nil, err
		}
		userSel, err := p.Ask("Username field selector (empty = detect)", "")
		if err != nil {
			return nil, err
		}
		passSel, err := p.Ask("Password field selector (empty = detect)", "")
		if err != nil {
			return nil, err
		}
		cfg := &BasicConfig{Base: b, LoginURL: login, Username: user, Password: pass,
			UsernameSelector: userSel, PasswordSelector: passSel}
		return cfg, validateConfig(cfg)
	case TypeSSO, TypeSAML:
		return &SSOConfig{Base: b, LoginURL: loginURL}, nil
	case TypeOAuth:
		return &OAuthConfig{Base: b, LoginURL: loginURL}, nil
	case TypeAPIKey:
		header, err := p.Ask("Header name", DefaultAPIKeyHeader)
		if err != nil {
			return nil, err
		}
		key, err := p.AskSecret("API key")
		if err != nil {
			return nil, err
		}
		cfg := &APIKeyConfig{Base: b, Header: header, Key: key}
		return cfg, validateConfig(cfg)
	case TypeCustom:
		raw, err := p.AskSecret("Cookie header (name=value; ...)")
		if err != nil {
			return nil, err
		}
		cfg := &CustomConfig{Base: b, Cookies: parseCookieHeader(raw)}
		return cfg, validateConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthType, authType)
	}
}

// captureLive opens a visible browser at loginURL, waits for the user to
// log in and saves the resulting storage state.
func (w *Wizard) captureLive(ctx context.Context, domain, loginURL string) (string, error) {
	session, err := w.Launcher.Launch(ctx, browser.LaunchOptions{Headless: false})
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	if _, err := page.Navigate(ctx, loginURL); err != nil {
		return "", fmt.Errorf("failed to open %s: %w", loginURL, err)
	}
	if err := w.Prompter.Wait("Log in in the browser window, then press Enter"); err != nil {
		return "", err
	}

	state, err := session.StorageState(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture session: %w", err)
	}
	if state.Empty() {
		return "", errors.New("browser holds no cookies or storage; was the login completed?")
	}
	ls := &LiveSession{Domain: domain, CapturedAt: time.Now(), StorageState: *state}
	path, err := w.Store.SaveLiveSession(ls)
	if err != nil {
		return "", err
	}
	if w.Logger != nil {
		w.Logger.Info("live session saved", "domain", domain, "cookies", len(state.Cookies))
	}
	return path, nil
}

func parseCookieHeader(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name != "" {
			cookies[name] = value
		}
	}
	return cookies
}
