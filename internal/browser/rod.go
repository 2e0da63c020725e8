package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodLauncher launches local Chrome instances, or connects to a remote one
// when RemoteURL is set.
type RodLauncher struct {
	// RemoteURL is the DevTools WebSocket URL of an existing Chrome.
	RemoteURL string

	Logger *slog.Logger
}

// Launch implements Launcher.
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	if l.RemoteURL != "" {
		wsURL = l.RemoteURL
		logger.Debug("browser: connecting to remote", "url", wsURL)
	} else {
		lnch = launcher.New().
			Context(ctx).
			Headless(opts.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		logger.Debug("browser: launched local chrome", "headless", opts.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	return &rodSession{
		browser:  b,
		launcher: lnch,
		stealth:  opts.Stealth,
		logger:   logger,
	}, nil
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	stealth  bool
	logger   *slog.Logger

	mu      sync.Mutex
	pages   []*rodPage
	origins []OriginStorage
	session map[string]string
	closed  bool
}

func (s *rodSession) NewPage(_ context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var (
		p   *rod.Page
		err error
	)
	if s.stealth {
		p, err = stealth.Page(s.browser)
	} else {
		p, err = s.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if script := seedStorageScript(s.origins, s.session); script != "" {
		if _, err := p.EvalOnNewDocument(script); err != nil {
			s.logger.Warn("browser: seeding storage failed", "error", err)
		}
	}

	rp := &rodPage{page: p}
	s.pages = append(s.pages, rp)
	return rp, nil
}

func (s *rodSession) StorageState(ctx context.Context) (*StorageState, error) {
	s.mu.Lock()
	pages := append([]*rodPage(nil), s.pages...)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	state := &StorageState{
		Cookies: make([]Cookie, 0, len(cookies)),
		Origins: make([]OriginStorage, 0),
	}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	seen := make(map[string]bool)
	for _, p := range pages {
		if p.isClosed() {
			continue
		}
		raw, err := p.Eval(ctx, `() => ({
			origin: location.origin,
			local: Object.fromEntries(Object.entries(localStorage)),
			session: Object.fromEntries(Object.entries(sessionStorage)),
		})`)
		if err != nil {
			continue
		}
		var snap struct {
			Origin  string            `json:"origin"`
			Local   map[string]string `json:"local"`
			Session map[string]string `json:"session"`
		}
		if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.Origin == "" || snap.Origin == "null" {
			continue
		}
		if !seen[snap.Origin] {
			seen[snap.Origin] = true
			state.Origins = append(state.Origins, OriginStorage{Origin: snap.Origin, LocalStorage: snap.Local})
		}
		if len(snap.Session) > 0 {
			if state.SessionStorage == nil {
				state.SessionStorage = make(map[string]string)
			}
			for k, v := range snap.Session {
				state.SessionStorage[k] = v
			}
		}
	}
	return state, nil
}

func (s *rodSession) LoadStorageState(ctx context.Context, state *StorageState) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.origins = append(s.origins, state.Origins...)
	if len(state.SessionStorage) > 0 {
		s.session = state.SessionStorage
	}
	s.mu.Unlock()

	if len(state.Cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	if err := s.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

func (s *rodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, p := range s.pages {
		_ = p.Close()
	}
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	return err
}

// seedStorageScript builds a script that restores local storage for the
// matching origin and session storage on every new document.
func seedStorageScript(origins []OriginStorage, session map[string]string) string {
	if len(origins) == 0 && len(session) == 0 {
		return ""
	}
	byOrigin := make(map[string]map[string]string, len(origins))
	for _, o := range origins {
		byOrigin[o.Origin] = o.LocalStorage
	}
	local, _ := json.Marshal(byOrigin) //nolint:errcheck // map of strings always encodes
	sess, _ := json.Marshal(session)   //nolint:errcheck // map of strings always encodes
	return fmt.Sprintf(`(() => {
		try {
			const local = %s[location.origin] || {};
			for (const [k, v] of Object.entries(local)) localStorage.setItem(k, v);
			const sess = %s || {};
			for (const [k, v] of Object.entries(sess)) sessionStorage.setItem(k, v);
		} catch (e) {}
	})()`, local, sess)
}

type rodPage struct {
	page *rod.Page

	mu     sync.Mutex
	closed bool
}

func (p *rodPage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *rodPage) Navigate(ctx context.Context, rawURL string) (*Navigation, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	nav := &Navigation{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	page := p.page.Context(ctx)

	var once sync.Once
	got := make(chan struct{})
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		once.Do(func() {
			nav.StatusCode = e.Response.Status
			nav.ContentType = e.Response.MIMEType
			for k, v := range e.Response.Headers {
				if strings.EqualFold(k, "Last-Modified") {
					nav.LastModified = v.Str()
				}
			}
			close(got)
		})
		return true
	})
	go wait()

	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", rawURL, err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		// Served from cache or a non-HTTP scheme: no document response event.
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("browser: page info: %w", err)
	}
	nav.URL = info.URL

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	nav.HTML = html
	return nav, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Count(ctx context.Context, selector string) (int, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (p *rodPage) Click(ctx context.Context, selector string, index int) error {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(els) {
		return fmt.Errorf("browser: no element %d for %q", index, selector)
	}
	return els[index].Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Input(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %q: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select %q: %w", selector, err)
	}
	return el.Input(value)
}

func (p *rodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.JSON("", ""), nil
}

func (p *rodPage) Back(ctx context.Context) error {
	page := p.page.Context(ctx)
	if err := page.NavigateBack(); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Settle(ctx context.Context, d time.Duration) error {
	page := p.page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return err
	}
	if err := page.WaitIdle(5 * time.Second); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *rodPage) ObserveRequests(ctx context.Context, fn func(rawURL string)) func() {
	cctx, cancel := context.WithCancel(ctx)
	wait := p.page.Context(cctx).EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Request != nil {
			fn(e.Request.URL)
		}
	})
	go wait()
	return cancel
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.page.Close()
}
