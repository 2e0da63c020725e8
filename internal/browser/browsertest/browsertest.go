package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
)

// Document is a canned page.
type Document struct {
	HTML         string
	Status       int
	ContentType  string
	LastModified string

	// RedirectTo makes navigation land on another URL of the site.
	RedirectTo string

	// Protected documents redirect to Site.LoginURL without the auth cookie.
	Protected bool

	// Elements maps a selector to the number of matching elements.
	Elements map[string]int

	// Clicks maps a selector to the URL each matching element navigates to.
	// An empty entry is a click that stays on the page.
	Clicks map[string][]string

	// Reveal maps a selector to markup appended to the page once clicked.
	Reveal map[string]string

	// Eval maps a script substring to its JSON result.
	Eval map[string]string

	// Requests are reported to observers after the document loads.
	Requests []string
}

// Site is the set of documents reachable by fake pages.
type Site struct {
	mu sync.Mutex

	Docs map[string]*Document

	// Errors makes navigation to a URL fail outright.
	Errors map[string]error

	LoginURL   string
	AuthCookie string

	// OnClick runs before the default click handling. Returning true
	// marks the click as handled.
	OnClick func(p *Page, selector string, index int) (bool, error)

	visits []string
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		Docs:   make(map[string]*Document),
		Errors: make(map[string]error),
	}
}

// Add registers a 200 text/html document at rawURL and returns it for
// further setup.
func (s *Site) Add(rawURL, html string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Document{HTML: html}
	s.Docs[rawURL] = d
	return d
}

// Visits returns every URL navigated to, in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.visits)
}

func (s *Site) lookup(rawURL string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, rawURL)
	if err, ok := s.Errors[rawURL]; ok {
		return nil, err
	}
	if d, ok := s.Docs[rawURL]; ok {
		return d, nil
	}
	if base, _, found := strings.Cut(rawURL, "#"); found {
		if d, ok := s.Docs[base]; ok {
			return d, nil
		}
	}
	return nil, nil
}

// Launcher starts fake sessions on a Site.
type Launcher struct {
	Site *Site

	// Err is returned by Launch when set.
	Err error

	mu       sync.Mutex
	sessions []*Session
}

// NewLauncher returns a launcher for site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	s := &Session{site: l.Site, Options: opts, storage: make(map[string]string)}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Sessions returns the sessions launched so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sessions)
}

// Session is a fake browser.Session.
type Session struct {
	site    *Site
	Options browser.LaunchOptions

	mu      sync.Mutex
	cookies []browser.Cookie
	storage map[string]string
	pages   []*Page
	closed  bool
}

// SetCookie adds or replaces a cookie.
func (s *Session) SetCookie(c browser.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = slices.DeleteFunc(s.cookies, func(old browser.Cookie) bool { return old.Name == c.Name })
	s.cookies = append(s.cookies, c)
}

// ClearCookies drops every cookie, as if the server ended the session.
func (s *Session) ClearCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = nil
}

// HasCookie reports whether a cookie with name is set.
func (s *Session) HasCookie(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.cookies, func(c browser.Cookie) bool { return c.Name == name })
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewPage implements browser.Session.
func (s *Session) NewPage(_ context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrClosed
	}
	p := &Page{session: s}
	s.pages = append(s.pages, p)
	return p, nil
}

// StorageState implements browser.Session.
func (s *Session) StorageState(_ context.Context) (*browser.StorageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrClosed
	}
	state := &browser.StorageState{
		Cookies: slices.Clone(s.cookies),
		Origins: make([]browser.OriginStorage, 0),
	}
	if len(s.storage) > 0 {
		local := make(map[string]string, len(s.storage))
		for k, v := range s.storage {
			local[k] = v
		}
		state.Origins = append(state.Origins, browser.OriginStorage{Origin: "*", LocalStorage: local})
	}
	return state, nil
}

// LoadStorageState implements browser.Session.
func (s *Session) LoadStorageState(_ context.Context, state *browser.StorageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrClosed
	}
	if state == nil {
		return nil
	}
	s.cookies = append(s.cookies, state.Cookies...)
	for _, o := range state.Origins {
		for k, v := range o.LocalStorage {
			s.storage[k] = v
		}
	}
	return nil
}

// Close implements browser.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	pages := slices.Clone(s.pages)
	s.closed = true
	s.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	return nil
}

// Page is a fake browser.Page.
type Page struct {
	session *Session

	mu        sync.Mutex
	url       string
	doc       *Document
	extra     string
	history   []string
	inputs    map[string]string
	observers map[int]func(string)
	nextObs   int
	closed    bool
}

// Session returns the session that opened the page.
func (p *Page) Session() *Session {
	return p.session
}

// Inputs returns the values typed into the page, by selector.
func (p *Page) Inputs() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.inputs))
	for k, v := range p.inputs {
		out[k] = v
	}
	return out
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, rawURL string) (*browser.Navigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	closed := p.closed
	prev := p.url
	p.mu.Unlock()
	if closed {
		return nil, browser.ErrClosed
	}

	nav, doc, err := p.load(rawURL, 0)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if prev != "" {
		p.history = append(p.history, prev)
	}
	p.url = nav.URL
	p.doc = doc
	p.extra = ""
	p.mu.Unlock()

	if doc != nil {
		p.notify(doc.Requests)
	}
	return nav, nil
}

func (p *Page) load(rawURL string, hops int) (*browser.Navigation, *Document, error) {
	site := p.session.site
	if hops > 10 {
		return nil, nil, errors.New("browsertest: redirect loop")
	}
	doc, err := site.lookup(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return &browser.Navigation{
			URL:         rawURL,
			StatusCode:  http.StatusNotFound,
			ContentType: "text/html",
			HTML:        "<html><body>not found</body></html>",
		}, nil, nil
	}
	if doc.RedirectTo != "" {
		return p.load(doc.RedirectTo, hops+1)
	}
	if doc.Protected && site.LoginURL != "" && !p.session.HasCookie(site.AuthCookie) {
		return p.load(site.LoginURL, hops+1)
	}
	nav := &browser.Navigation{
		URL:          rawURL,
		StatusCode:   doc.Status,
		ContentType:  doc.ContentType,
		LastModified: doc.LastModified,
		HTML:         doc.HTML,
	}
	if nav.StatusCode == 0 {
		nav.StatusCode = http.StatusOK
	}
	if nav.ContentType == "" {
		nav.ContentType = "text/html; charset=utf-8"
	}
	return nav, doc, nil
}

func (p *Page) notify(urls []string) {
	p.mu.Lock()
	fns := make([]func(string), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, u := range urls {
		for _, fn := range fns {
			fn(u)
		}
	}
}

// URL implements browser.Page.
func (p *Page) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrClosed
	}
	return p.url, nil
}

// HTML implements browser.Page.
func (p *Page) HTML(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrClosed
	}
	if p.doc == nil {
		return "<html></html>", nil
	}
	return p.doc.HTML + p.extra, nil
}

// Count implements browser.Page.
func (p *Page) Count(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, browser.ErrClosed
	}
	if p.doc == nil {
		return 0, nil
	}
	return p.doc.Elements[selector], nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, selector string, index int) error {
	if hook := p.session.site.OnClick; hook != nil {
		handled, err := hook(p, selector, index)
		if err != nil || handled {
			return err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrClosed
	}
	doc := p.doc
	if doc == nil || index >= doc.Elements[selector] {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: no element %q[%d]", selector, index)
	}
	if reveal, ok := doc.Reveal[selector]; ok {
		p.extra += reveal
	}
	var target string
	if targets := doc.Clicks[selector]; index < len(targets) {
		target = targets[index]
	}
	p.mu.Unlock()

	if target == "" {
		return nil
	}
	_, err := p.Navigate(ctx, target)
	return err
}

// Input implements browser.Page.
func (p *Page) Input(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	if p.doc == nil || p.doc.Elements[selector] == 0 {
		return fmt.Errorf("browsertest: no input %q", selector)
	}
	if p.inputs == nil {
		p.inputs = make(map[string]string)
	}
	p.inputs[selector] = value
	return nil
}

// Eval implements browser.Page.
func (p *Page) Eval(_ context.Context, js string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrClosed
	}
	if p.doc != nil {
		for substr, result := range p.doc.Eval {
			if strings.Contains(js, substr) {
				return result, nil
			}
		}
	}
	return "null", nil
}

// Back implements browser.Page.
func (p *Page) Back(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrClosed
	}
	if len(p.history) == 0 {
		p.mu.Unlock()
		return errors.New("browsertest: no history")
	}
	prev := p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	p.mu.Unlock()

	nav, doc, err := p.load(prev, 0)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url = nav.URL
	p.doc = doc
	p.extra = ""
	p.mu.Unlock()
	return ctx.Err()
}

// Settle implements browser.Page. It never sleeps.
func (p *Page) Settle(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// ObserveRequests implements browser.Page.
func (p *Page) ObserveRequests(_ context.Context, fn func(rawURL string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observers == nil {
		p.observers = make(map[int]func(string))
	}
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var (
	_ browser.Launcher = (*Launcher)(nil)
	_ browser.Session  = (*Session)(nil)
	_ browser.Page     = (*Page)(nil)
)
