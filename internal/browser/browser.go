package browser

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when a closed Session or Page is used.
var ErrClosed = errors.New("browser: closed")

// Navigation is the outcome of loading a URL in a Page.
type Navigation struct {
	// URL is the page URL after redirects.
	URL          string
	StatusCode   int
	ContentType  string
	LastModified string
	HTML         string
}

// Page is a single browser tab.
type Page interface {
	// Navigate loads rawURL and waits for the load event.
	Navigate(ctx context.Context, rawURL string) (*Navigation, error)

	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	// HTML returns the serialized DOM.
	HTML(ctx context.Context) (string, error)

	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)

	// Click clicks the index-th element matching selector.
	Click(ctx context.Context, selector string, index int) error

	// Input replaces the value of the first element matching selector.
	Input(ctx context.Context, selector, value string) error

	// Eval runs a JavaScript function expression and returns its result
	// encoded as JSON.
	Eval(ctx context.Context, js string) (string, error)

	// Back navigates one step back in history.
	Back(ctx context.Context) error

	// Settle waits until the page is idle, then for d more.
	Settle(ctx context.Context, d time.Duration) error

	// ObserveRequests calls fn with the URL of every request the page
	// issues until stop is called. fn may run on another goroutine.
	ObserveRequests(ctx context.Context, fn func(rawURL string)) (stop func())

	Close() error
}

// Session is one browser process with its cookie store.
type Session interface {
	NewPage(ctx context.Context) (Page, error)

	// StorageState exports cookies and the storage of every open page.
	StorageState(ctx context.Context) (*StorageState, error)

	// LoadStorageState imports a previously exported state. Local storage
	// is applied to pages opened afterwards.
	LoadStorageState(ctx context.Context, state *StorageState) error

	// Close releases the browser. It is safe to call more than once.
	Close() error
}

// LaunchOptions configures a new Session.
type LaunchOptions struct {
	Headless bool

	// Stealth applies go-rod/stealth evasions to new pages.
	Stealth bool
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// CountingLauncher wraps a Launcher and counts opened and closed sessions.
type CountingLauncher struct {
	Launcher Launcher

	mu     sync.Mutex
	opened int
	closed int
}

// NewCountingLauncher wraps l.
func NewCountingLauncher(l Launcher) *CountingLauncher {
	return &CountingLauncher{Launcher: l}
}

// Launch implements Launcher.
func (c *CountingLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	s, err := c.Launcher.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
	return &countedSession{Session: s, owner: c}, nil
}

// Open returns the number of sessions launched and not yet closed.
func (c *CountingLauncher) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

// Counts returns the total opened and closed sessions.
func (c *CountingLauncher) Counts() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

type countedSession struct {
	Session
	owner *CountingLauncher
	once  sync.Once
}

func (s *countedSession) Close() error {
	err := s.Session.Close()
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.closed++
		s.owner.mu.Unlock()
	})
	return err
}
