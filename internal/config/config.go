package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "a11ycrawl"

	// DefaultMaxDepth limits how many link hops away from the root URL the
	// traversal goes. Audit targets are usually reachable within three hops
	// of the home page; deeper pages tend to be paginated lists.
	DefaultMaxDepth = 3

	// DefaultMaxPages bounds the number of URLs visited by traversal.
	// Sitemap and interactive discovery may add pages beyond this bound.
	DefaultMaxPages = 100

	// DefaultDelay is the pause between two consecutive fetches.
	// Fetches are strictly sequential, so this is also the effective rate limit.
	DefaultDelay = 1 * time.Second

	// DefaultTimeout applies to each page load.
	DefaultTimeout = 30 * time.Second

	// DefaultInteractivePages is how many discovered pages are opened in the
	// browser during interactive discovery.
	DefaultInteractivePages = 5

	// DefaultInteractiveMaxRoutes caps how many routes found by interactive
	// discovery are fetched.
	DefaultInteractiveMaxRoutes = 10

	// DefaultBatchSize is the number of root URLs crawled concurrently.
	// Each crawl still fetches sequentially.
	DefaultBatchSize = 1

	// DefaultUserAgent identifies the crawler in target access logs.
	DefaultUserAgent = "a11ycrawl/1.0 (+https://github.com/nao1215/a11ycrawl)"

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultReportDir is where JSON report artifacts are written.
	DefaultReportDir = "reports"

	// DefaultLogFormat is the slog handler used unless --log-format says otherwise.
	DefaultLogFormat = "text"

	// EnvAuthPassphrase enables sealing of credentials in stored auth configs.
	EnvAuthPassphrase = "A11YCRAWL_AUTH_PASSPHRASE"

	// EnvAPIURL is the default backend URL for auth config lookup.
	EnvAPIURL = "A11YCRAWL_API_URL"
)

// Config holds all configuration options for a crawl run.
// It is populated from CLI flags and the site file, then passed down
// explicitly. Nothing in the crawler reads process-wide state.
// Per-domain overrides live in SiteConfigs and are merged by the caller.
type Config struct {
	// Targets are the root URLs to crawl.
	Targets []string

	// TestName labels the report. Empty means the root URL's host.
	TestName string

	// MaxDepth is the maximum link depth; 0 fetches only the root page.
	MaxDepth int

	// MaxPages bounds the number of URLs visited by traversal.
	MaxPages int

	// Delay is the pause between consecutive fetches of one crawl.
	Delay time.Duration

	// Timeout is the per-page load timeout.
	Timeout time.Duration

	// Interactive enables browser-driven interactive discovery.
	Interactive bool

	// InteractivePages is the number of discovered pages explored interactively.
	InteractivePages int

	// InteractiveMaxRoutes caps the interactive routes that get fetched.
	InteractiveMaxRoutes int

	// Headless runs the browser without a window. The auth wizard forces
	// headful mode for live session capture.
	Headless bool

	// UseAuth enables the authentication phase.
	UseAuth bool

	// AuthConfig is an inline JSON auth configuration or "@path" to a JSON file.
	AuthConfig string

	// APIURL is the backend base URL used to look up stored auth configs.
	// Empty disables the lookup.
	APIURL string

	// AuthStateDir holds auth-config and live-session files.
	AuthStateDir string

	// AuthPassphrase seals credential fields in stored auth configs.
	// It is read from EnvAuthPassphrase, never from a flag.
	AuthPassphrase string

	// RespectRobots skips URLs disallowed by robots.txt.
	RespectRobots bool

	// IgnorePatterns are glob patterns of URL paths that traversal skips.
	IgnorePatterns []string

	// FollowPatterns restrict traversal to matching URL paths when set.
	FollowPatterns []string

	// GuessRoutes probes common audit targets (/login, /search, /contact...)
	// in addition to the links found on the page.
	GuessRoutes bool

	// RouteFamilies selects extra route-guess families for link discovery.
	RouteFamilies []string

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	MaxBodySize int64

	// BatchSize is the number of root URLs crawled concurrently.
	BatchSize int

	// ReportDir is the directory for JSON (and Markdown) report files.
	ReportDir string

	// NoSave disables writing report files.
	NoSave bool

	// JSONReport prints the full report JSON to stdout instead of the summary.
	JSONReport bool

	// MarkdownReport writes a Markdown summary next to the JSON file.
	MarkdownReport bool

	// DBDir is the directory of the crawl history database.
	// Empty disables history.
	DBDir string

	// MetricsAddr is the listen address of the Prometheus exporter.
	// Empty disables it.
	MetricsAddr string

	// Verbose enables debug logging.
	Verbose bool

	// LogFormat is "text" or "json".
	LogFormat string

	// ConfigFilePath is an explicit site file path.
	ConfigFilePath string

	// SiteConfigs holds per-domain settings loaded from the site file.
	SiteConfigs *File
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:             DefaultMaxDepth,
		MaxPages:             DefaultMaxPages,
		Delay:                DefaultDelay,
		Timeout:              DefaultTimeout,
		Interactive:          true,
		InteractivePages:     DefaultInteractivePages,
		InteractiveMaxRoutes: DefaultInteractiveMaxRoutes,
		Headless:             true,
		AuthStateDir:         AuthStateDir(),
		GuessRoutes:          true,
		UserAgent:            DefaultUserAgent,
		MaxBodySize:          DefaultMaxBodySize,
		BatchSize:            DefaultBatchSize,
		ReportDir:            DefaultReportDir,
		DBDir:                XDGDataDir(),
		LogFormat:            DefaultLogFormat,
	}
}

// XDGDataDir returns the XDG data directory for a11ycrawl.
// On Linux: ~/.local/share/a11ycrawl
// On macOS: ~/Library/Application Support/a11ycrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for a11ycrawl.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// AuthStateDir returns the default directory for persisted auth artifacts.
func AuthStateDir() string {
	return filepath.Join(XDGDataDir(), "auth-states")
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.Delay < 0 {
		return ErrInvalidDelay
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.InteractivePages < 0 || c.InteractiveMaxRoutes < 0 {
		return ErrInvalidInteractiveLimits
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.AuthConfig != "" {
		raw := strings.TrimSpace(c.AuthConfig)
		// Either a JSON object or a file reference.
		if raw == "@" || (!strings.HasPrefix(raw, "@") && !strings.HasPrefix(raw, "{")) {
			return ErrInvalidAuthConfig
		}
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}
