package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
)

const (
	configFilePrefix  = "auth-config-"
	sessionFilePrefix = "live-session-"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Kind distinguishes the two stored artifact types.
type Kind string

// Stored artifact kinds.
const (
	KindConfig      Kind = "auth-config"
	KindLiveSession Kind = "live-session"
)

// LiveSession is a browser login state captured after a person logged in.
type LiveSession struct {
	Domain     string    `json:"domain"`
	CapturedAt time.Time `json:"capturedAt"`
	browser.StorageState
}

// Entry describes one stored file.
type Entry struct {
	Kind     Kind
	Domain   string
	SavedAt  time.Time
	Path     string
	AuthType Type
}

// Store keeps auth configs and live sessions as one JSON file per capture
// under a single directory. The newest file of a domain wins on load.
type Store struct {
	dir    string
	sealer *Sealer
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSealer seals credential fields on save and opens them on load.
func WithSealer(s *Sealer) StoreOption {
	return func(st *Store) {
		st.sealer = s
	}
}

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) {
		st.now = now
	}
}

// NewStore returns a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveConfig writes cfg for its domain and returns the file path.
func (s *Store) SaveConfig(cfg Config) (string, error) {
	domain := FileDomain(cfg.Domain())
	if domain == "" {
		return "", fmt.Errorf("%w: config has no domain", ErrInvalidConfig)
	}

	// Seal a copy so the caller keeps usable credentials.
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode auth config: %w", err)
	}
	sealed, err := ParseConfig(data)
	if err != nil {
		return "", err
	}
	if err := s.sealer.SealConfig(sealed); err != nil {
		return "", fmt.Errorf("failed to seal auth config: %w", err)
	}
	return s.write(configFilePrefix, domain, sealed)
}

// NewestConfig loads the most recent config stored for domain.
func (s *Store) NewestConfig(domain string) (Config, error) {
	path, err := s.newest(KindConfig, domain)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w for %s", ErrNoConfig, domain)
		}
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the store directory
	if err != nil {
		return nil, fmt.Errorf("failed to read auth config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := s.sealer.OpenConfig(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return WithDomain(cfg, domain), nil
}

// SaveLiveSession writes a captured session and returns the file path.
func (s *Store) SaveLiveSession(ls *LiveSession) (string, error) {
	domain := FileDomain(ls.Domain)
	if domain == "" {
		return "", fmt.Errorf("%w: live session has no domain", ErrNoSession)
	}
	if ls.CapturedAt.IsZero() {
		ls.CapturedAt = s.now()
	}
	return s.write(sessionFilePrefix, domain, ls)
}

// NewestLiveSession loads the most recent live session for domain.
func (s *Store) NewestLiveSession(domain string) (*LiveSession, error) {
	path, err := s.newest(KindLiveSession, domain)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w for %s", ErrNoSession, domain)
		}
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the store directory
	if err != nil {
		return nil, fmt.Errorf("failed to read live session: %w", err)
	}
	var ls LiveSession
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("failed to parse live session %s: %w", filepath.Base(path), err)
	}
	return &ls, nil
}

// List returns every stored file, newest first.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read auth state directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		e, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		e.Path = filepath.Join(s.dir, de.Name())
		if e.Kind == KindConfig {
			if data, err := os.ReadFile(e.Path); err == nil { //nolint:gosec // path is built from the store directory
				var head struct {
					AuthType Type `json:"authType"`
				}
				if json.Unmarshal(data, &head) == nil {
					e.AuthType = head.AuthType
				}
			}
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return b.SavedAt.Compare(a.SavedAt)
	})
	return entries, nil
}

func (s *Store) write(prefix, domain string, v any) (string, error) {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create auth state directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode auth state: %w", err)
	}

	name := prefix + domain + "-" + strconv.FormatInt(s.now().UnixMilli(), 10) + ".json"
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write auth state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write auth state: %w", err)
	}
	return path, nil
}

// newest returns the path of the newest file of kind for domain, or an
// error wrapping fs.ErrNotExist.
func (s *Store) newest(kind Kind, domain string) (string, error) {
	entries, err := s.List()
	if err != nil {
		return "", err
	}
	domain = FileDomain(domain)
	for _, e := range entries {
		if e.Kind == kind && e.Domain == domain {
			return e.Path, nil
		}
	}
	return "", fs.ErrNotExist
}

// parseFileName splits "<prefix><domain>-<unixMillis>.json".
func parseFileName(name string) (Entry, bool) {
	var e Entry
	rest, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return e, false
	}
	switch {
	case strings.HasPrefix(rest, configFilePrefix):
		e.Kind = KindConfig
		rest = strings.TrimPrefix(rest, configFilePrefix)
	case strings.HasPrefix(rest, sessionFilePrefix):
		e.Kind = KindLiveSession
		rest = strings.TrimPrefix(rest, sessionFilePrefix)
	default:
		return e, false
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 {
		return e, false
	}
	millis, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return e, false
	}
	e.Domain = rest[:idx]
	e.SavedAt = time.UnixMilli(millis)
	return e, true
}

// FileDomain reduces a domain or URL to the host form used in file names.
func FileDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	if i := strings.LastIndex(domain, ":"); i >= 0 && !strings.Contains(domain, "]") {
		domain = domain[:i]
	}
	var b strings.Builder
	for _, r := range domain {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
