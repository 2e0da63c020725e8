package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Type names an authentication style.
type Type string

// Supported auth types.
const (
	TypeNone   Type = "none"
	TypeBasic  Type = "basic"
	TypeSSO    Type = "sso"
	TypeSAML   Type = "saml"
	TypeOAuth  Type = "oauth"
	TypeAPIKey Type = "api_key"
	TypeCustom Type = "custom"
)

// DefaultAPIKeyHeader is used when an api_key config names no header.
const DefaultAPIKeyHeader = "X-API-Key"

// Config is an authentication configuration. The concrete type is one of
// *NoneConfig, *BasicConfig, *SSOConfig, *OAuthConfig, *APIKeyConfig or
// *CustomConfig.
type Config interface {
	// Type returns the authType discriminator.
	Type() Type

	// Domain returns the domain the config belongs to. It may be empty
	// for configs given on the command line.
	Domain() string

	// Paths returns the protected and public path prefixes.
	Paths() (protected, public []string)

	// transformSecrets rewrites every credential field with fn. It is
	// used to seal and open stored configs.
	transformSecrets(fn func(string) (string, error)) error
}

// Base holds the fields shared by every variant.
type Base struct {
	AuthType       Type     `json:"authType"`
	DomainName     string   `json:"domain,omitempty"`
	ProtectedPaths []string `json:"protectedPaths,omitempty"`
	PublicPaths    []string `json:"publicPaths,omitempty"`
}

// Type implements Config.
func (b *Base) Type() Type { return b.AuthType }

// Domain implements Config.
func (b *Base) Domain() string { return b.DomainName }

// Paths implements Config.
func (b *Base) Paths() (protected, public []string) { return b.ProtectedPaths, b.PublicPaths }

// SetDomain fills in the domain when it is empty.
func (b *Base) SetDomain(domain string) {
	if b.DomainName == "" {
		b.DomainName = domain
	}
}

// NoneConfig disables authentication.
type NoneConfig struct {
	Base
}

func (c *NoneConfig) transformSecrets(func(string) (string, error)) error { return nil }

// BasicConfig is a username/password form login.
type BasicConfig struct {
	Base
	LoginURL         string   `json:"loginUrl"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	UsernameSelector string   `json:"usernameSelector,omitempty"`
	PasswordSelector string   `json:"passwordSelector,omitempty"`
	SubmitSelector   string   `json:"submitSelector,omitempty"`
	SuccessURL       string   `json:"successUrl,omitempty"`
	SuccessSelectors []string `json:"successSelectors,omitempty"`
}

func (c *BasicConfig) transformSecrets(fn func(string) (string, error)) error {
	return transformField(&c.Password, fn)
}

// SSOConfig covers sso and saml logins, which need a person or a captured
// live session to complete.
type SSOConfig struct {
	Base
	LoginURL   string `json:"loginUrl,omitempty"`
	IdPHost    string `json:"idpHost,omitempty"`
	SuccessURL string `json:"successUrl,omitempty"`
}

func (c *SSOConfig) transformSecrets(func(string) (string, error)) error { return nil }

// OAuthConfig is an OAuth login. With a Token it is replayed as a bearer
// header; without one it behaves like SSO.
type OAuthConfig struct {
	Base
	LoginURL   string `json:"loginUrl,omitempty"`
	SuccessURL string `json:"successUrl,omitempty"`
	Token      string `json:"token,omitempty"`
}

func (c *OAuthConfig) transformSecrets(fn func(string) (string, error)) error {
	return transformField(&c.Token, fn)
}

// APIKeyConfig sends a key in a header or a query parameter.
type APIKeyConfig struct {
	Base
	Header     string `json:"header,omitempty"`
	Key        string `json:"key"`
	QueryParam string `json:"queryParam,omitempty"`
}

// HeaderName returns the header carrying the key.
func (c *APIKeyConfig) HeaderName() string {
	if c.Header == "" {
		return DefaultAPIKeyHeader
	}
	return c.Header
}

func (c *APIKeyConfig) transformSecrets(fn func(string) (string, error)) error {
	return transformField(&c.Key, fn)
}

// CustomConfig injects fixed cookies and headers.
type CustomConfig struct {
	Base
	Cookies map[string]string `json:"cookies,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *CustomConfig) transformSecrets(fn func(string) (string, error)) error {
	for _, m := range []map[string]string{c.Cookies, c.Headers} {
		for k, v := range m {
			out, err := fn(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			m[k] = out
		}
	}
	return nil
}

// CookieHeader renders Cookies as a Cookie header value.
func (c *CustomConfig) CookieHeader() string {
	parts := make([]string, 0, len(c.Cookies))
	for _, name := range sortedKeys(c.Cookies) {
		parts = append(parts, name+"="+c.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

func transformField(field *string, fn func(string) (string, error)) error {
	if *field == "" {
		return nil
	}
	out, err := fn(*field)
	if err != nil {
		return err
	}
	*field = out
	return nil
}

// IsSmart reports whether cfg lists protected or public paths.
func IsSmart(cfg Config) bool {
	if cfg == nil {
		return false
	}
	protected, public := cfg.Paths()
	return len(protected) > 0 || len(public) > 0
}

// ParseConfig decodes a JSON config into its variant. "form" is accepted as
// an alias of basic.
func ParseConfig(data []byte) (Config, error) {
	var head struct {
		AuthType string `json:"authType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse auth config: %w", err)
	}

	var cfg Config
	t := Type(strings.ToLower(strings.TrimSpace(head.AuthType)))
	switch t {
	case TypeNone, "":
		t = TypeNone
		cfg = &NoneConfig{}
	case TypeBasic, "form":
		t = TypeBasic
		cfg = &BasicConfig{}
	case TypeSSO, TypeSAML:
		cfg = &SSOConfig{}
	case TypeOAuth:
		cfg = &OAuthConfig{}
	case TypeAPIKey, "apikey", "api-key":
		t = TypeAPIKey
		cfg = &APIKeyConfig{}
	case TypeCustom:
		cfg = &CustomConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthType, head.AuthType)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s auth config: %w", t, err)
	}
	base(cfg).AuthType = t
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigArg resolves a --auth-config value: inline JSON, or "@path" to
// read the JSON from a file.
func LoadConfigArg(arg string) (Config, error) {
	arg = strings.TrimSpace(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the user
		if err != nil {
			return nil, fmt.Errorf("failed to read auth config file: %w", err)
		}
		return ParseConfig(data)
	}
	return ParseConfig([]byte(arg))
}

func validateConfig(cfg Config) error {
	switch c := cfg.(type) {
	case *BasicConfig:
		if c.LoginURL == "" || c.Username == "" || c.Password == "" {
			return fmt.Errorf("%w: basic needs loginUrl, username and password", ErrInvalidConfig)
		}
	case *APIKeyConfig:
		if c.Key == "" {
			return fmt.Errorf("%w: api_key needs key", ErrInvalidConfig)
		}
	case *CustomConfig:
		if len(c.Cookies) == 0 && len(c.Headers) == 0 {
			return fmt.Errorf("%w: custom needs cookies or headers", ErrInvalidConfig)
		}
	}
	return nil
}

// base returns the shared fields of any variant.
func base(cfg Config) *Base {
	switch c := cfg.(type) {
	case *NoneConfig:
		return &c.Base
	case *BasicConfig:
		return &c.Base
	case *SSOConfig:
		return &c.Base
	case *OAuthConfig:
		return &c.Base
	case *APIKeyConfig:
		return &c.Base
	case *CustomConfig:
		return &c.Base
	}
	return &Base{}
}

// WithDomain sets cfg's domain when it has none and returns cfg.
func WithDomain(cfg Config, domain string) Config {
	if cfg != nil {
		base(cfg).SetDomain(domain)
	}
	return cfg
}

// Clone returns a shallow copy of cfg. Slices and maps are shared.
func Clone(cfg Config) Config {
	switch c := cfg.(type) {
	case *NoneConfig:
		cp := *c
		return &cp
	case *BasicConfig:
		cp := *c
		return &cp
	case *SSOConfig:
		cp := *c
		return &cp
	case *OAuthConfig:
		cp := *c
		return &cp
	case *APIKeyConfig:
		cp := *c
		return &cp
	case *CustomConfig:
		cp := *c
		return &cp
	}
	return cfg
}
