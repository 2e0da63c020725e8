package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantType Type
		wantErr  error
		check    func(t *testing.T, cfg Config)
	}{
		{
			name:     "basic",
			input:    `{"authType":"basic","domain":"site.test","loginUrl":"http://site.test/login","username":"u","password":"p"}`,
			wantType: TypeBasic,
			check: func(t *testing.T, cfg Config) {
				c, ok := cfg.(*BasicConfig)
				if !ok || c.Username != "u" || c.LoginURL != "http://site.test/login" {
					t.Errorf("unexpected basic config %+v", cfg)
				}
				if cfg.Domain() != "site.test" {
					t.Errorf("expected domain site.test, got %q", cfg.Domain())
				}
			},
		},
		{
			name:     "form alias",
			input:    `{"authType":"form","loginUrl":"http://x/login","username":"u","password":"p"}`,
			wantType: TypeBasic,
		},
		{
			name:     "saml keeps its name",
			input:    `{"authType":"SAML","loginUrl":"https://idp.test/saml"}`,
			wantType: TypeSAML,
			check: func(t *testing.T, cfg Config) {
				if _, ok := cfg.(*SSOConfig); !ok {
					t.Errorf("expected *SSOConfig, got %T", cfg)
				}
			},
		},
		{
			name:     "api key default header",
			input:    `{"authType":"api_key","key":"k"}`,
			wantType: TypeAPIKey,
			check: func(t *testing.T, cfg Config) {
				if h := cfg.(*APIKeyConfig).HeaderName(); h != DefaultAPIKeyHeader {
					t.Errorf("expected default header, got %q", h)
				}
			},
		},
		{
			name:     "custom with paths",
			input:    `{"authType":"custom","cookies":{"b":"2","a":"1"},"protectedPaths":["/admin"]}`,
			wantType: TypeCustom,
			check: func(t *testing.T, cfg Config) {
				if got := cfg.(*CustomConfig).CookieHeader(); got != "a=1; b=2" {
					t.Errorf("unexpected cookie header %q", got)
				}
				if !IsSmart(cfg) {
					t.Error("expected smart config")
				}
			},
		},
		{
			name:     "missing type means none",
			input:    `{}`,
			wantType: TypeNone,
		},
		{name: "unknown type", input: `{"authType":"kerberos"}`, wantErr: ErrUnknownAuthType},
		{name: "basic without password", input: `{"authType":"basic","loginUrl":"x","username":"u"}`, wantErr: ErrInvalidConfig},
		{name: "custom without material", input: `{"authType":"custom"}`, wantErr: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseConfig([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseConfig: %v", err)
			}
			if cfg.Type() != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, cfg.Type())
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseConfig([]byte(`{`)); err == nil {
			t.Error("expected error")
		}
	})
}

func TestLoadConfigArg(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"authType":"api_key","key":"from-file"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigArg("@" + path)
	if err != nil {
		t.Fatalf("LoadConfigArg: %v", err)
	}
	if cfg.(*APIKeyConfig).Key != "from-file" {
		t.Errorf("expected key from file, got %+v", cfg)
	}

	if _, err := LoadConfigArg(`{"authType":"none"}`); err != nil {
		t.Errorf("inline config: %v", err)
	}
	if _, err := LoadConfigArg("@" + filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWithDomain(t *testing.T) {
	t.Parallel()

	cfg := WithDomain(&NoneConfig{Base: Base{AuthType: TypeNone}}, "site.test")
	if cfg.Domain() != "site.test" {
		t.Errorf("expected domain to be filled, got %q", cfg.Domain())
	}
	cfg = WithDomain(cfg, "other.test")
	if cfg.Domain() != "site.test" {
		t.Errorf("expected existing domain kept, got %q", cfg.Domain())
	}
	if WithDomain(nil, "x") != nil {
		t.Error("expected nil passthrough")
	}
}
