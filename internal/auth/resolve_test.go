package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nao1215/a11ycrawl/internal/browser"
)

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("domain") {
		case "backend.test":
			fmt.Fprint(w, `{"success":true,"data":[{"authType":"api_key","domain":"backend.test","key":"k1"}]}`)
		case "broken.test":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, `{"success":true,"data":[]}`)
		}
	}))
	t.Cleanup(backend.Close)

	store := NewStore(filepath.Join(t.TempDir(), "auth-states"))
	stored := &APIKeyConfig{Base: Base{AuthType: TypeAPIKey, DomainName: "broken.test"}, Key: "from-store"}
	if _, err := store.SaveConfig(stored); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if _, err := store.SaveLiveSession(&LiveSession{
		Domain:       "live.test",
		StorageState: browser.StorageState{Cookies: []browser.Cookie{{Name: "sid", Value: "x", Domain: "live.test"}}},
	}); err != nil {
		t.Fatalf("SaveLiveSession: %v", err)
	}

	inline := &NoneConfig{Base: Base{AuthType: TypeNone}}
	site := &CustomConfig{Base: Base{AuthType: TypeCustom}, Headers: map[string]string{"X-Test": "1"}}
	client := NewBackendClient(backend.URL, nil, nil)

	tests := []struct {
		name       string
		resolver   *Resolver
		domain     string
		wantSource Source
		wantType   Type
		wantErr    error
	}{
		{
			name:       "inline wins",
			resolver:   &Resolver{Inline: inline, Site: site, Backend: client, Store: store},
			domain:     "backend.test",
			wantSource: SourceFlag,
			wantType:   TypeNone,
		},
		{
			name:       "site file before backend",
			resolver:   &Resolver{Site: site, Backend: client, Store: store},
			domain:     "backend.test",
			wantSource: SourceSiteFile,
			wantType:   TypeCustom,
		},
		{
			name:       "backend",
			resolver:   &Resolver{Backend: client, Store: store},
			domain:     "backend.test",
			wantSource: SourceBackend,
			wantType:   TypeAPIKey,
		},
		{
			name:       "backend failure falls through to store",
			resolver:   &Resolver{Backend: client, Store: store},
			domain:     "broken.test",
			wantSource: SourceStore,
			wantType:   TypeAPIKey,
		},
		{
			name:       "live session only",
			resolver:   &Resolver{Backend: client, Store: store},
			domain:     "live.test",
			wantSource: SourceLiveSession,
		},
		{
			name:     "nothing",
			resolver: &Resolver{Backend: client, Store: store},
			domain:   "unknown.test",
			wantErr:  ErrNoConfig,
		},
		{
			name:     "empty resolver",
			resolver: &Resolver{},
			domain:   "unknown.test",
			wantErr:  ErrNoConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, source, err := tt.resolver.Resolve(context.Background(), tt.domain)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if source != tt.wantSource {
				t.Errorf("expected source %q, got %q", tt.wantSource, source)
			}
			if tt.wantType == "" {
				if cfg != nil {
					t.Errorf("expected nil config, got %+v", cfg)
				}
				return
			}
			if cfg.Type() != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, cfg.Type())
			}
			if cfg.Domain() != tt.domain {
				t.Errorf("expected domain %q, got %q", tt.domain, cfg.Domain())
			}
		})
	}
}
