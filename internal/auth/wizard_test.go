package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/browser/browsertest"
)

// scriptedPrompter answers prompts from a fixed list.
type scriptedPrompter struct {
	answers []string
	secrets []string
	waited  []string
	onWait  func()
}

func (p *scriptedPrompter) Ask(_, def string) (string, error) {
	if len(p.answers) == 0 {
		return def, nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	if a == "" {
		return def, nil
	}
	return a, nil
}

func (p *scriptedPrompter) AskSecret(string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("no secret scripted")
	}
	s := p.secrets[0]
	p.secrets = p.secrets[1:]
	return s, nil
}

func (p *scriptedPrompter) Wait(message string) error {
	p.waited = append(p.waited, message)
	if p.onWait != nil {
		p.onWait()
	}
	return nil
}

func TestClassify(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite()
	site.Add("http://form.test/", `<input type="password">`).Elements = map[string]int{`input[type="password"]`: 1}
	site.Add("http://idp.test/", "").RedirectTo = "https://accounts.google.com/o/saml2"
	site.Add("https://accounts.google.com/o/saml2", "google")
	site.Add("http://cas.test/", "").RedirectTo = "http://cas.test/cas/login?service=x"
	site.Add("http://cas.test/cas/login?service=x", "cas")
	site.Add("http://oauth.test/", "").RedirectTo = "http://oauth.test/oauth/authorize"
	site.Add("http://oauth.test/oauth/authorize", "consent")
	site.Add("http://link.test/", `<a href="/login">Sign in</a>`).Elements = map[string]int{`a[href*="login"]`: 1}
	site.Add("http://open.test/", "<p>hello</p>")

	tests := []struct {
		url       string
		want      Type
		wantLogin string
	}{
		{url: "http://form.test/", want: TypeBasic, wantLogin: "http://form.test/"},
		{url: "http://idp.test/", want: TypeSSO, wantLogin: "https://accounts.google.com/o/saml2"},
		{url: "http://cas.test/", want: TypeSSO, wantLogin: "http://cas.test/cas/login?service=x"},
		{url: "http://oauth.test/", want: TypeOAuth, wantLogin: "http://oauth.test/oauth/authorize"},
		{url: "http://link.test/", want: TypeBasic},
		{url: "http://open.test/", want: TypeNone},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()

			session, err := browsertest.NewLauncher(site).Launch(context.Background(), browser.LaunchOptions{})
			if err != nil {
				t.Fatal(err)
			}
			defer session.Close()
			page, err := session.NewPage(context.Background())
			if err != nil {
				t.Fatal(err)
			}

			got, err := Classify(context.Background(), page, tt.url)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Type != tt.want || got.LoginURL != tt.wantLogin {
				t.Errorf("expected %s at %q, got %s at %q (%s)", tt.want, tt.wantLogin, got.Type, got.LoginURL, got.Reason)
			}
		})
	}
}

func TestWizard_Run(t *testing.T) {
	t.Parallel()

	t.Run("basic config is saved", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add("http://lms.test/", `<input type="password">`).Elements = map[string]int{`input[type="password"]`: 1}
		launcher := browser.NewCountingLauncher(browsertest.NewLauncher(site))
		store := NewStore(t.TempDir())
		w := &Wizard{
			Launcher: launcher,
			Store:    store,
			Prompter: &scriptedPrompter{answers: []string{"", "", "instructor1"}, secrets: []string{"pw"}},
		}

		res, err := w.Run(context.Background(), "http://lms.test/", false)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.ConfigPath == "" || res.SessionPath != "" {
			t.Errorf("expected only a config to be saved, got %+v", res)
		}
		cfg, err := store.NewestConfig("lms.test")
		if err != nil {
			t.Fatalf("NewestConfig: %v", err)
		}
		basic := cfg.(*BasicConfig)
		if basic.Username != "instructor1" || basic.Password != "pw" || basic.LoginURL != "http://lms.test/" {
			t.Errorf("unexpected saved config %+v", basic)
		}
		if launcher.Open() != 0 {
			t.Error("expected classification browser to be closed")
		}
	})

	t.Run("sso captures a live session", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add("http://uni.test/", "").RedirectTo = "http://uni.test/saml/login"
		site.Add("http://uni.test/saml/login", "idp form")
		fake := browsertest.NewLauncher(site)
		launcher := browser.NewCountingLauncher(fake)
		store := NewStore(t.TempDir())
		prompter := &scriptedPrompter{}
		prompter.onWait = func() {
			sessions := fake.Sessions()
			sessions[len(sessions)-1].SetCookie(browser.Cookie{Name: "shib", Value: "1", Path: "/"})
		}
		w := &Wizard{Launcher: launcher, Store: store, Prompter: prompter}

		res, err := w.Run(context.Background(), "http://uni.test/", false)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Classification.Type != TypeSSO || res.SessionPath == "" || res.ConfigPath == "" {
			t.Errorf("expected sso config and live session, got %+v", res)
		}
		if len(prompter.waited) != 1 {
			t.Errorf("expected one wait prompt, got %v", prompter.waited)
		}
		sessions := fake.Sessions()
		if sessions[len(sessions)-1].Options.Headless {
			t.Error("live capture must use a visible browser")
		}
		ls, err := store.NewestLiveSession("uni.test")
		if err != nil || ls.Cookies[0].Name != "shib" {
			t.Errorf("expected captured cookie, got %+v (%v)", ls, err)
		}
		if launcher.Open() != 0 {
			t.Error("expected every browser to be closed")
		}
	})

	t.Run("empty capture fails", func(t *testing.T) {
		t.Parallel()

		site := browsertest.NewSite()
		site.Add("http://uni.test/", "plain")
		w := &Wizard{
			Launcher: browsertest.NewLauncher(site),
			Store:    NewStore(t.TempDir()),
			Prompter: &scriptedPrompter{},
		}
		if _, err := w.Run(context.Background(), "http://uni.test/", true); err == nil {
			t.Error("expected error when nothing was captured")
		}
	})
}
