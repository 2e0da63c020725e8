package browser_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/browser/browsertest"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
)

func TestCountingLauncher(t *testing.T) {
	t.Parallel()

	t.Run("counts each close once", func(t *testing.T) {
		t.Parallel()

		l := browser.NewCountingLauncher(browsertest.NewLauncher(browsertest.NewSite()))
		s1, err := l.Launch(context.Background(), browser.LaunchOptions{Headless: true})
		if err != nil {
			t.Fatalf("Launch: %v", err)
		}
		s2, err := l.Launch(context.Background(), browser.LaunchOptions{Headless: true})
		if err != nil {
			t.Fatalf("Launch: %v", err)
		}
		if got := l.Open(); got != 2 {
			t.Errorf("expected 2 open sessions, got %d", got)
		}

		_ = s1.Close()
		_ = s1.Close()
		_ = s2.Close()

		opened, closed := l.Counts()
		if opened != 2 || closed != 2 {
			t.Errorf("expected 2 opened and 2 closed, got %d/%d", opened, closed)
		}
		if got := l.Open(); got != 0 {
			t.Errorf("expected no open sessions, got %d", got)
		}
	})

	t.Run("failed launch is not counted", func(t *testing.T) {
		t.Parallel()

		fake := browsertest.NewLauncher(browsertest.NewSite())
		fake.Err = errors.New("no chromium")
		l := browser.NewCountingLauncher(fake)

		if _, err := l.Launch(context.Background(), browser.LaunchOptions{}); err == nil {
			t.Fatal("expected launch error")
		}
		if opened, _ := l.Counts(); opened != 0 {
			t.Errorf("expected 0 opened, got %d", opened)
		}
	})
}

func TestStorageState_HTTPCookies(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := &browser.StorageState{
		Cookies: []browser.Cookie{
			{Name: "session", Value: "abc", Domain: ".site.test", Path: "/", HTTPOnly: true},
			{Name: "old", Value: "x", Path: "/", Expires: float64(now.Add(-time.Hour).Unix())},
			{Name: "fresh", Value: "y", Path: "/", Expires: float64(now.Add(time.Hour).Unix())},
		},
	}

	cookies := state.HTTPCookies(now)
	if len(cookies) != 2 {
		t.Fatalf("expected 2 valid cookies, got %d", len(cookies))
	}
	if cookies[0].Name != "session" || !cookies[0].HttpOnly || cookies[0].Domain != "" {
		t.Errorf("unexpected session cookie: %+v", cookies[0])
	}
	if cookies[1].Name != "fresh" || cookies[1].Expires.IsZero() {
		t.Errorf("unexpected fresh cookie: %+v", cookies[1])
	}

	var nilState *browser.StorageState
	if !nilState.Empty() || nilState.HTTPCookies(now) != nil {
		t.Error("nil state should be empty")
	}
	if state.Empty() {
		t.Error("state with cookies should not be empty")
	}
}

func TestPageFetcher(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite()
	site.Add("http://site.test/", `<a href="/about">About</a>`)
	site.Add("http://site.test/old", "").RedirectTo = "http://site.test/"
	site.Add("http://site.test/gone", "gone").Status = http.StatusGone

	session, err := browsertest.NewLauncher(site).Launch(context.Background(), browser.LaunchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	page, err := session.NewPage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	f := &browser.PageFetcher{Page: page}

	t.Run("redirect reports final URL", func(t *testing.T) {
		resp, err := f.Fetch(context.Background(), "http://site.test/old")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if resp.URL != "http://site.test/old" || resp.FinalURL != "http://site.test/" {
			t.Errorf("unexpected URLs: %s -> %s", resp.URL, resp.FinalURL)
		}
		if !resp.IsHTML() {
			t.Errorf("expected HTML content type, got %q", resp.ContentType)
		}
	})

	t.Run("error status wraps ErrHTTPStatus", func(t *testing.T) {
		resp, err := f.Fetch(context.Background(), "http://site.test/gone")
		if !errors.Is(err, fetcher.ErrHTTPStatus) {
			t.Fatalf("expected ErrHTTPStatus, got %v", err)
		}
		if resp == nil || resp.StatusCode != http.StatusGone {
			t.Errorf("expected response with 410, got %+v", resp)
		}
	})

	t.Run("closed page fails", func(t *testing.T) {
		_ = session.Close()
		if _, err := f.Fetch(context.Background(), "http://site.test/"); !errors.Is(err, browser.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}
