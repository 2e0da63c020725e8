package auth

import (
	"context"

	"github.com/nao1215/a11ycrawl/internal/browser"
)

// DefaultSuccessSelectors match elements that only appear once logged in.
var DefaultSuccessSelectors = []string{
	`a[href*="logout"]`,
	`a[href*="signout"]`,
	`a[href*="sign-out"]`,
	`button[data-action="logout"]`,
	`[aria-label*="Log out"]`,
	`[aria-label*="Sign out"]`,
	`a[href*="/profile"]`,
	`a[href*="/account"]`,
	`a[href*="/dashboard"]`,
	`#user-menu`,
	`.user-menu`,
}

// LoginSuccessDetector decides whether a login attempt on page worked.
type LoginSuccessDetector interface {
	Detect(ctx context.Context, page browser.Page, loginURL string) (bool, error)
}

// DetectorFunc adapts a function to LoginSuccessDetector.
type DetectorFunc func(ctx context.Context, page browser.Page, loginURL string) (bool, error)

// Detect implements LoginSuccessDetector.
func (f DetectorFunc) Detect(ctx context.Context, page browser.Page, loginURL string) (bool, error) {
	return f(ctx, page, loginURL)
}

// SelectorDetector succeeds when any selector matches an element.
type SelectorDetector struct {
	Selectors []string
}

// Detect implements LoginSuccessDetector.
func (d SelectorDetector) Detect(ctx context.Context, page browser.Page, _ string) (bool, error) {
	selectors := d.Selectors
	if len(selectors) == 0 {
		selectors = DefaultSuccessSelectors
	}
	for _, sel := range selectors {
		n, err := page.Count(ctx, sel)
		if err != nil {
			continue
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// URLChangeDetector succeeds when the page left the login page and did not
// land on another login-looking URL.
type URLChangeDetector struct{}

// Detect implements LoginSuccessDetector.
func (URLChangeDetector) Detect(ctx context.Context, page browser.Page, loginURL string) (bool, error) {
	current, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	return !LooksLikeLoginURL(current, loginURL), nil
}

// AnyDetector succeeds when any of its detectors does. Detector errors are
// ignored unless every detector fails.
type AnyDetector []LoginSuccessDetector

// Detect implements LoginSuccessDetector.
func (a AnyDetector) Detect(ctx context.Context, page browser.Page, loginURL string) (bool, error) {
	var lastErr error
	failed := 0
	for _, d := range a {
		ok, err := d.Detect(ctx, page, loginURL)
		if err != nil {
			lastErr = err
			failed++
			continue
		}
		if ok {
			return true, nil
		}
	}
	if failed > 0 && failed == len(a) {
		return false, lastErr
	}
	return false, nil
}
