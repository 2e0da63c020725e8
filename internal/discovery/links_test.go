package discovery

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestEngineExtract(t *testing.T) {
	t.Parallel()

	const base = "http://site.test/section/page"

	tests := []struct {
		name    string
		html    string
		want    []string
		notWant []string
	}{
		{
			name: "anchors are resolved and fragment-stripped",
			html: `<a href="/about#team">About</a><a href="contact">Contact</a><a href="http://site.test/">Home</a>`,
			want: []string{"http://site.test/about", "http://site.test/section/contact", "http://site.test/"},
		},
		{
			name:    "non-navigable hrefs are skipped",
			html:    `<a href="mailto:a@site.test">m</a><a href="tel:123">t</a><a href="javascript:void(0)">j</a><a href="#top">f</a>`,
			notWant: []string{"mailto:a@site.test"},
		},
		{
			name:    "other hosts are skipped",
			html:    `<a href="http://other.test/x">x</a><a href="/ok">ok</a>`,
			want:    []string{"http://site.test/ok"},
			notWant: []string{"http://other.test/x"},
		},
		{
			name: "iframe src and form action",
			html: `<iframe src="/embedded"></iframe><form action="/search"><input name="q"></form>`,
			want: []string{"http://site.test/embedded", "http://site.test/search"},
		},
		{
			name:    "router data attributes",
			html:    `<div data-href="/reports"></div><button routerlink="/settings">s</button><router-link to="/profile">p</router-link><div data-to="modal"></div>`,
			want:    []string{"http://site.test/reports", "http://site.test/settings", "http://site.test/profile"},
			notWant: []string{"http://site.test/section/modal"},
		},
		{
			name: "inline script route literals",
			html: `<script>const routes = [{ path: '/courses', component: C }, { "route": "/grades" }];
fetch({ url: "/api/status", endpoint: '/v1/items' });</script>`,
			want: []string{"http://site.test/courses", "http://site.test/grades", "http://site.test/api/status", "http://site.test/v1/items"},
		},
		{
			name:    "external scripts are not scanned",
			html:    `<script src="/app.js">path: '/hidden'</script>`,
			notWant: []string{"http://site.test/hidden", "http://site.test/app.js"},
		},
		{
			name:    "stylesheet links are not pages",
			html:    `<link rel="stylesheet" href="/main.css"><link rel="alternate" href="/fr/">`,
			want:    []string{"http://site.test/fr/"},
			notWant: []string{"http://site.test/main.css"},
		},
		{
			name:    "invalid paths are filtered",
			html:    `<a href="/report.pdf">p</a><a href="/users/:id">t</a><a href="/item/{{id}}">t</a><a href="/img.PNG">i</a>`,
			notWant: []string{"http://site.test/report.pdf", "http://site.test/users/:id", "http://site.test/img.PNG"},
		},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := engine.Extract([]byte(tt.html), base)
			for _, w := range tt.want {
				if !slices.Contains(got, w) {
					t.Errorf("expected %s in %v", w, got)
				}
			}
			for _, nw := range tt.notWant {
				if slices.Contains(got, nw) {
					t.Errorf("did not expect %s in %v", nw, got)
				}
			}
		})
	}
}

func TestEngineExtract_Deduplicates(t *testing.T) {
	t.Parallel()

	html := `<a href="/a">1</a><a href="/a#x">2</a><a href="http://SITE.test/a">3</a><div data-href="/a"></div>`
	got := NewEngine().Extract([]byte(html), "http://site.test/")
	if len(got) != 1 || got[0] != "http://site.test/a" {
		t.Errorf("expected a single canonical link, got %v", got)
	}
}

func TestEngineExtract_FallsBackOnUnparsableMarkup(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	engine.parse = func(io.Reader) (*goquery.Document, error) {
		return nil, errors.New("parser rejected document")
	}
	markup := `<div><a href="/deep">deep</a><script>var r = {path: "/spa-route"}</script>`

	got := engine.Extract([]byte(markup), "http://site.test/")
	for _, want := range []string{"http://site.test/deep", "http://site.test/spa-route"} {
		if !slices.Contains(got, want) {
			t.Errorf("expected %s from fallback extraction, got %v", want, got)
		}
	}
}

func TestEngineAnalyze(t *testing.T) {
	t.Parallel()

	html := `<html><head><title> Course Home </title><style>.x{}</style></head>
<body><h1>Welcome back</h1><p>three more words</p><script>var ignored = 1;</script></body></html>`
	doc := NewEngine().Analyze([]byte(html), "http://site.test/")
	if doc.Title != "Course Home" {
		t.Errorf("expected trimmed title, got %q", doc.Title)
	}
	if doc.WordCount != 5 {
		t.Errorf("expected 5 words, got %d", doc.WordCount)
	}
}

func TestEngineRouteGuesses(t *testing.T) {
	t.Parallel()

	t.Run("no guesses by default", func(t *testing.T) {
		t.Parallel()

		got := NewEngine().Extract([]byte(`<p>static</p>`), "http://site.test/")
		if len(got) != 0 {
			t.Errorf("expected no links, got %v", got)
		}
	})

	t.Run("common family", func(t *testing.T) {
		t.Parallel()

		got := NewEngine(WithRouteGuesses()).Extract(nil, "http://site.test/x/y")
		for _, p := range CommonFamily.Paths {
			if !slices.Contains(got, "http://site.test"+p) {
				t.Errorf("expected guess %s in %v", p, got)
			}
		}
	})

	t.Run("selected and host-matched families", func(t *testing.T) {
		t.Parallel()

		got := NewEngine(WithRouteFamilies("shop")).Extract(nil, "https://canvas.school.test/")
		if !slices.Contains(got, "https://canvas.school.test/cart") {
			t.Errorf("expected selected shop family, got %v", got)
		}
		if !slices.Contains(got, "https://canvas.school.test/courses") {
			t.Errorf("expected host-matched lms family, got %v", got)
		}
	})

	t.Run("custom family", func(t *testing.T) {
		t.Parallel()

		f := RouteFamily{Name: "portal", Paths: []string{"/my/timetable"}}
		got := NewEngine(WithFamily(f)).Extract(nil, "http://site.test/")
		if !slices.Contains(got, "http://site.test/my/timetable") {
			t.Errorf("expected custom guess, got %v", got)
		}
	})
}

func TestBuiltinFamilyNames(t *testing.T) {
	t.Parallel()

	names := BuiltinFamilyNames()
	if !slices.IsSorted(names) {
		t.Errorf("expected sorted names, got %v", names)
	}
	for _, n := range names {
		if _, ok := lookupFamily(strings.ToUpper(n)); !ok {
			t.Errorf("lookup of %s should be case-insensitive", n)
		}
	}
}

func TestValidPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{path: "", want: true},
		{path: "/", want: true},
		{path: "/courses/42", want: true},
		{path: "/index.html", want: true},
		{path: "/view.php", want: true},
		{path: "/file.pdf", want: false},
		{path: "/bundle.js", want: false},
		{path: "/feed.xml", want: false},
		{path: "/users/:id", want: false},
		{path: "/a/${id}", want: false},
		{path: "/a/{slug}", want: false},
		{path: "/" + strings.Repeat("a", 250), want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.30s", tt.path), func(t *testing.T) {
			t.Parallel()
			if got := ValidPath(tt.path); got != tt.want {
				t.Errorf("ValidPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://site.test", want: "http://site.test/"},
		{in: "http://site.test/#top", want: "http://site.test/"},
		{in: "HTTP://Site.Test/About#x", want: "http://site.test/About"},
		{in: "http://site.test/a?b=1#c", want: "http://site.test/a?b=1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Canonicalize(tt.in); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
