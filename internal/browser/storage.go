package browser

import (
	"net/http"
	"time"
)

// Cookie is a browser cookie in the shape browsers export it.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage is the local storage of one origin.
type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage"`
}

// StorageState is a captured browser login state. It is treated as opaque
// by the crawler and replayed verbatim.
type StorageState struct {
	Cookies        []Cookie          `json:"cookies"`
	Origins        []OriginStorage   `json:"origins"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
}

// Empty reports whether the state carries nothing worth replaying.
func (s *StorageState) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0 && len(s.SessionStorage) == 0)
}

// HTTPCookies converts the cookies that are still valid at now for use with
// an http.CookieJar.
func (s *StorageState) HTTPCookies(now time.Time) []*http.Cookie {
	if s == nil {
		return nil
	}
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			exp := time.Unix(int64(c.Expires), 0)
			if exp.Before(now) {
				continue
			}
			hc.Expires = exp
		}
		out = append(out, hc)
	}
	return out
}
