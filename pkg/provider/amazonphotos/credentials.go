package amazonphotos

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Cookie names the session must carry.
const (
	CookieSessionID = "session-id"
	CookieUBID      = "ubid-main"
	CookieAT        = "at-main"
)

// RequiredCookies lists the cookie names every credential set must contain.
var RequiredCookies = []string{CookieSessionID, CookieUBID, CookieAT}

// ErrMissingCookie is returned when a required cookie is absent or empty.
var ErrMissingCookie = errors.New("missing required cookie")

// Cookie is one name/value pair exported from the browser.
type Cookie struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Credentials is an immutable, ordered cookie set for one session.
//
// The zero value is empty and fails Config.Validate.
type Credentials struct {
	cookies []Cookie
}

// NewCredentials builds a credential set, keeping the given order.
// A repeated name keeps its first position and its last value.
func NewCredentials(cookies ...Cookie) (Credentials, error) {
	out := make([]Cookie, 0, len(cookies))
	index := make(map[string]int, len(cookies))
	for _, c := range cookies {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			out[i].Value = c.Value
			continue
		}
		index[name] = len(out)
		out = append(out, Cookie{Name: name, Value: c.Value})
	}

	for _, name := range RequiredCookies {
		i, ok := index[name]
		if !ok || strings.TrimSpace(out[i].Value) == "" {
			return Credentials{}, fmt.Errorf("%w: %s", ErrMissingCookie, name)
		}
	}

	return Credentials{cookies: out}, nil
}

// CredentialsFromMap builds a credential set from a name→value map.
// Names are sorted so the rendered Cookie header is stable.
func CredentialsFromMap(m map[string]string) (Credentials, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, Cookie{Name: name, Value: m[name]})
	}
	return NewCredentials(cookies...)
}

// IsZero reports whether the set is empty.
func (c Credentials) IsZero() bool {
	return len(c.cookies) == 0
}

// Cookies returns a copy of the ordered cookie list.
func (c Credentials) Cookies() []Cookie {
	out := make([]Cookie, len(c.cookies))
	copy(out, c.cookies)
	return out
}

// Map returns the cookies as a fresh name→value map.
func (c Credentials) Map() map[string]string {
	m := make(map[string]string, len(c.cookies))
	for _, ck := range c.cookies {
		m[ck.Name] = ck.Value
	}
	return m
}

// Get returns the value of a cookie and whether it is present.
func (c Credentials) Get(name string) (string, bool) {
	for _, ck := range c.cookies {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// SessionID returns the session-id cookie. It doubles as the owner id
// expected by the thumbnail service.
func (c Credentials) SessionID() string {
	v, _ := c.Get(CookieSessionID)
	return v
}

// CookieHeader renders the Cookie request header value.
func (c Credentials) CookieHeader() string {
	parts := make([]string, 0, len(c.cookies))
	for _, ck := range c.cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// Header renders the headers every upstream call needs. Values in extra
// replace the defaults.
func (c Credentials) Header(userAgent string, extra http.Header) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("Cookie", c.CookieHeader())
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", "https://www.amazon.com")
	h.Set("Referer", "https://www.amazon.com/photos/")
	h.Set("x-amzn-sessionid", c.SessionID())
	for k, vs := range extra {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

// String redacts cookie values.
func (c Credentials) String() string {
	names := make([]string, 0, len(c.cookies))
	for _, ck := range c.cookies {
		names = append(names, ck.Name+"=***")
	}
	return "Credentials{" + strings.Join(names, ", ") + "}"
}
