// Package cookies turns the browser's encrypted cookie database into an
// in-memory credential store used to authenticate platform requests.
package cookies

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Record is one raw row of the browser cookie table.
type Record struct {
	Name              string
	Domain            string
	CipherBlob        []byte
	PlaintextFallback string
}

// Store maps cookie names to plaintext values. It is immutable once built and
// safe for concurrent readers.
type Store struct {
	values map[string]string
}

// NewStore builds a Store from a name/value map. Intended for tests and the
// operator override path.
func NewStore(values map[string]string) *Store {
	s := &Store{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the value for name.
func (s *Store) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of distinct cookie names.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Names returns cookie names in sorted order.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Header renders a Cookie header value. With no names, every cookie is
// included in sorted order; otherwise only the named ones that exist.
func (s *Store) Header(names ...string) string {
	if len(names) == 0 {
		names = s.Names()
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if v, ok := s.Get(n); ok {
			parts = append(parts, n+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}

// Jar builds a cookie jar holding every cookie as a domain cookie for domain
// (e.g. ".douyin.com"), so requests to any subdomain carry them.
func (s *Store) Jar(domain string) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	host := strings.TrimPrefix(domain, ".")
	if host == "" {
		return nil, fmt.Errorf("cookie domain empty")
	}
	u := &url.URL{Scheme: "https", Host: host, Path: "/"}
	list := make([]*http.Cookie, 0, s.Len())
	for _, n := range s.Names() {
		v, _ := s.Get(n)
		list = append(list, &http.Cookie{Name: n, Value: v, Domain: host, Path: "/"})
	}
	jar.SetCookies(u, list)
	return jar, nil
}
