package credential

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

// Persister keeps persistent cookies across processes, keyed by site.
type Persister interface {
	Load(ctx context.Context, site string) ([]Cookie, error)
	Save(ctx context.Context, site string, c Cookie) error
	Delete(ctx context.Context, site, name string) error
}

// CookieStore is an in-memory cookie jar for a single API site. Cookies with
// an expiry are written through to the Persister; session cookies never are.
type CookieStore struct {
	mu      sync.Mutex
	site    string
	cookies map[string]Cookie
	persist Persister
	now     func() time.Time
}

// NewCookieStore scopes the store to the registrable domain (eTLD+1) of
// baseURL and loads the cookies previously persisted for it. p may be nil.
func NewCookieStore(ctx context.Context, baseURL string, p Persister) (*CookieStore, error) {
	site, err := SiteOf(baseURL)
	if err != nil {
		return nil, err
	}
	s := &CookieStore{
		site:    site,
		cookies: make(map[string]Cookie),
		persist: p,
		now:     time.Now,
	}
	if p == nil {
		return s, nil
	}

	stored, err := p.Load(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("load cookies for %s: %w", site, err)
	}
	now := s.now()
	for _, c := range stored {
		if !c.Expires.After(now) {
			if err := p.Delete(ctx, site, c.Name); err != nil {
				log.Warn().Err(err).Str("cookie", c.Name).Msg("Failed to purge expired cookie")
			}
			continue
		}
		s.cookies[c.Name] = c
	}
	return s, nil
}

// SiteOf returns the cookie site of an API base URL: the eTLD+1 of its host,
// or the host itself for IPs, localhost and single-label names.
func SiteOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("api url %q has no host", baseURL)
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return site, nil
}

func (s *CookieStore) Site() string {
	return s.site
}

func (s *CookieStore) Get(name string) (string, bool) {
	c, ok := s.lookup(name)
	return c.Value, ok
}

func (s *CookieStore) Expiry(name string) (time.Time, bool) {
	c, ok := s.lookup(name)
	return c.Expires, ok
}

func (s *CookieStore) lookup(name string) (Cookie, bool) {
	s.mu.Lock()
	c, ok := s.cookies[name]
	if ok && !c.Session() && !c.Expires.After(s.now()) {
		delete(s.cookies, name)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		if c.Name != "" {
			s.forget(name)
		}
		return Cookie{}, false
	}
	return c, true
}

// Set stores a cookie. An expiry in the past deletes it, the way a browser does.
func (s *CookieStore) Set(name, value string, expires time.Time) {
	if !expires.IsZero() && !expires.After(s.now()) {
		s.Remove(name)
		return
	}

	c := Cookie{Name: name, Value: value, Expires: expires}
	s.mu.Lock()
	prev, had := s.cookies[name]
	s.cookies[name] = c
	s.mu.Unlock()

	switch {
	case !c.Session():
		s.save(c)
	case had && !prev.Session():
		// downgraded to a session cookie: the disk copy must not resurrect it
		s.forget(name)
	}
}

func (s *CookieStore) Remove(name string) {
	s.mu.Lock()
	prev, had := s.cookies[name]
	delete(s.cookies, name)
	s.mu.Unlock()

	if had && !prev.Session() {
		s.forget(name)
	}
}

// Absorb applies Set-Cookie headers of an API response. Cookies whose Domain
// attribute falls outside this store's site are ignored.
func (s *CookieStore) Absorb(cookies []*http.Cookie) {
	now := s.now()
	for _, hc := range cookies {
		if hc == nil || hc.Name == "" || !s.domainMatches(hc.Domain) {
			continue
		}
		switch {
		case hc.MaxAge < 0:
			s.Remove(hc.Name)
		case hc.MaxAge > 0:
			s.Set(hc.Name, hc.Value, now.Add(time.Duration(hc.MaxAge)*time.Second))
		default:
			s.Set(hc.Name, hc.Value, hc.Expires)
		}
	}
}

func (s *CookieStore) domainMatches(domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	if domain == "" {
		return true
	}
	return domain == s.site || strings.HasSuffix(domain, "."+s.site)
}

func (s *CookieStore) save(c Cookie) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(context.Background(), s.site, c); err != nil {
		log.Warn().Err(err).Str("cookie", c.Name).Msg("Failed to persist cookie")
	}
}

func (s *CookieStore) forget(name string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(context.Background(), s.site, name); err != nil {
		log.Warn().Err(err).Str("cookie", name).Msg("Failed to delete persisted cookie")
	}
}
