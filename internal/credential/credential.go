// Package credential is the cookie-backed store holding the access token, the
// refresh token and the server-issued CSRF token.
package credential

import "time"

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	CSRFCookie         = "csrftoken"

	DefaultRetention = 30 * 24 * time.Hour
)

// Cookie is one stored name/value pair. A zero Expires marks a session cookie.
type Cookie struct {
	Name    string
	Value   string
	Expires time.Time
}

// Session reports whether the cookie lives only as long as the process.
func (c Cookie) Session() bool {
	return c.Expires.IsZero()
}

// Store is the key/value surface shared by the API client and the session holder.
// Writes never fail from the caller's point of view.
type Store interface {
	Get(name string) (string, bool)
	// Set stores value under name; a zero expires makes it a session cookie.
	Set(name, value string, expires time.Time)
	Remove(name string)
	// Expiry returns the expiry of a present cookie (zero for session cookies).
	Expiry(name string) (time.Time, bool)
}

// Pair is the credential pair issued by login.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Credentials applies the token persistence policy on top of a Store.
type Credentials struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

// New wraps store; retention <= 0 means DefaultRetention.
func New(store Store, retention time.Duration) *Credentials {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Credentials{store: store, retention: retention, now: time.Now}
}

func (c *Credentials) Store() Store {
	return c.store
}

func (c *Credentials) AccessToken() (string, bool) {
	return c.nonEmpty(AccessTokenCookie)
}

func (c *Credentials) RefreshToken() (string, bool) {
	return c.nonEmpty(RefreshTokenCookie)
}

func (c *Credentials) CSRFToken() (string, bool) {
	return c.nonEmpty(CSRFCookie)
}

func (c *Credentials) nonEmpty(name string) (string, bool) {
	v, ok := c.store.Get(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SaveLogin stores both tokens: persistent for the retention window when
// rememberMe is set, session cookies otherwise.
func (c *Credentials) SaveLogin(p Pair, rememberMe bool) {
	var expires time.Time
	if rememberMe {
		expires = c.now().Add(c.retention)
	}
	c.store.Set(AccessTokenCookie, p.Access, expires)
	c.store.Set(RefreshTokenCookie, p.Refresh, expires)
}

// SaveRefreshed stores a refreshed access token (and a rotated refresh token
// when non-empty) with the persistence the login established. Session logins
// stay session cookies. A remembered session gets a fresh retention window
// only when the refresh token was rotated; otherwise the access cookie never
// outlives the refresh cookie it was obtained with.
func (c *Credentials) SaveRefreshed(access, refresh string) {
	refreshExp, ok := c.store.Expiry(RefreshTokenCookie)
	if !ok || refreshExp.IsZero() {
		c.store.Set(AccessTokenCookie, access, time.Time{})
		if refresh != "" {
			c.store.Set(RefreshTokenCookie, refresh, time.Time{})
		}
		return
	}

	expires := c.now().Add(c.retention)
	if refresh != "" {
		c.store.Set(RefreshTokenCookie, refresh, expires)
	} else if refreshExp.Before(expires) {
		expires = refreshExp
	}
	c.store.Set(AccessTokenCookie, access, expires)
}

// Clear removes both tokens. The CSRF cookie belongs to the server and stays.
func (c *Credentials) Clear() {
	c.store.Remove(AccessTokenCookie)
	c.store.Remove(RefreshTokenCookie)
}

// Remembered reports whether the current tokens outlive the process.
func (c *Credentials) Remembered() bool {
	exp, ok := c.store.Expiry(RefreshTokenCookie)
	return ok && !exp.IsZero()
}
