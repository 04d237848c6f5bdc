package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"carrental.app/rentalctl/internal/platform/web"
)

// CSRF hands out csrftoken cookies and rejects mutating requests that present
// an X-CSRFToken header it never issued. Requests without the header pass.
// Tokens are a nonce plus its HMAC, so they stay valid across restarts that
// keep the same key.
type CSRF struct {
	key []byte
}

func NewCSRF(key []byte) *CSRF {
	return &CSRF{key: key}
}

func (c *CSRF) Issue() string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	return nonce + c.sign(nonce)
}

func (c *CSRF) Valid(token string) bool {
	if len(token) != 32+2*sha256.Size {
		return false
	}
	nonce, mac := token[:32], token[32:]
	return hmac.Equal([]byte(mac), []byte(c.sign(nonce)))
}

func (c *CSRF) sign(nonce string) string {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte("csrf:" + nonce))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) {
			if header := r.Header.Get(CSRFHeaderName); header != "" && !c.Valid(header) {
				web.WriteJSON(w, http.StatusForbidden, map[string]string{
					"detail": "CSRF token invalid.",
					"code":   "csrf_failed",
				})
				return
			}
		}

		if cookie, err := r.Cookie(CSRFCookieName); err != nil || !c.Valid(cookie.Value) {
			http.SetCookie(w, &http.Cookie{
				Name:     CSRFCookieName,
				Value:    c.Issue(),
				Path:     "/",
				MaxAge:   365 * 24 * 60 * 60,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
