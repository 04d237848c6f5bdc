package auth

import (
	"net/http"
	"strings"

	"carrental.app/rentalctl/internal/platform/web"
)

var publicAPIPaths = map[string]struct{}{
	"/api/health/":             {},
	"/api/auth/login/":         {},
	"/api/auth/register/":      {},
	"/api/auth/token/refresh/": {},
}

// Middleware authenticates /api/ requests by their bearer access token.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicAPIPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "Authentication credentials were not provided.", "not_authenticated")
			return
		}
		claims, err := s.ParseToken(token, TokenTypeAccess)
		if err != nil {
			writeUnauthorized(w, "Given token not valid for any token type", "token_not_valid")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, detail, code string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	web.WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"detail": detail,
		"code":   code,
	})
}
