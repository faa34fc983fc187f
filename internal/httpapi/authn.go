package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dealgate.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// Tracked-link resolution is anonymous: the token in the URL is the
// credential.
var publicPrefixes = []string{
	"/l/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if !auth.SupportsTokens() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.WithPrincipal(r.Context(), auth.Principal{
			UserID: claims.Subject,
			Email:  claims.Email,
			Roles:  claims.Roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission writes the error response itself and reports whether the
// caller may proceed. Requests pass when token auth is not configured.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	if !auth.SupportsTokens() {
		return true
	}
	if !auth.Can(r.Context(), perm) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
