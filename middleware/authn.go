package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/paperpress/blog-api/services"
)

const (
	// ContextKeyUserID is where the middleware stores the authenticated user
	// ID on the echo context.
	ContextKeyUserID = "auth.user_id"
	// ContextKeyTokenID is where the middleware stores the credential ID.
	ContextKeyTokenID = "auth.token_id"
)

// RevocationChecker answers whether a credential ID has been denylisted.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) bool
}

// Authn returns middleware that authenticates requests with a bearer access
// credential: signature and expiry via the signer, then the revocation
// registry. All failures produce the same 401 so callers learn nothing about
// why a credential was rejected.
func Authn(signer *services.Signer, revocations RevocationChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing credentials")
			}

			claims, err := signer.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing credentials")
			}
			if revocations != nil && revocations.IsRevoked(c.Request().Context(), claims.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing credentials")
			}

			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeyTokenID, claims.ID)
			return next(c)
		}
	}
}

// UserID returns the authenticated user ID stored by Authn, or "".
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextKeyUserID).(string)
	return id
}

// TokenID returns the authenticated credential ID stored by Authn, or "".
func TokenID(c echo.Context) string {
	id, _ := c.Get(ContextKeyTokenID).(string)
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
