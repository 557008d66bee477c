// Package api exposes the token-security services over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/middleware"
	"github.com/paperpress/blog-api/services"
)

// AuthAPI holds the handler dependencies.
type AuthAPI struct {
	tokens    *services.TokenService
	sessions  *services.RefreshSessionService
	denylist  *services.BlacklistService
	twoFactor *services.TwoFactorService
	signer    *services.Signer
}

// NewAuthAPI initializes the authentication API.
func NewAuthAPI(
	tokens *services.TokenService,
	sessions *services.RefreshSessionService,
	denylist *services.BlacklistService,
	twoFactor *services.TwoFactorService,
	signer *services.Signer,
) *AuthAPI {
	return &AuthAPI{
		tokens:    tokens,
		sessions:  sessions,
		denylist:  denylist,
		twoFactor: twoFactor,
		signer:    signer,
	}
}

// RegisterRoutes registers the authentication routes. Routes under the
// authenticated group require a valid, non-revoked access credential.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/tokens", a.IssueTokenHandler)
	e.GET("/auth/tokens/validate", a.ValidateTokenHandler)
	e.POST("/auth/tokens/consume", a.ConsumeTokenHandler)

	e.POST("/auth/refresh", a.RefreshHandler)

	authed := e.Group("", middleware.Authn(a.signer, a.denylist))
	authed.POST("/auth/logout", a.LogoutHandler)
	authed.GET("/auth/sessions", a.SessionsHandler)
	authed.DELETE("/auth/sessions", a.RevokeAllSessionsHandler)

	authed.POST("/auth/2fa/setup", a.TwoFactorSetupHandler)
	authed.POST("/auth/2fa/enable", a.TwoFactorEnableHandler)
	authed.POST("/auth/2fa/verify", a.TwoFactorVerifyHandler)
	authed.POST("/auth/2fa/backup-codes", a.TwoFactorBackupCodesHandler)
	authed.POST("/auth/2fa/disable", a.TwoFactorDisableHandler)
	authed.GET("/auth/2fa/status", a.TwoFactorStatusHandler)

	authed.GET("/auth/tokens/stats", a.TokenStatsHandler)
}

type issueTokenRequest struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
}

// IssueTokenHandler issues a new single-use action token for a subject.
func (a *AuthAPI) IssueTokenHandler(c echo.Context) error {
	var req issueTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	category := domain.TokenCategory(req.Category)
	if req.Subject == "" || !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "subject and a valid category are required")
	}

	token, err := a.tokens.Issue(c.Request().Context(), req.Subject, category)
	if err != nil {
		var rateErr *domain.RateLimitError
		if errors.As(err, &rateErr) {
			if !rateErr.RetryAt.IsZero() {
				seconds := int(time.Until(rateErr.RetryAt).Seconds())
				if seconds > 0 {
					c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				}
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, rateErr.Error())
		}
		log.Error().Err(err).Msg("Failed to issue action token")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}

	return c.JSON(http.StatusCreated, token)
}

// ValidateTokenHandler checks a token without consuming it.
func (a *AuthAPI) ValidateTokenHandler(c echo.Context) error {
	value := c.QueryParam("token")
	category := domain.TokenCategory(c.QueryParam("category"))
	if value == "" || !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "token and a valid category are required")
	}

	token, err := a.tokens.Validate(c.Request().Context(), value, category)
	if err != nil {
		return tokenErrorResponse(err)
	}
	return c.JSON(http.StatusOK, token)
}

type consumeTokenRequest struct {
	Token    string `json:"token"`
	Category string `json:"category"`
}

// ConsumeTokenHandler atomically consumes a token.
func (a *AuthAPI) ConsumeTokenHandler(c echo.Context) error {
	var req consumeTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	category := domain.TokenCategory(req.Category)
	if req.Token == "" || !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "token and a valid category are required")
	}

	token, err := a.tokens.Consume(c.Request().Context(), req.Token, category)
	if err != nil {
		return tokenErrorResponse(err)
	}
	return c.JSON(http.StatusOK, token)
}

func tokenErrorResponse(err error) error {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrTokenAlreadyUsed),
		errors.Is(err, domain.ErrTokenExpired):
		// One answer for unknown, consumed and expired alike; the endpoint
		// must not reveal which token values exist or what state they are in.
		log.Debug().Err(err).Msg("Token validation failed")
		return echo.NewHTTPError(http.StatusNotFound, "invalid or expired token")
	default:
		log.Error().Err(err).Msg("Token operation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "token operation failed")
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
}

// RefreshHandler trades a refresh token for a fresh access credential.
func (a *AuthAPI) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required")
	}

	result, err := a.sessions.Exchange(c.Request().Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
		}
		log.Error().Err(err).Msg("Refresh exchange failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "refresh failed")
	}

	return c.JSON(http.StatusOK, refreshResponse{
		AccessToken:     result.AccessToken,
		AccessExpiresAt: result.AccessExpiresAt,
		RefreshToken:    result.RefreshToken,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutHandler ends the current session: the refresh token is revoked and
// the presented access credential is denylisted for its remaining life.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ctx := c.Request().Context()
	if req.RefreshToken != "" {
		if err := a.sessions.Revoke(ctx, req.RefreshToken); err != nil {
			log.Error().Err(err).Msg("Failed to revoke refresh token on logout")
		}
	}

	raw, _ := bearerToken(c)
	if raw != "" {
		err := a.denylist.RevokeCredential(ctx, a.signer, raw, middleware.UserID(c), domain.ReasonLogout)
		if err != nil {
			var policyErr *domain.SecurityPolicyError
			if errors.As(err, &policyErr) {
				return echo.NewHTTPError(http.StatusTooManyRequests, policyErr.Reason)
			}
			log.Error().Err(err).Msg("Failed to denylist access credential on logout")
			return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// SessionsHandler lists the user's active sessions.
func (a *AuthAPI) SessionsHandler(c echo.Context) error {
	sessions, err := a.sessions.ActiveSessions(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active sessions")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

// RevokeAllSessionsHandler ends every session the user has.
func (a *AuthAPI) RevokeAllSessionsHandler(c echo.Context) error {
	count, err := a.sessions.RevokeAllForUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to revoke all sessions")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke sessions")
	}
	return c.JSON(http.StatusOK, map[string]int64{"revoked": count})
}

type twoFactorSetupRequest struct {
	AccountName string `json:"account_name"`
}

// TwoFactorSetupHandler provisions a new second-factor secret.
func (a *AuthAPI) TwoFactorSetupHandler(c echo.Context) error {
	var req twoFactorSetupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	accountName := req.AccountName
	if accountName == "" {
		accountName = middleware.UserID(c)
	}

	setup, err := a.twoFactor.Setup(c.Request().Context(), middleware.UserID(c), accountName)
	if err != nil {
		if errors.Is(err, domain.ErrTwoFactorAlreadyEnabled) {
			return echo.NewHTTPError(http.StatusConflict, "two-factor authentication is already enabled")
		}
		log.Error().Err(err).Msg("Second-factor setup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "setup failed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"backup_codes":     setup.BackupCodes,
	})
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// TwoFactorEnableHandler activates the pending configuration.
func (a *AuthAPI) TwoFactorEnableHandler(c echo.Context) error {
	var req twoFactorCodeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	if err := a.twoFactor.Enable(c.Request().Context(), middleware.UserID(c), req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrTwoFactorNotConfigured):
			return echo.NewHTTPError(http.StatusNotFound, "two-factor authentication is not configured")
		case errors.Is(err, domain.ErrTwoFactorAlreadyEnabled):
			return echo.NewHTTPError(http.StatusConflict, "two-factor authentication is already enabled")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid verification code")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// TwoFactorVerifyHandler checks a login-time code.
func (a *AuthAPI) TwoFactorVerifyHandler(c echo.Context) error {
	var req twoFactorCodeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	ok, err := a.twoFactor.Verify(c.Request().Context(), middleware.UserID(c), req.Code)
	if err != nil {
		log.Error().Err(err).Msg("Second-factor verification failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "verification failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": ok})
}

// TwoFactorBackupCodesHandler regenerates the backup code set.
func (a *AuthAPI) TwoFactorBackupCodesHandler(c echo.Context) error {
	var req twoFactorCodeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	codes, err := a.twoFactor.RegenerateBackupCodes(c.Request().Context(), middleware.UserID(c), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTwoFactorNotConfigured), errors.Is(err, domain.ErrTwoFactorNotEnabled):
			return echo.NewHTTPError(http.StatusNotFound, "two-factor authentication is not enabled")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid verification code")
		}
	}
	return c.JSON(http.StatusOK, map[string][]string{"backup_codes": codes})
}

// TwoFactorDisableHandler turns the second factor off.
func (a *AuthAPI) TwoFactorDisableHandler(c echo.Context) error {
	var req twoFactorCodeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	if err := a.twoFactor.Disable(c.Request().Context(), middleware.UserID(c), req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrTwoFactorNotConfigured), errors.Is(err, domain.ErrTwoFactorNotEnabled):
			return echo.NewHTTPError(http.StatusNotFound, "two-factor authentication is not enabled")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid verification code")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// TwoFactorStatusHandler reports the user's second-factor state.
func (a *AuthAPI) TwoFactorStatusHandler(c echo.Context) error {
	status, err := a.twoFactor.Status(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read second-factor status")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read status")
	}
	return c.JSON(http.StatusOK, status)
}

// TokenStatsHandler returns per-category token counts for monitoring.
func (a *AuthAPI) TokenStatsHandler(c echo.Context) error {
	stats, err := a.tokens.Statistics(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect token statistics")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to collect statistics")
	}
	return c.JSON(http.StatusOK, stats)
}

func bearerToken(c echo.Context) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
