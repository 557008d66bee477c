package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperpress/blog-api/api"
	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/inmemory"
	"github.com/paperpress/blog-api/services"
)

type testServer struct {
	e      *echo.Echo
	signer *services.Signer
	tokens *services.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	actionTokens := inmemory.NewActionTokenRepository()
	limiter := services.NewTokenRateLimiter(actionTokens, nil)
	tokens := services.NewTokenService(actionTokens, limiter, nil, 30*24*time.Hour)
	sessions := services.NewRefreshSessionService(inmemory.NewRefreshTokenRepository(), signer, services.DefaultSessionPolicy())
	denylist := services.NewBlacklistService(inmemory.NewRevokedTokenRepository(), nil, time.Minute, 10)
	twoFactor := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	e := echo.New()
	api.NewAuthAPI(tokens, sessions, denylist, twoFactor, signer).RegisterRoutes(e)
	return &testServer{e: e, signer: signer, tokens: tokens}
}

func (s *testServer) request(method, path, body, bearer string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestIssueTokenHandler(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodPost, "/auth/tokens",
		`{"subject":"reader@example.com","category":"newsletter_confirm"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "reader@example.com", body["subject"])
	assert.NotEmpty(t, body["value"])
}

func TestIssueTokenHandler_BadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodPost, "/auth/tokens", `{"subject":"","category":"newsletter_confirm"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPost, "/auth/tokens", `{"subject":"a@b.c","category":"bogus"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueTokenHandler_RateLimited(t *testing.T) {
	s := newTestServer(t)

	body := `{"subject":"reader@example.com","category":"newsletter_confirm"}`
	for i := 0; i < 3; i++ {
		rec := s.request(http.MethodPost, "/auth/tokens", body, "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.request(http.MethodPost, "/auth/tokens", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestConsumeTokenHandler(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodPost, "/auth/tokens",
		`{"subject":"reader@example.com","category":"newsletter_confirm"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	value := issued["value"].(string)

	rec = s.request(http.MethodGet, "/auth/tokens/validate?token="+value+"&category=newsletter_confirm", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	consume := `{"token":"` + value + `","category":"newsletter_confirm"}`
	rec = s.request(http.MethodPost, "/auth/tokens/consume", consume, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Single use.
	rec = s.request(http.MethodPost, "/auth/tokens/consume", consume, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.request(http.MethodGet, "/auth/tokens/validate?token=unknown&category=newsletter_confirm", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenFailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	consumed, err := s.tokens.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	_, err = s.tokens.Consume(ctx, consumed.Value, domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	expired, err := s.tokens.IssueWithTTL(ctx, "other@example.com", domain.CategoryNewsletterConfirm, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// Unknown, consumed and expired tokens must draw the same answer; any
	// difference lets callers enumerate token values and their state.
	values := []string{"never-issued", consumed.Value, expired.Value}
	var codes []int
	var bodies []string
	for _, value := range values {
		rec := s.request(http.MethodPost, "/auth/tokens/consume",
			`{"token":"`+value+`","category":"newsletter_confirm"}`, "")
		codes = append(codes, rec.Code)
		bodies = append(bodies, rec.Body.String())

		rec = s.request(http.MethodGet, "/auth/tokens/validate?token="+value+"&category=newsletter_confirm", "", "")
		codes = append(codes, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}
	for i := 1; i < len(codes); i++ {
		assert.Equal(t, codes[0], codes[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
}

func TestRefreshHandler(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodPost, "/auth/refresh", `{"refresh_token":"never-issued"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.request(http.MethodPost, "/auth/refresh", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireCredential(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodGet, "/auth/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, _, _, err := s.signer.Mint("user-1")
	require.NoError(t, err)
	rec = s.request(http.MethodGet, "/auth/sessions", "", raw)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRevokesCredential(t *testing.T) {
	s := newTestServer(t)

	raw, _, _, err := s.signer.Mint("user-1")
	require.NoError(t, err)

	rec := s.request(http.MethodPost, "/auth/logout", `{}`, raw)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The denylisted credential no longer opens protected routes.
	rec = s.request(http.MethodGet, "/auth/sessions", "", raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	raw, _, _, err := s.signer.Mint("user-1")
	require.NoError(t, err)

	rec := s.request(http.MethodPost, "/auth/2fa/setup", `{"account_name":"reader@example.com"}`, raw)
	require.Equal(t, http.StatusOK, rec.Code)
	var setup struct {
		Secret      string   `json:"secret"`
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setup))
	require.NotEmpty(t, setup.Secret)
	require.Len(t, setup.BackupCodes, 10)

	rec = s.request(http.MethodGet, "/auth/2fa/status", "", raw)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Configured bool `json:"configured"`
		Enabled    bool `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Configured)
	assert.False(t, status.Enabled)

	rec = s.request(http.MethodPost, "/auth/2fa/enable", `{"code":"000000"}`, raw)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
