package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/internal/metrics"
)

const refreshTokenBytes = 32

// SessionPolicy bounds a user's refresh-token sessions.
type SessionPolicy struct {
	TokenTTL        time.Duration
	MaxPerUser      int
	CreatePerHour   int
	RotationEnabled bool
	// RevokedRetention is how long revoked and expired session records are
	// kept before cleanup erases them.
	RevokedRetention time.Duration
}

// DefaultSessionPolicy returns the documented session defaults.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		TokenTTL:         30 * 24 * time.Hour,
		MaxPerUser:       5,
		CreatePerHour:    10,
		RotationEnabled:  true,
		RevokedRetention: 30 * 24 * time.Hour,
	}
}

// ExchangeResult is what a successful refresh exchange yields: a fresh access
// credential and the refresh token to present next time (the same one when
// rotation is off, a replacement when it is on).
type ExchangeResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	UserID          string
}

// RefreshSessionService manages long-lived refresh-token sessions: creation
// under per-user caps, exchange for access credentials with optional
// rotation, and revocation.
type RefreshSessionService struct {
	repo   domain.RefreshTokenRepository
	signer *Signer
	policy SessionPolicy
}

// NewRefreshSessionService creates the session manager.
func NewRefreshSessionService(repo domain.RefreshTokenRepository, signer *Signer, policy SessionPolicy) *RefreshSessionService {
	if policy.TokenTTL <= 0 {
		policy = DefaultSessionPolicy()
	}
	return &RefreshSessionService{repo: repo, signer: signer, policy: policy}
}

// CreateSession opens a new refresh session for the user. It enforces the
// hourly creation cap, then the per-user concurrent-session cap by evicting
// the oldest active sessions to make room.
func (s *RefreshSessionService) CreateSession(ctx context.Context, userID, deviceInfo, ipAddress string) (*domain.RefreshToken, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	now := time.Now().UTC()
	created, err := s.repo.CountCreatedSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("session rate check failed: %w", err)
	}
	if created >= int64(s.policy.CreatePerHour) {
		log.Warn().Str("user_id", userID).Int64("created_last_hour", created).
			Msg("Session creation rate limit exceeded")
		return nil, &domain.SecurityPolicyError{Reason: "too many sessions created recently, please try again later"}
	}

	if err := s.evictOverCap(ctx, userID, now); err != nil {
		return nil, err
	}

	value, err := generateRefreshTokenValue()
	if err != nil {
		return nil, err
	}
	token, err := domain.NewRefreshToken(value, userID, deviceInfo, ipAddress, s.policy.TokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Store(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	metrics.RefreshSessionsCreatedTotal.Inc()
	log.Info().Str("user_id", userID).Time("expires_at", token.ExpiresAt).
		Msg("Refresh session created")
	return token, nil
}

// evictOverCap revokes the user's oldest active sessions until a new one
// fits under the cap. The count query keeps the common under-cap path from
// fetching the full session list.
func (s *RefreshSessionService) evictOverCap(ctx context.Context, userID string, now time.Time) error {
	count, err := s.repo.CountActiveByUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("failed to count active sessions: %w", err)
	}
	if count < int64(s.policy.MaxPerUser) {
		return nil
	}

	active, err := s.repo.FindActiveByUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}
	excess := len(active) - s.policy.MaxPerUser + 1
	for i := 0; i < excess && i < len(active); i++ {
		revoked, err := s.repo.Revoke(ctx, active[i].Token, now)
		if err != nil {
			return fmt.Errorf("failed to evict oldest session: %w", err)
		}
		if revoked {
			metrics.RefreshSessionsEvictedTotal.Inc()
			log.Info().Str("user_id", userID).Time("evicted_created_at", active[i].CreatedAt).
				Msg("Evicted oldest refresh session to respect per-user cap")
		}
	}
	return nil
}

// Exchange trades a refresh token for a fresh access credential. With
// rotation enabled the presented token is revoked and a replacement
// inheriting its device info is returned; the caller must persist the
// replacement. An unknown, expired or revoked token fails with
// ErrInvalidSession.
func (s *RefreshSessionService) Exchange(ctx context.Context, refreshToken string) (*ExchangeResult, error) {
	now := time.Now().UTC()
	session, err := s.repo.FindActive(ctx, refreshToken, now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			metrics.RefreshInvalidAttemptsTotal.Inc()
			log.Warn().Msg("Refresh exchange attempted with invalid token")
		}
		return nil, err
	}

	if err := s.repo.Touch(ctx, refreshToken, now); err != nil {
		log.Warn().Err(err).Msg("Failed to record refresh token use time")
	}

	accessToken, _, accessExpiresAt, err := s.signer.Mint(session.UserID)
	if err != nil {
		return nil, err
	}

	result := &ExchangeResult{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		RefreshToken:    refreshToken,
		UserID:          session.UserID,
	}

	if s.policy.RotationEnabled {
		rotated, err := s.rotate(ctx, session, now)
		if err != nil {
			return nil, err
		}
		result.RefreshToken = rotated
	}

	metrics.RefreshExchangesTotal.Inc()
	return result, nil
}

// rotate creates the replacement session first, then CAS-revokes the old
// token. Two concurrent exchanges of the same token can both mint a
// replacement, but only the revocation winner's result should be honored;
// the loser's replacement dies at the next cleanup or eviction.
func (s *RefreshSessionService) rotate(ctx context.Context, old *domain.RefreshToken, now time.Time) (string, error) {
	value, err := generateRefreshTokenValue()
	if err != nil {
		return "", err
	}
	replacement, err := domain.NewRefreshToken(value, old.UserID, old.DeviceInfo, old.IPAddress, s.policy.TokenTTL)
	if err != nil {
		return "", err
	}
	if err := s.repo.Store(ctx, replacement); err != nil {
		return "", fmt.Errorf("failed to store rotated refresh token: %w", err)
	}

	revoked, err := s.repo.Revoke(ctx, old.Token, now)
	if err != nil {
		return "", fmt.Errorf("failed to revoke rotated-out refresh token: %w", err)
	}
	if !revoked {
		// Lost the rotation race: another exchange already rotated this
		// token. Discard our replacement and report the session invalid.
		if _, rbErr := s.repo.Revoke(ctx, replacement.Token, now); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Failed to discard losing rotation replacement")
		}
		metrics.RefreshInvalidAttemptsTotal.Inc()
		return "", domain.ErrInvalidSession
	}

	metrics.RefreshSessionsRevokedTotal.WithLabelValues("rotation").Inc()
	log.Info().Str("user_id", old.UserID).Msg("Refresh token rotated")
	return replacement.Token, nil
}

// Revoke ends one session. Revoking an already revoked or unknown token is
// not an error.
func (s *RefreshSessionService) Revoke(ctx context.Context, refreshToken string) error {
	revoked, err := s.repo.Revoke(ctx, refreshToken, time.Now().UTC())
	if err != nil {
		return err
	}
	if revoked {
		metrics.RefreshSessionsRevokedTotal.WithLabelValues("logout").Inc()
		log.Info().Msg("Refresh session revoked")
	}
	return nil
}

// RevokeAllForUser ends every active session the user has, e.g. after a
// password change.
func (s *RefreshSessionService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	revoked, err := s.repo.RevokeAllForUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		metrics.RefreshSessionsRevokedTotal.WithLabelValues("revoke_all").Add(float64(revoked))
		log.Info().Str("user_id", userID).Int64("count", revoked).
			Msg("Revoked all refresh sessions for user")
	}
	return revoked, nil
}

// ActiveSessions lists the user's live sessions, oldest first, for a
// "your devices" view.
func (s *RefreshSessionService) ActiveSessions(ctx context.Context, userID string) ([]*domain.RefreshToken, error) {
	return s.repo.FindActiveByUser(ctx, userID, time.Now().UTC())
}

// Cleanup erases expired session records and revoked records past retention.
func (s *RefreshSessionService) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	expired, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	revoked, err := s.repo.DeleteRevokedBefore(ctx, now.Add(-s.policy.RevokedRetention))
	if err != nil {
		return expired, err
	}
	total := expired + revoked
	if total > 0 {
		metrics.RefreshSessionsCleanedTotal.Add(float64(total))
		log.Info().Int64("expired", expired).Int64("revoked", revoked).
			Msg("Cleaned up refresh session records")
	}
	return total, nil
}

func generateRefreshTokenValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
