package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/cache"
	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/internal/metrics"
)

// BlacklistService is the access-credential revocation registry. Signed
// credentials are valid until expiry by construction; this registry is the
// denylist that cuts one off early, with a read-through cache in front of
// the store.
//
// The availability decision is deliberate: when the store cannot be reached,
// IsRevoked answers "not revoked" rather than locking every caller out. The
// fail-open counter makes that trade observable.
type BlacklistService struct {
	repo  domain.RevokedTokenRepository
	cache cache.RevocationCache

	cacheTTL    time.Duration
	ratePerHour int
}

// NewBlacklistService creates the registry. The cache may be nil; checks then
// always hit the store.
func NewBlacklistService(repo domain.RevokedTokenRepository, revCache cache.RevocationCache, cacheTTL time.Duration, ratePerHour int) *BlacklistService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if ratePerHour <= 0 {
		ratePerHour = 10
	}
	return &BlacklistService{
		repo:        repo,
		cache:       revCache,
		cacheTTL:    cacheTTL,
		ratePerHour: ratePerHour,
	}
}

// IsRevoked reports whether the credential ID is on the denylist. Cache
// misses fall through to the store; only positive answers are cached, so a
// revocation is never masked by a stale negative. A store error fails open.
func (s *BlacklistService) IsRevoked(ctx context.Context, tokenID string) bool {
	if tokenID == "" {
		return false
	}

	if s.cache != nil {
		revoked, err := s.cache.Get(ctx, tokenID)
		if err == nil && revoked {
			metrics.RevocationCacheHitsTotal.Inc()
			return true
		}
		if err != nil {
			log.Warn().Err(err).Msg("Revocation cache lookup failed, falling through to store")
		}
	}

	revoked, err := s.repo.Exists(ctx, tokenID)
	if err != nil {
		metrics.RevocationCheckFailOpen.Inc()
		log.Error().Err(err).
			Msg("Revocation store unreachable, failing open on credential check")
		return false
	}

	if revoked && s.cache != nil {
		if err := s.cache.Set(ctx, tokenID, s.cacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache revocation entry")
		}
	}
	return revoked
}

// Revoke puts a credential ID on the denylist until the credential's natural
// expiry. Revoking an already-revoked ID succeeds without effect. The
// per-user hourly cap guards against revocation storms.
func (s *BlacklistService) Revoke(ctx context.Context, tokenID, userID string, reason domain.RevokeReason, expiresAt time.Time) error {
	return s.revoke(ctx, tokenID, userID, reason, expiresAt, true)
}

func (s *BlacklistService) revoke(ctx context.Context, tokenID, userID string, reason domain.RevokeReason, expiresAt time.Time, rateLimited bool) error {
	if tokenID == "" {
		return errors.New("token id is required")
	}
	if !reason.Valid() {
		return fmt.Errorf("invalid revocation reason: %q", reason)
	}
	now := time.Now().UTC()
	if !expiresAt.After(now) {
		// Already expired; nothing to deny. Drop any cached positive that is
		// still lingering: the read path primes with the full cache TTL,
		// which can outlive the store row once cleanup has erased it.
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, tokenID); err != nil {
				log.Warn().Err(err).Msg("Failed to drop stale revocation cache entry")
			}
		}
		return nil
	}

	if rateLimited {
		recent, err := s.repo.CountRevokedSince(ctx, userID, now.Add(-time.Hour))
		if err != nil {
			return fmt.Errorf("revocation rate check failed: %w", err)
		}
		if recent >= int64(s.ratePerHour) {
			log.Warn().Str("user_id", userID).Int64("recent", recent).
				Msg("Revocation rate limit exceeded")
			return &domain.SecurityPolicyError{Reason: "too many revocations recently, please try again later"}
		}
	}

	exists, err := s.repo.Exists(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("failed to check existing revocation: %w", err)
	}
	if exists {
		return nil
	}

	entry, err := domain.NewRevokedToken(tokenID, userID, reason, expiresAt)
	if err != nil {
		return err
	}
	if err := s.repo.Store(ctx, entry); err != nil {
		return fmt.Errorf("failed to store revocation: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, tokenID, s.entryCacheTTL(expiresAt, now)); err != nil {
			log.Warn().Err(err).Msg("Failed to prime revocation cache")
		}
	}

	metrics.CredentialsRevokedTotal.WithLabelValues(string(reason)).Inc()
	log.Info().Str("user_id", userID).Str("reason", string(reason)).
		Msg("Access credential revoked")
	return nil
}

// RevokeCredential parses a raw signed credential and denylists its ID for
// its remaining lifetime.
func (s *BlacklistService) RevokeCredential(ctx context.Context, signer *Signer, rawToken, userID string, reason domain.RevokeReason) error {
	claims, err := signer.Parse(rawToken)
	if err != nil {
		return fmt.Errorf("cannot revoke unparseable credential: %w", err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return errors.New("credential carries no id or expiry")
	}
	return s.Revoke(ctx, claims.ID, userID, reason, claims.ExpiresAt.Time)
}

// RevokeAllForUser denylists each of the given credential IDs for the user.
// Callers supply the IDs of credentials they know to be outstanding (e.g.
// those minted against the user's active sessions); the registry itself has
// no issuance record to consult. The per-ID rate limit is bypassed since
// this is a security response, not a user action.
func (s *BlacklistService) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, tokenIDs []string, expiresAt time.Time) (int, error) {
	revoked := 0
	for _, id := range tokenIDs {
		if err := s.revoke(ctx, id, userID, reason, expiresAt, false); err != nil {
			return revoked, fmt.Errorf("failed revoking credential for user %s: %w", userID, err)
		}
		revoked++
	}
	if revoked > 0 {
		log.Info().Str("user_id", userID).Int("count", revoked).Str("reason", string(reason)).
			Msg("Revoked outstanding credentials for user")
	}
	return revoked, nil
}

// Cleanup erases denylist entries whose credentials have expired on their
// own. Purely hygienic; an expired credential fails signature-level
// validation regardless.
func (s *BlacklistService) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("count", deleted).Msg("Cleaned up expired revocation entries")
	}
	return deleted, nil
}

// entryCacheTTL caps the cache TTL at the entry's remaining life so a cached
// positive never outlives the denylist row.
func (s *BlacklistService) entryCacheTTL(expiresAt, now time.Time) time.Duration {
	remaining := expiresAt.Sub(now)
	if remaining < s.cacheTTL {
		return remaining
	}
	return s.cacheTTL
}
