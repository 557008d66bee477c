package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/internal/auth/totp"
	"github.com/paperpress/blog-api/internal/metrics"
)

// TwoFactorSetup is returned from Setup: everything the user needs to enroll
// their authenticator and stash recovery codes. None of it is shown again.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// TwoFactorStatus is a read-only snapshot for the account settings page.
type TwoFactorStatus struct {
	Configured           bool       `json:"configured"`
	Enabled              bool       `json:"enabled"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}

// TwoFactorService runs the second-factor lifecycle: setup, enable after
// proof of possession, verification during login, backup-code recovery, and
// disable.
type TwoFactorService struct {
	repo   domain.TwoFactorRepository
	issuer string
}

// NewTwoFactorService creates the second-factor engine. The issuer names
// this service inside authenticator apps.
func NewTwoFactorService(repo domain.TwoFactorRepository, issuer string) *TwoFactorService {
	if issuer == "" {
		issuer = "BlogAPI"
	}
	return &TwoFactorService{repo: repo, issuer: issuer}
}

// Setup provisions a fresh secret and backup codes in a disabled state. A
// second Setup before Enable overwrites the pending configuration; Setup on
// an enabled account fails with ErrTwoFactorAlreadyEnabled.
func (s *TwoFactorService) Setup(ctx context.Context, userID, accountName string) (*TwoFactorSetup, error) {
	existing, err := s.repo.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrTwoFactorNotConfigured) {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	backupCodes, err := totp.GenerateBackupCodes(totp.DefaultBackupCodeCount)
	if err != nil {
		return nil, err
	}

	auth, err := domain.NewTwoFactorAuth(userID, secret, backupCodes)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, auth); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Msg("Second factor provisioned, awaiting verification")
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(s.issuer, accountName, secret),
		BackupCodes:     backupCodes,
	}, nil
}

// Enable turns the pending configuration on once the user proves possession
// of the secret with a current code.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	auth, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if auth.Enabled {
		return domain.ErrTwoFactorAlreadyEnabled
	}
	if !totp.Validate(auth.Secret, code, time.Now()) {
		metrics.TwoFactorFailureTotal.Inc()
		return errors.New("invalid verification code")
	}
	if err := s.repo.Enable(ctx, userID, time.Now().UTC()); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("Second factor enabled")
	return nil
}

// Verify checks a login-time code. Users without an enabled second factor
// pass trivially, so login flows can call it unconditionally. A code that is
// not a valid TOTP is tried as a backup code, each of which is consumable
// exactly once.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) (bool, error) {
	auth, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, domain.ErrTwoFactorNotConfigured) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !auth.Enabled {
		return true, nil
	}

	now := time.Now().UTC()
	if totp.Validate(auth.Secret, code, now) {
		if err := s.repo.TouchLastUsed(ctx, userID, now); err != nil {
			log.Warn().Err(err).Msg("Failed to record second-factor use time")
		}
		metrics.TwoFactorSuccessTotal.Inc()
		return true, nil
	}

	if auth.HasBackupCode(code) {
		consumed, err := s.repo.UseBackupCode(ctx, userID, code, now)
		if err != nil {
			return false, err
		}
		if consumed {
			metrics.TwoFactorSuccessTotal.Inc()
			metrics.TwoFactorBackupUsedTotal.Inc()
			log.Info().Str("user_id", userID).Msg("Backup code consumed for second-factor verification")
			return true, nil
		}
	}

	metrics.TwoFactorFailureTotal.Inc()
	log.Warn().Str("user_id", userID).Msg("Second-factor verification failed")
	return false, nil
}

// RegenerateBackupCodes replaces the code set, voiding unused codes. It
// demands a current TOTP code; backup codes cannot mint their own successors.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	auth, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !auth.Enabled {
		return nil, domain.ErrTwoFactorNotEnabled
	}
	if !totp.Validate(auth.Secret, code, time.Now()) {
		metrics.TwoFactorFailureTotal.Inc()
		return nil, errors.New("invalid verification code")
	}

	codes, err := totp.GenerateBackupCodes(totp.DefaultBackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, codes); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Msg("Backup codes regenerated")
	return codes, nil
}

// Disable turns the second factor off after verifying either a current TOTP
// code or an unused backup code. The configuration record is kept with the
// enabled flag cleared; a later re-enable starts from Setup, which overwrites
// the dormant record.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	auth, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.Enabled {
		return domain.ErrTwoFactorNotEnabled
	}

	verified := totp.Validate(auth.Secret, code, time.Now())
	if !verified && auth.HasBackupCode(code) && !auth.BackupCodeUsed(code) {
		consumed, err := s.repo.UseBackupCode(ctx, userID, code, time.Now().UTC())
		if err != nil {
			return err
		}
		verified = consumed
	}
	if !verified {
		metrics.TwoFactorFailureTotal.Inc()
		return errors.New("invalid verification code")
	}

	if err := s.repo.Disable(ctx, userID); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("Second factor disabled")
	return nil
}

// Status reports the user's second-factor state without exposing secrets.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	auth, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, domain.ErrTwoFactorNotConfigured) {
		return &TwoFactorStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Configured:           true,
		Enabled:              auth.Enabled,
		RemainingBackupCodes: len(auth.AvailableBackupCodes()),
		EnabledAt:            auth.EnabledAt,
		LastUsedAt:           auth.LastUsedAt,
	}, nil
}
