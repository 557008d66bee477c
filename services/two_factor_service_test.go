package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/inmemory"
	"github.com/paperpress/blog-api/internal/auth/totp"
	"github.com/paperpress/blog-api/services"
)

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeAt(secret, time.Now())
	require.NoError(t, err)
	return code
}

func setupEnabled(t *testing.T, svc *services.TwoFactorService) *services.TwoFactorSetup {
	t.Helper()
	ctx := context.Background()
	setup, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, "user-1", currentCode(t, setup.Secret)))
	return setup
}

func TestTwoFactorService_SetupAndEnable(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	setup, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	assert.Len(t, setup.BackupCodes, totp.DefaultBackupCodeCount)

	// Pending configuration does not gate logins yet.
	ok, err := svc.Verify(ctx, "user-1", "000000")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Enable(ctx, "user-1", currentCode(t, setup.Secret)))

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, totp.DefaultBackupCodeCount, status.RemainingBackupCodes)
}

func TestTwoFactorService_EnableRejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	_, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)

	assert.Error(t, svc.Enable(ctx, "user-1", "000000"))

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestTwoFactorService_SetupTwice(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	first, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)

	// A second setup before enabling replaces the pending secret.
	second, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	require.NoError(t, svc.Enable(ctx, "user-1", currentCode(t, second.Secret)))

	// Setup on an enabled account is refused.
	_, err = svc.Setup(ctx, "user-1", "reader@example.com")
	assert.ErrorIs(t, err, domain.ErrTwoFactorAlreadyEnabled)
}

func TestTwoFactorService_VerifyWithoutConfiguration(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	// Users without a second factor pass trivially.
	ok, err := svc.Verify(ctx, "user-1", "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoFactorService_VerifyTOTP(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	ok, err := svc.Verify(ctx, "user-1", currentCode(t, setup.Secret))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Verify(ctx, "user-1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTwoFactorService_BackupCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	code := setup.BackupCodes[0]
	ok, err := svc.Verify(ctx, "user-1", code)
	require.NoError(t, err)
	assert.True(t, ok)

	// Spent.
	ok, err = svc.Verify(ctx, "user-1", code)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, totp.DefaultBackupCodeCount-1, status.RemainingBackupCodes)
}

func TestTwoFactorService_RegenerateBackupCodes(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	old := setup.BackupCodes[0]
	fresh, err := svc.RegenerateBackupCodes(ctx, "user-1", currentCode(t, setup.Secret))
	require.NoError(t, err)
	assert.Len(t, fresh, totp.DefaultBackupCodeCount)
	assert.NotContains(t, fresh, old)

	// Old codes are void.
	ok, err := svc.Verify(ctx, "user-1", old)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Verify(ctx, "user-1", fresh[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoFactorService_RegenerateRequiresTOTP(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	// Backup codes cannot mint their own successors.
	_, err := svc.RegenerateBackupCodes(ctx, "user-1", setup.BackupCodes[0])
	assert.Error(t, err)
}

func TestTwoFactorService_DisableWithTOTP(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	require.NoError(t, svc.Disable(ctx, "user-1", currentCode(t, setup.Secret)))

	// The record survives disable with the enabled flag cleared.
	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Configured)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.EnabledAt)

	// With the factor off, verification passes again.
	ok, err := svc.Verify(ctx, "user-1", "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoFactorService_ReenrollAfterDisable(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	require.NoError(t, svc.Disable(ctx, "user-1", currentCode(t, setup.Secret)))

	// Setup on a disabled account replaces the dormant configuration.
	second, err := svc.Setup(ctx, "user-1", "reader@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, setup.Secret, second.Secret)

	require.NoError(t, svc.Enable(ctx, "user-1", currentCode(t, second.Secret)))

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestTwoFactorService_DisableWithBackupCode(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setup := setupEnabled(t, svc)

	require.NoError(t, svc.Disable(ctx, "user-1", setup.BackupCodes[3]))
}

func TestTwoFactorService_DisableRejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")
	setupEnabled(t, svc)

	assert.Error(t, svc.Disable(ctx, "user-1", "000000"))

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestTwoFactorService_StatusUnconfigured(t *testing.T) {
	ctx := context.Background()
	svc := services.NewTwoFactorService(inmemory.NewTwoFactorRepository(), "BlogAPI")

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.Configured)
	assert.False(t, status.Enabled)
}
