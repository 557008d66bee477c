package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_action_tokens_issued_total",
		Help: "Total number of action tokens issued, by category.",
	}, []string{"category"})
	TokensConsumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_action_tokens_consumed_total",
		Help: "Total number of action tokens consumed, by category.",
	}, []string{"category"})
	TokensCleanedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_action_tokens_cleaned_total",
		Help: "Total number of action tokens deleted by cleanup, by kind.",
	}, []string{"kind"})

	RefreshSessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_refresh_sessions_created_total",
		Help: "Total number of refresh-token sessions created.",
	})
	RefreshExchangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_refresh_exchanges_total",
		Help: "Total number of successful refresh-token exchanges.",
	})
	RefreshInvalidAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_refresh_invalid_attempts_total",
		Help: "Total number of exchange attempts on revoked or expired refresh tokens.",
	})
	RefreshSessionsRevokedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_refresh_sessions_revoked_total",
		Help: "Total number of refresh-token sessions revoked, by cause.",
	}, []string{"cause"})
	RefreshSessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_refresh_sessions_evicted_total",
		Help: "Total number of oldest sessions evicted by the concurrent-session cap.",
	})
	RefreshSessionsCleanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_refresh_sessions_cleaned_total",
		Help: "Total number of refresh session records deleted by cleanup.",
	})

	CredentialsRevokedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_credentials_revoked_total",
		Help: "Total number of access credentials denylisted, by reason.",
	}, []string{"reason"})
	RevocationCheckFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_revocation_check_fail_open_total",
		Help: "Total number of revocation checks that failed open on a storage error. Alert on any increase.",
	})
	RevocationCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_revocation_cache_hits_total",
		Help: "Total number of revocation checks answered from the cache.",
	})

	TwoFactorSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_2fa_success_total",
		Help: "Total number of successful second-factor verifications.",
	})
	TwoFactorFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_2fa_failure_total",
		Help: "Total number of failed second-factor verifications.",
	})
	TwoFactorBackupUsedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blog_2fa_backup_code_used_total",
		Help: "Total number of backup codes consumed.",
	})
)

// Register registers the token-security metrics with the given registerer.
// It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		TokensIssuedTotal, TokensConsumedTotal, TokensCleanedTotal,
		RefreshSessionsCreatedTotal, RefreshExchangesTotal,
		RefreshInvalidAttemptsTotal, RefreshSessionsRevokedTotal,
		RefreshSessionsEvictedTotal, RefreshSessionsCleanedTotal,
		CredentialsRevokedTotal, RevocationCheckFailOpen, RevocationCacheHitsTotal,
		TwoFactorSuccessTotal, TwoFactorFailureTotal, TwoFactorBackupUsedTotal,
	)
}
