package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
)

// Cleanup sweeps expired auth state: reset tokens past their expiry,
// verification tokens for accounts that never verified inside the
// ticket window, and lockouts whose window has elapsed. Each sweep is
// best-effort; a failure is logged and the remaining sweeps still run.
func (s *AuthService) Cleanup(ctx context.Context) domain.CleanupStats {
	var stats domain.CleanupStats

	if s.maintenance == nil {
		return stats
	}

	now := s.now().UTC()

	if purged, err := s.maintenance.PurgeExpiredResetTokens(ctx, now); err != nil {
		s.logger.Warn("purge expired reset tokens", zap.Error(err))
	} else {
		stats.ResetTokensPurged = purged
	}

	cutoff := now.Add(-domain.VerificationTicketTTL)
	if purged, err := s.maintenance.PurgeStaleVerificationTokens(ctx, cutoff); err != nil {
		s.logger.Warn("purge stale verification tokens", zap.Error(err))
	} else {
		stats.VerificationTokensPurged = purged
	}

	if unlocked, err := s.maintenance.UnlockExpiredAccounts(ctx, now); err != nil {
		s.logger.Warn("unlock expired accounts", zap.Error(err))
	} else {
		stats.AccountsUnlocked = unlocked
	}

	s.metrics.ObserveCleanup(stats.ResetTokensPurged, stats.VerificationTokensPurged, stats.AccountsUnlocked)

	s.logger.Info("cleanup sweep completed",
		zap.Int64("reset_tokens_purged", stats.ResetTokensPurged),
		zap.Int64("verification_tokens_purged", stats.VerificationTokensPurged),
		zap.Int64("accounts_unlocked", stats.AccountsUnlocked),
	)

	return stats
}
