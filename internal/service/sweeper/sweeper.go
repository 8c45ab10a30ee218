// Package sweeper runs the scheduled access-key expiry scan. It walks the
// onboarded accounts, flags keys that are expired or expiring within the
// configured window, and records the findings in the audit trail. Delivery
// of reminders (mail, chat) is left to external consumers of the audit
// trail.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tvault-control/internal/domain"
	"tvault-control/internal/repository"
)

// sweeperPrincipal is the principal recorded on audit entries produced by
// the scheduled scan.
const sweeperPrincipal = "system:sweeper"

// ExpiringKey is one finding from a sweep.
type ExpiringKey struct {
	Account     string
	AccessKeyID string
	Expiry      time.Time
	Expired     bool
}

// Sweeper scans onboarded accounts for expiring access keys on a cron
// schedule.
type Sweeper struct {
	cron     *cron.Cron
	accounts *repository.AccountRepo
	audit    domain.AuditRepository
	logger   *slog.Logger
	schedule string
	window   time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper. schedule is a cron expression; window is
// how far ahead of expiry a key is flagged.
func NewSweeper(accounts *repository.AccountRepo, audit domain.AuditRepository, logger *slog.Logger, schedule string, window time.Duration) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		accounts: accounts,
		audit:    audit,
		logger:   logger.With("component", "sweeper"),
		schedule: schedule,
		window:   window,
		now:      time.Now,
	}
}

// Start registers the sweep on the cron schedule and starts the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule, "window", s.window)
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info("sweeper stopped")
}

// Sweep scans every onboarded account once and returns the findings.
// Accounts whose metadata cannot be read are logged and skipped; the scan
// itself fails only when the account list cannot be fetched.
func (s *Sweeper) Sweep(ctx context.Context) ([]ExpiringKey, error) {
	identities, err := s.accounts.ListOnboarded(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	now := s.now()
	horizon := now.Add(s.window)
	var findings []ExpiringKey

	for _, identity := range identities {
		accountID, name, ok := strings.Cut(identity, "_")
		if !ok {
			s.logger.Warn("skipping malformed account identity", "identity", identity)
			continue
		}
		meta, err := s.accounts.GetMetadata(ctx, accountID, name)
		if err != nil {
			s.logger.Warn("skipping account, metadata read failed", "account", identity, "error", err)
			continue
		}
		if meta.State != domain.StateActivated {
			continue
		}
		for _, ref := range meta.AccessKeys {
			if ref.Expiry == 0 {
				continue
			}
			expiry := time.UnixMilli(ref.Expiry)
			if expiry.After(horizon) {
				continue
			}
			finding := ExpiringKey{
				Account:     identity,
				AccessKeyID: ref.AccessKeyID,
				Expiry:      expiry,
				Expired:     !expiry.After(now),
			}
			findings = append(findings, finding)
			s.flag(ctx, finding)
		}
	}

	s.logger.Info("sweep complete", "accounts", len(identities), "findings", len(findings))
	return findings, nil
}

func (s *Sweeper) flag(ctx context.Context, f ExpiringKey) {
	status := "expiring"
	if f.Expired {
		status = "expired"
	}
	s.logger.Warn("access key needs rotation",
		"account", f.Account,
		"accessKeyId", f.AccessKeyID,
		"expiry", f.Expiry,
		"expired", f.Expired,
	)
	entry := &domain.AuditEntry{
		PrincipalName: sweeperPrincipal,
		Action:        "expiry_sweep",
		Account:       f.Account,
		Status:        status,
		Detail:        fmt.Sprintf("access key %s expires %s", f.AccessKeyID, f.Expiry.UTC().Format(time.RFC3339)),
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Warn("audit insert failed", "error", err)
	}
}
