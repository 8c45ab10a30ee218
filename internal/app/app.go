// Package app provides application-level wiring and dependency injection
// for the control plane: secret store and cloud IAM adapters, services,
// audit repository and the expiry sweeper.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tvault-control/internal/awsiam"
	"tvault-control/internal/config"
	"tvault-control/internal/domain"
	"tvault-control/internal/locks"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/access"
	"tvault-control/internal/service/credential"
	"tvault-control/internal/service/lifecycle"
	"tvault-control/internal/service/permission"
	"tvault-control/internal/service/sweeper"
	"tvault-control/internal/vault"
)

// Deps holds the external dependencies that main() must provide: config,
// the audit database handles, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// Services groups the service pointers the API handler needs.
type Services struct {
	Lifecycle  *lifecycle.Service
	Keys       *credential.KeyService
	Permission *permission.Service
}

// App holds the fully-wired application.
type App struct {
	Services Services
	Accounts *repository.AccountRepo
	Audit    domain.AuditRepository
	Sweeper  *sweeper.Sweeper
}

// New wires adapters, repositories and services from the provided deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg

	// === Backend adapters ===
	store := vault.New(cfg.VaultAddr, cfg.VaultToken, 30*time.Second, deps.Logger.With("component", "vault")).
		WithNamespace(cfg.VaultNamespace)
	dir, err := vault.NewDirectory(store, vault.UserBackend(cfg.UserBackend))
	if err != nil {
		return nil, fmt.Errorf("configure directory backend: %w", err)
	}
	cloud, err := awsiam.New(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey,
		store, 0, deps.Logger.With("component", "awsiam"))
	if err != nil {
		return nil, fmt.Errorf("configure cloud IAM backend: %w", err)
	}

	// === Repositories ===
	accounts := repository.NewAccountRepo(store)
	audit := repository.NewAuditRepo(deps.WriteDB, deps.ReadDB)

	// === Services ===
	eval := access.NewEvaluator()
	keyed := locks.NewKeyed()

	perms := permission.NewService(accounts, dir, cloud, eval, keyed, audit, deps.Logger)
	lc := lifecycle.NewService(accounts, store, dir, cloud, perms, eval, keyed, audit, deps.Logger)
	keys := credential.NewKeyService(accounts, cloud, eval, keyed, audit, deps.Logger)

	sw := sweeper.NewSweeper(accounts, audit, deps.Logger, cfg.SweepSchedule, cfg.SweepWindow)

	return &App{
		Services: Services{
			Lifecycle:  lc,
			Keys:       keys,
			Permission: perms,
		},
		Accounts: accounts,
		Audit:    audit,
		Sweeper:  sw,
	}, nil
}
