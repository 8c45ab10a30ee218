// Package main is the entry point for the control-plane HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tvault-control/internal/api"
	"tvault-control/internal/app"
	"tvault-control/internal/config"
	internaldb "tvault-control/internal/db"
	"tvault-control/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// Audit trail store.
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.AuditDBPath, 0)
	if err != nil {
		return err
	}
	defer writeDB.Close()
	defer readDB.Close()
	if err := internaldb.RunMigrations(writeDB); err != nil {
		return err
	}

	application, err := app.New(ctx, app.Deps{
		Cfg:     cfg,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	validator, err := buildValidator(ctx, cfg)
	if err != nil {
		return err
	}

	handler := api.NewHandler(
		application.Services.Lifecycle,
		application.Services.Keys,
		application.Services.Permission,
		application.Accounts,
		application.Audit,
		logger,
	)
	router := api.NewRouter(handler, api.RouterConfig{
		Validator:      validator,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	})

	if err := application.Sweeper.Start(); err != nil {
		return err
	}
	defer application.Sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "")
		if cfg.TLSCertFile != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildValidator picks the JWT validation strategy: OIDC when an identity
// provider is configured, HS256 shared secret otherwise.
func buildValidator(ctx context.Context, cfg *config.Config) (middleware.JWTValidator, error) {
	switch {
	case cfg.Auth.JWKSURL != "":
		return middleware.NewOIDCValidatorFromJWKS(ctx, cfg.Auth.JWKSURL, cfg.Auth.IssuerURL,
			cfg.Auth.Audience, cfg.Auth.AllowedIssuers)
	case cfg.Auth.IssuerURL != "":
		return middleware.NewOIDCValidator(ctx, cfg.Auth.IssuerURL, cfg.Auth.Audience, cfg.Auth.AllowedIssuers)
	default:
		return middleware.NewHS256Validator(cfg.Auth.JWTSecret)
	}
}
