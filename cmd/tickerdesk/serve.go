package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"finitefield.org/tickerdesk/internal/portal/config"
	"finitefield.org/tickerdesk/internal/portal/httpserver"
	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/observability"
	appsession "finitefield.org/tickerdesk/internal/portal/session"
	"finitefield.org/tickerdesk/internal/portal/submission"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, envFile)
		},
	}
}

func serve(ctx context.Context, envFile string) error {
	cfg, err := config.Load(config.WithEnvFile(envFile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := buildBackend(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}

	sessions, err := appsession.NewManager(appsession.Config{
		CookieName:   "tickerdesk_session",
		HashKey:      cfg.Session.HashKey,
		BlockKey:     cfg.Session.BlockKey,
		CookieSecure: cfg.Session.CookieSecure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	submissions, closeRegistry := buildRegistry(cfg, logger)
	defer closeRegistry()

	srv := httpserver.New(httpserver.Config{
		Address:        cfg.Server.Addr,
		Environment:    cfg.Environment,
		Logger:         logger,
		Backend:        backend,
		Sessions:       sessions,
		Submissions:    submissions,
		LoginTimeout:   cfg.Auth.LoginTimeout,
		CookieSecure:   cfg.Session.CookieSecure,
		CSRFCookieName: cfg.CSRF.CookieName,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("portal listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("auth_backend", cfg.Auth.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		logger.Info("portal stopped")
		return nil
	})
	return g.Wait()
}

func buildBackend(ctx context.Context, cfg config.AuthConfig, logger *zap.Logger) (identity.Backend, error) {
	switch cfg.Backend {
	case config.BackendFirebase:
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
		if err != nil {
			return nil, fmt.Errorf("init firebase app: %w", err)
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth client: %w", err)
		}
		logger.Info("firebase backend enabled", zap.String("project", cfg.Firebase.ProjectID))
		return identity.NewFirebaseBackend(client, cfg.Firebase.APIKey), nil

	default:
		accounts, err := identity.LoadAccounts(cfg.Local.AccountsFile)
		if err != nil {
			return nil, err
		}
		backend, err := identity.NewLocalBackend(accounts, cfg.Local.TokenSecret, identity.WithTokenTTL(cfg.Local.TokenTTL))
		if err != nil {
			return nil, err
		}
		logger.Info("local backend enabled",
			zap.String("accounts_file", cfg.Local.AccountsFile),
			zap.Int("accounts", len(accounts)),
		)
		return backend, nil
	}
}

// buildRegistry shares in-flight markers through Redis when configured so duplicate
// submissions are caught across replicas.
func buildRegistry(cfg config.Config, logger *zap.Logger) (submission.Registry, func()) {
	if cfg.Redis.Addr == "" {
		return submission.NewMemoryRegistry(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("redis submission registry enabled", zap.String("addr", cfg.Redis.Addr))
	return submission.NewRedisRegistry(rdb, 2*cfg.Auth.LoginTimeout), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
}
