// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/commonsforum/commons/internal/auth"
	"github.com/commonsforum/commons/internal/auth/postgres"
	"github.com/commonsforum/commons/internal/config"
	"github.com/commonsforum/commons/internal/httpapi"
	"github.com/commonsforum/commons/internal/logging"
	"github.com/commonsforum/commons/internal/mail"
	"github.com/commonsforum/commons/internal/observability"
	"github.com/commonsforum/commons/internal/store"
)

const (
	serviceName       = "commons"
	readHeaderTimeout = 5 * time.Second
)

// serveDeps holds the factories runServe uses. Nil fields use the defaults.
type serveDeps struct {
	Connect func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error)
	Listen  func(network, addr string) (net.Listener, error)
}

func (d *serveDeps) withDefaults() *serveDeps {
	out := serveDeps{}
	if d != nil {
		out = *d
	}
	if out.Connect == nil {
		out.Connect = store.Connect
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the public JSON API, the metrics and health listener, and the
background sweep of expired sessions and tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *serveDeps) error {
	deps = deps.withDefaults()

	path, err := config.ResolvePath(configFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.InfoContext(ctx, "starting commons",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"email_verification", auth.PolicyFor(cfg.Auth.SkipEmailVerification).Name(),
	)

	pool, err := deps.Connect(ctx, store.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
	}, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	var (
		obsServer *observability.Server
		events    auth.EventRecorder
		observer  httpapi.RequestObserver
	)
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, pool.Ping, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		events = obsServer.Metrics()
		observer = obsServer.Metrics()
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
	}

	svc, janitor, err := buildAuth(cfg, pool, events, logger)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Service: svc,
		Tokens:  svc.Minter(),
		Metrics: observer,
		Logger:  logger,
	})
	if err != nil {
		return oops.With("operation", "build http api").Wrap(err)
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	apiErrChan := make(chan error, 1)
	go func() {
		defer close(apiErrChan)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrChan <- oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrChan, "api", logger)

	var background sync.WaitGroup
	background.Go(func() { janitor.Run(ctx) })

	cmd.Println("Commons API listening on " + listener.Addr().String())
	logger.InfoContext(ctx, "commons ready", "http_addr", listener.Addr().String())

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	background.Wait()

	logger.Info("shutdown complete")
	return nil
}

// buildAuth wires the auth service and janitor to PostgreSQL and outbound mail.
func buildAuth(cfg *config.Config, pool *pgxpool.Pool, events auth.EventRecorder, logger *slog.Logger) (*auth.Service, *auth.Janitor, error) {
	composer, err := mail.NewComposer(cfg.App.BaseURL)
	if err != nil {
		return nil, nil, err
	}

	var mailer auth.Mailer
	if cfg.MailEnabled() {
		mailer, err = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, composer)
		if err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warn("smtp.host is empty; outbound email will only be logged")
		mailer = mail.NewLogMailer(composer, logger)
	}

	sessions := postgres.NewSessionRepository(pool)
	tokens := postgres.NewTokenRepository(pool)

	svc, err := auth.NewService(auth.Dependencies{
		Users:      postgres.NewUserRepository(pool),
		Sessions:   sessions,
		Tokens:     tokens,
		Invites:    postgres.NewInviteRepository(pool),
		Transactor: postgres.NewTransactor(pool),
		Hasher:     auth.NewArgon2idHasherWithParams(cfg.HasherParams()),
		Mailer:     mailer,
		Events:     events,
	}, auth.Config{
		Tokens: cfg.TokenConfig(),
		Policy: auth.PolicyFor(cfg.Auth.SkipEmailVerification),
	}, logger)
	if err != nil {
		return nil, nil, oops.With("operation", "build auth service").Wrap(err)
	}

	janitor, err := auth.NewJanitor(sessions, tokens, cfg.Janitor.Interval, logger)
	if err != nil {
		return nil, nil, oops.With("operation", "build janitor").Wrap(err)
	}
	return svc, janitor, nil
}

// monitorServerErrors cancels ctx when a server reports a failure. It returns
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
