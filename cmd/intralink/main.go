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

	"intralink/internal/config"
	"intralink/internal/jwtsigner"
	"intralink/internal/observability/logging"
	"intralink/internal/observability/metrics"
	"intralink/internal/presence"
	"intralink/internal/revocation"
	impl "intralink/internal/service/impl"
	"intralink/internal/store"
	"intralink/internal/sweeper"
	httpx "intralink/internal/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	red "github.com/redis/go-redis/v9"
)

const serviceName = "intralink"

func main() {
	cfg, err := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) DB
	gdb, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	st := store.New(gdb)
	if cfg.AutoMigrate {
		if err := st.AutoMigrate(ctx); err != nil {
			return err
		}
	}
	// No connection survives a restart.
	if n, err := st.Users().ResetPresence(ctx); err != nil {
		return err
	} else if n > 0 {
		slog.Info("reset stale presence", "users", n)
	}

	// 2) Revocation set
	var (
		revoked revocation.Set
		ready   func(context.Context) error
	)
	if cfg.RedisAddr != "" {
		client := red.NewClient(&red.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		rs := revocation.NewRedis(client, cfg.RedisPrefix)
		revoked, ready = rs, rs.Ping
		slog.Info("revocation set on redis", "addr", cfg.RedisAddr)
	} else {
		revoked = revocation.NewMemory()
		slog.Warn("revocation set is in-memory; revoked tokens become valid again after a restart until they expire")
	}

	// 3) Signing key
	var signer *jwtsigner.Signer
	switch cfg.SigningAlg {
	case config.AlgEdDSA:
		if cfg.Ed25519PrivateKey == "" {
			slog.Warn("no ED25519_PRIVATE_KEY; generated an ephemeral signing key")
		}
		signer, err = jwtsigner.NewEd25519FromBase64(cfg.Ed25519PrivateKey, cfg.SigningKeyID)
	default:
		signer, err = jwtsigner.NewHMAC([]byte(cfg.SigningKey), cfg.SigningKeyID)
	}
	if err != nil {
		return err
	}

	// 4) Services
	pw := impl.NewPasswordServiceArgon2id(impl.DefaultArgon2Params)
	ts := impl.NewTokenService(impl.TokenConfig{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		AccessTTL: cfg.AccessTTL,
	}, signer, revoked)
	as := impl.NewAuthServiceImpl(st, pw, ts, impl.SessionConfig{
		RefreshTTL:          cfg.RefreshTTL,
		SimilarityThreshold: cfg.SimilarityThreshold,
	})
	registry := presence.New(ts, st.Users())
	as.Notifier = registry

	if cfg.SeedDemo {
		if err := seedDemo(ctx, st, as, cfg.SeedPassword); err != nil {
			return err
		}
	}

	metrics.MustRegister(prometheus.DefaultRegisterer, serviceName)

	sw := &sweeper.Sweeper{Sessions: as, Revoked: revoked, Connections: registry, Interval: cfg.SweepInterval}
	go sw.Run(ctx)

	// 5) HTTP
	router := httpx.NewRouter(httpx.Deps{
		Auth:     as,
		Tokens:   ts,
		Presence: registry,
		Signer:   signer,
		Metrics:  promhttp.Handler(),
		Ready:    ready,
	}, httpx.Options{
		TrustProxy:      cfg.TrustProxy,
		CORSOrigins:     cfg.CORSOrigins,
		CookieSecure:    cfg.CookieSecure,
		CookiePath:      cfg.CookiePath,
		LoginRateLimit:  cfg.LoginRateLimit,
		LoginRateWindow: cfg.LoginRateWindow,
		WSSendBuffer:    cfg.WSSendBuffer,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("intralink listening", "addr", srv.Addr, "issuer", cfg.Issuer, "alg", signer.Alg())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	registry.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
