package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tyrowin/gopresence/internal/auth"
	"github.com/Tyrowin/gopresence/internal/presence"
	"github.com/Tyrowin/gopresence/internal/server"
	"github.com/Tyrowin/gopresence/internal/syncbridge"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := auth.NewStore(cfg.Tokens)
	logger.Info("Starting presence server",
		zap.String("addr", cfg.Addr),
		zap.Strings("users", creds.Users()))

	var srv *server.Server
	switch cfg.Mode {
	case server.ModeDistributed:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		bridge := syncbridge.New(rdb, logger.Named("bridge"))
		store := presence.NewDistributed(rdb, logger.Named("presence"))
		srv = server.NewDistributed(cfg, creds, store, bridge, logger)
	default:
		srv = server.NewLocal(cfg, creds, logger)
	}
	srv.Start()

	httpServer := server.CreateServer(cfg.Addr, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Session shutdown incomplete", zap.Error(err))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
