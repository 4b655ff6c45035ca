package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/loadclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfg    loadclient.Config
		tokens string
	)
	flag.StringVar(&cfg.URL, "url", "ws://localhost:8000/ws", "presence server WebSocket URL")
	flag.StringVar(&cfg.Origin, "origin", "http://localhost:8000", "Origin header sent on connect")
	flag.IntVar(&cfg.Users, "users", 499, "number of simulated users")
	flag.StringVar(&tokens, "tokens", "token1,token2,token3,token4", "comma separated tokens to pick from")
	flag.DurationVar(&cfg.MinInterval, "min-interval", 10*time.Second, "minimum delay between status changes")
	flag.DurationVar(&cfg.MaxInterval, "max-interval", 30*time.Second, "maximum delay between status changes")
	flag.Parse()

	for _, token := range strings.Split(tokens, ",") {
		if token = strings.TrimSpace(token); token != "" {
			cfg.Tokens = append(cfg.Tokens, token)
		}
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return loadclient.Run(ctx, cfg, logger)
}
