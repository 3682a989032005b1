// Command basisbot runs the delta-neutral funding-rate bot. It loads and
// validates configuration, sets up signal handling and starts the
// application in the configured mode.
//
// Usage:
//
//	basisbot -config config.toml
//	basisbot encrypt-key -out key.enc
//
// encrypt-key seals BASISBOT_VENUE_PRIVATE_KEY with BASISBOT_VENUE_KEY_PASSWORD
// so the raw key never has to sit in config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/basisbot/internal/app"
	"github.com/alanyoungcy/basisbot/internal/config"
	"github.com/alanyoungcy/basisbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		if err := encryptKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("basisbot stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "key.enc", "output file for the sealed key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := os.Getenv("BASISBOT_VENUE_PRIVATE_KEY")
	password := os.Getenv("BASISBOT_VENUE_KEY_PASSWORD")
	if key == "" || password == "" {
		return fmt.Errorf("BASISBOT_VENUE_PRIVATE_KEY and BASISBOT_VENUE_KEY_PASSWORD must be set")
	}
	wallet, err := crypto.ParseWallet(key)
	if err != nil {
		return err
	}
	sealed, err := crypto.SealKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("sealed key for %s written to %s\n", wallet.Address, *out)
	return nil
}
