package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eve-hoarder/internal/auth"
	"eve-hoarder/internal/config"
	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/esi"
	"eve-hoarder/internal/hoarder"
	"eve-hoarder/internal/locseed"
	"eve-hoarder/internal/logger"
	"eve-hoarder/internal/model"
	"eve-hoarder/internal/secrets"
	"eve-hoarder/internal/universe"
)

var version = "dev"

// ssoScopes is the single scope the Locations worker's authenticated
// structure lookups need.
const ssoScopes = "esi-universe.read_structures.v1"

func main() {
	os.Setenv("TZ", "GMT")

	root := &cobra.Command{
		Use:   "hoarder",
		Short: "Long-running collector for public market order, location, and price-history dumps",
		RunE:  run,
	}

	root.Flags().String("secrets", "{}", "JSON object mapping secret name to string value")
	root.Flags().String("dump_dir", ".", "directory dumps are written to")
	root.Flags().Bool("history", true, "run the histories worker")
	root.Flags().Bool("structure", true, "run the locations worker (requires SSO secrets)")
	root.Flags().String("location-seed", "", "path to the baseline location CSV seed")
	root.Flags().String("log-level", "info", "log level: debug|info|warn|error")
	root.Flags().String("log-format", "console", "log format: console|json")

	if err := root.Execute(); err != nil {
		logger.Error("main", err.Error())
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Secrets, _ = cmd.Flags().GetString("secrets")
	cfg.DumpDir, _ = cmd.Flags().GetString("dump_dir")
	cfg.History, _ = cmd.Flags().GetBool("history")
	cfg.Structure, _ = cmd.Flags().GetBool("structure")
	cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	cfg.LogFormat, _ = cmd.Flags().GetString("log-format")
	seedPath, _ := cmd.Flags().GetString("location-seed")

	logger.Configure(cfg.LogLevel, cfg.LogFormat)
	logger.Banner(version)

	secretTable, err := secrets.Parse(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("main: parse secrets: %w", err)
	}

	uni, err := universe.Load()
	if err != nil {
		return fmt.Errorf("main: load universe tables: %w", err)
	}

	var tokens *auth.TokenCache
	if cfg.Structure {
		tokens, err = buildTokenCache(secretTable)
		if err != nil {
			return fmt.Errorf("main: build token cache: %w", err)
		}
	}

	client := esi.NewClient(tokens, 20)
	registry := dump.NewRegistry()
	rt := hoarder.NewRuntime(client, tokens, registry, uni, cfg.DumpDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	errCh := make(chan error, 3)
	goCount := 1
	go func() {
		errCh <- rt.RunOrders(workerCtx)
	}()

	if cfg.Structure {
		seed, err := loadLocationSeed(seedPath)
		if err != nil {
			return fmt.Errorf("main: load location seed: %w", err)
		}
		locationsWorker := hoarder.NewLocationsWorker(rt, seed)
		goCount++
		go func() {
			errCh <- locationsWorker.Run(workerCtx)
		}()
	}

	if cfg.History {
		historiesWorker := hoarder.NewHistoriesWorker(rt)
		goCount++
		go func() {
			errCh <- historiesWorker.Run(workerCtx)
		}()
	}

	logger.Info("main", "hoarder running, waiting for shutdown signal")

	var firstErr error
	for i := 0; i < goCount; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			if firstErr == nil {
				firstErr = err
				cancelWorkers()
			}
			logger.Error("main", fmt.Sprintf("worker exited: %v", err))
		}
	}

	registry.Burn()
	logger.Info("main", "shutdown complete")
	return firstErr
}

func buildTokenCache(secretTable *secrets.Table) (*auth.TokenCache, error) {
	clientID, err := secretTable.MustGet("ssoClientId")
	if err != nil {
		return nil, err
	}
	clientSecret, err := secretTable.MustGet("ssoClientSecret")
	if err != nil {
		return nil, err
	}
	refreshToken, err := secretTable.MustGet("ssoRefreshToken")
	if err != nil {
		return nil, err
	}

	cfg := auth.SSOConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       ssoScopes,
	}
	return auth.NewTokenCache(cfg, refreshToken), nil
}

func loadLocationSeed(path string) ([]model.Location, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return locseed.Read(f)
}
