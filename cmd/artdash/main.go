package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Promptonauts/artdash/pkg/api"
	"github.com/Promptonauts/artdash/pkg/auth"
	"github.com/Promptonauts/artdash/pkg/cache"
	"github.com/Promptonauts/artdash/pkg/config"
	"github.com/Promptonauts/artdash/pkg/gaversion"
	"github.com/Promptonauts/artdash/pkg/github"
	"github.com/Promptonauts/artdash/pkg/gitops"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/pipeline"
	"github.com/Promptonauts/artdash/pkg/retry"
	"github.com/Promptonauts/artdash/pkg/store"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "artdash",
		Short:         "ART dashboard API server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "text or json (overrides config)")

	root.AddCommand(newServeCmd(flags), newMigrateCmd(flags), newSeedCmd(flags))
	return root
}

// setup loads the configuration and builds the process logger.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath, nil)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("database ready", "path", cfg.Database.Path)
	return st, nil
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			return st.Close()
		},
	}
}

func newSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load build records and stage tables from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := store.LoadSeed(cmd.Context(), st, f)
			if err != nil {
				return err
			}
			logger.Info("seed loaded", "file", args[0], "builds", counts.Builds, "stage_rows", counts.Stages)
			return nil
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetricsRegistry()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	readCache, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.TTL)
	if err != nil {
		return err
	}
	defer readCache.Close()

	gaCache, err := cache.New(16, cfg.GA.CacheTTL)
	if err != nil {
		return err
	}
	defer gaCache.Close()

	var gaSource gaversion.Source
	if cfg.GA.Static != "" {
		gaSource = gaversion.StaticSource(cfg.GA.Static)
	} else {
		gaSource = gaversion.NewHTTPSource(cfg.GA.URL, cfg.GA.Key, cfg.GA.Timeout)
	}

	policy, err := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay, cfg.Retry.Multiplier)
	if err != nil {
		return err
	}
	if policy.WorstCase() >= cfg.GitHub.RequestTimeout {
		logger.Warn("retry backoff can outlast the request deadline",
			"worst_case", policy.WorstCase(), "request_timeout", cfg.GitHub.RequestTimeout)
	}

	var ghClient github.Client
	if cfg.GitHub.Token != "" {
		c, err := github.NewClient(cfg.GitHub.Token, cfg.GitHub.BaseURL, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return err
		}
		ghClient = c
	} else {
		logger.Warn("no github token configured, only test-mode pull requests will succeed")
	}

	server := api.NewServer(api.Deps{
		Pipeline: pipeline.NewResolver(
			pipeline.NewStoreSources(st, readCache, metrics),
			cfg.Pipeline.MaxConcurrency, logger, metrics),
		GAVersion: gaversion.NewResolver(gaSource, gaCache, logger),
		PullRequests: gitops.NewWorkflow(ghClient, retry.NewRunner(policy, logger, metrics),
			gitops.Options{ConfigRepo: cfg.GitHub.ConfigRepo, FakePRURL: cfg.GitHub.FakePRURL}, logger, metrics),
		Builds:         st,
		Auth:           auth.New(cfg.Auth.SecretKey, cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.TokenTTL),
		RequestTimeout: cfg.GitHub.RequestTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
