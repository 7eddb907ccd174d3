// Package cli implements the lensrev command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/config"
	"github.com/sprite-ai/lensrev/internal/eventlog"
	"github.com/sprite-ai/lensrev/internal/logging"
	"github.com/sprite-ai/lensrev/internal/review"
	"github.com/sprite-ai/lensrev/internal/store"
	"github.com/sprite-ai/lensrev/internal/stream"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitFindings   = 1
	ExitUsageError = 2
	ExitFailure    = 3
)

var rootCmd = &cobra.Command{
	Use:   "lensrev",
	Short: "Local multi-lens AI code review",
	Long: `lensrev reviews a diff through several independent lenses, streams
their progress, and stores the results for later drilldown.`,
	SilenceUsage: true,
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default $XDG_CONFIG_HOME/lensrev/config.yaml)")
	pf.String("data-dir", "", "directory holding reviews, sessions and the event log")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("provider", "", "AI provider: anthropic, openai, none")
	pf.String("model", "", "model name")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(versionCmd)
}

// Run executes the root command and returns the process exit code.
func Run() int {
	exitCode = ExitSuccess
	if err := rootCmd.Execute(); err != nil {
		if exitCode == ExitSuccess {
			return ExitUsageError
		}
	}
	return exitCode
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"data-dir":    "data_dir",
	"log-level":   "log_level",
	"provider":    "provider",
	"model":       "model",
	"addr":        "addr",
	"port":        "port",
	"concurrency": "concurrency",
	"profile":     "profile",
	"fuzz-window": "fuzz_window",
}

// loadConfig merges the config file, environment and any flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	overrides := make(map[string]string)
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}
	return config.Load(path, overrides)
}

// app holds everything a command needs to run reviews.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	stores   *store.Stores
	client   ai.Client
	journal  *eventlog.Log
	registry *stream.Registry
	reviews  *review.Service
	closers  []func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log, closeLog, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	a := &app{cfg: cfg, log: log, closers: []func(){closeLog}}

	if a.stores, err = store.Open(cfg.DataDir); err != nil {
		a.Close()
		return nil, err
	}

	client, err := ai.New(cfg.Provider, cfg.Model, cfg.APIKey(), cfg.BaseURL)
	switch {
	case err == nil:
		a.client = ai.WithRetry(client)
	case errors.Is(err, ai.ErrNoProvider):
		log.Info().Msg("no AI provider configured; only static lenses are available")
	default:
		log.Warn().Err(err).Str("provider", cfg.Provider).Msg("AI provider unavailable; only static lenses are available")
	}

	var journal stream.Journal
	if cfg.EventLog {
		l, err := eventlog.Open(filepath.Join(cfg.DataDir, eventlog.FileName))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = l
		journal = l
		a.closers = append(a.closers, func() { _ = l.Close() })
	}

	a.registry = stream.NewRegistry(cfg.RunRetention, journal, log)
	a.reviews = review.New(review.Options{
		Concurrency:        cfg.Concurrency,
		PartialOnAllFailed: cfg.PartialOnAllFailed,
		LensTimeout:        cfg.LensTimeout,
		DefaultProfile:     cfg.Profile,
		MaxDiffBytes:       cfg.MaxDiffBytes,
	}, a.client, a.stores, a.registry, log)
	return a, nil
}

// pruneJournal drops journal entries that outlived the run retention.
func (a *app) pruneJournal(ctx context.Context) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := a.journal.Prune(ctx, a.cfg.RunRetention)
	if err != nil {
		a.log.Warn().Err(err).Msg("pruning event log")
		return
	}
	if n > 0 {
		a.log.Debug().Int64("events", n).Msg("pruned event log")
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
