// Package main implements the loom CLI: it turns a feature description
// into a development issue by running the configured agent pipeline.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/StephenDMay/loom/internal/cache"
	"github.com/StephenDMay/loom/internal/config"
	"github.com/StephenDMay/loom/internal/logging"
	"github.com/StephenDMay/loom/internal/orchestrator"
	"github.com/StephenDMay/loom/internal/provider"
	"github.com/StephenDMay/loom/internal/stage"
	"github.com/StephenDMay/loom/internal/telemetry"
)

var (
	configPath   string
	cacheDir     string
	noCache      bool
	providerName string
	quiet        bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loom [feature description]",
	Short: "Generate a development issue from a feature description",
	Long: `loom runs a pipeline of LLM stages over a feature description and
prints the resulting development issue.

Examples:
  # Generate an issue
  loom "add CSV export to the report view"

  # Use a specific config and skip cached results
  loom --config loom.yaml --no-cache "add CSV export"

  # Route every stage through a different provider
  loom --provider ollama "add CSV export"

Credentials come from the environment: ANTHROPIC_API_KEY, OPENAI_API_KEY,
and OLLAMA_HOST for a non-local Ollama server.`,
	Version: version,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runGenerate,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and provider reachability without running",
	Long: `validate resolves every configured stage and probes each provider the
pipeline would use. No stage is executed and nothing is cached.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all cached stage outputs",
	Args:  cobra.NoArgs,
	RunE:  runClearCache,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "loom.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default ~/.loom/cache)")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "skip cache lookups for this run")
	rootCmd.Flags().StringVar(&providerName, "provider", "", "override the provider for every stage")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

// pipeline bundles everything a command needs after wiring.
type pipeline struct {
	orch   *orchestrator.Orchestrator
	cache  *cache.File
	logger *logging.Logger
}

func buildPipeline(opts ...orchestrator.Option) (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if providerName != "" {
		forceProvider(cfg, providerName)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register(provider.NewAnthropic(provider.AnthropicConfig{}))
	registry.Register(provider.NewOpenAI(provider.OpenAIConfig{}))
	registry.Register(provider.NewOllama(provider.OllamaConfig{}))

	metrics := telemetry.NewMetrics()
	gateway := provider.NewGateway(registry, logger, provider.WithMetrics(metrics))

	stages, err := stage.NewBuiltins(gateway, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := config.NewResolver(cfg, stages.Names(), registry)
	if err != nil {
		return nil, err
	}

	fileCache, err := cache.NewFile(resolveCacheDir(cfg.CacheDir))
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	opts = append(opts, orchestrator.WithMetrics(metrics))
	return &pipeline{
		orch:   orchestrator.New(resolver, stages, gateway, fileCache, logger, opts...),
		cache:  fileCache,
		logger: logger,
	}, nil
}

// forceProvider routes every stage through one provider. Per-stage
// overrides outrank the defaults layer, so the flag must rewrite both.
func forceProvider(cfg *config.Config, name string) {
	cfg.Defaults.Provider = &name
	for stageName, settings := range cfg.Stages {
		settings.Provider = &name
		cfg.Stages[stageName] = settings
	}
}

// resolveCacheDir falls back to ~/.loom/cache, or a local directory when
// the home directory cannot be determined.
func resolveCacheDir(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loom-cache"
	}
	return filepath.Join(home, ".loom", "cache")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	var opts []orchestrator.Option
	if noCache {
		opts = append(opts, orchestrator.WithoutCache())
	}
	if !quiet {
		opts = append(opts, orchestrator.WithProgress(printProgress(cmd)))
	}

	p, err := buildPipeline(opts...)
	if err != nil {
		return err
	}
	defer p.logger.Sync()

	ctx := logging.WithRunID(cmd.Context(), uuid.NewString())
	p.logger.Info(ctx, "generating issue", zap.String("task_preview", logging.Preview(task, 120)))

	res, err := p.orch.Run(ctx, task)
	if err != nil {
		return err
	}

	issue, ok := res.Context.Get(stage.GeneratedIssueKey)
	if !ok {
		return fmt.Errorf("pipeline completed but produced no issue")
	}
	fmt.Fprintln(cmd.OutOrStdout(), issue)
	return nil
}

// printProgress writes one line per stage event to stderr, keeping stdout
// clean for the generated issue.
func printProgress(cmd *cobra.Command) orchestrator.ProgressFunc {
	return func(p orchestrator.Progress) {
		w := cmd.ErrOrStderr()
		switch p.Status {
		case orchestrator.StatusInvoking:
			fmt.Fprintf(w, "[%d/%d] %s...\n", p.Index, p.Total, p.Stage)
		case orchestrator.StatusCacheHit:
			fmt.Fprintf(w, "[%d/%d] %s (cached)\n", p.Index, p.Total, p.Stage)
		case orchestrator.StatusSucceeded:
			fmt.Fprintf(w, "[%d/%d] %s done in %s\n", p.Index, p.Total, p.Stage, p.Elapsed.Round(10*time.Millisecond))
		case orchestrator.StatusFailedRecovered:
			fmt.Fprintf(w, "[%d/%d] %s failed (%s): %v\n", p.Index, p.Total, p.Stage, p.Fallback, p.Err)
		case orchestrator.StatusFailedHalted:
			fmt.Fprintf(w, "[%d/%d] %s failed: %v\n", p.Index, p.Total, p.Stage, p.Err)
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.logger.Sync()

	ctx := logging.WithRunID(cmd.Context(), uuid.NewString())
	results, err := p.orch.Validate(ctx)

	out := cmd.OutOrStdout()
	for _, r := range results {
		switch {
		case r.Err != nil && r.Provider == "":
			fmt.Fprintf(out, "FAIL %s: %v\n", r.Stage, r.Err)
		case r.Err != nil:
			fmt.Fprintf(out, "FAIL %s (%s): %v\n", r.Stage, r.Provider, r.Err)
		default:
			fmt.Fprintf(out, "ok   %s (%s)\n", r.Stage, r.Provider)
		}
	}
	return err
}

func runClearCache(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.logger.Sync()

	if err := p.cache.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", p.cache.Dir())
	return nil
}
