// Command divrecon reconciles NBIM and custodian dividend event records.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"divrecon/internal/cache"
	"divrecon/internal/classify"
	"divrecon/internal/config"
	"divrecon/internal/consolidate"
	"divrecon/internal/detect"
	"divrecon/internal/enrich"
	"divrecon/internal/ingest"
	"divrecon/internal/logging"
	"divrecon/internal/server"
	"divrecon/internal/store"
	"divrecon/internal/types"
)

var version = "0.3.0"

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "divrecon",
	Short: "Dividend reconciliation between ledger and custodian records",
	Long: `divrecon matches dividend events across the internal ledger and the
custodian's record, detects and classifies discrepancies, and produces
row-level analyses with a portfolio summary.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return logging.Initialize(cfg.Logging.Dir, cfg.Logging.Enabled, verbose || cfg.Logging.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch, resultCache, err := buildPipeline()
		if err != nil {
			return err
		}

		var runs *store.Store
		if cfg.Store.Path != "" {
			runs, err = store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer runs.Close()
		}

		if cfg.Data.WatchDir != "" {
			go func() {
				if err := resultCache.Watch(ctx, cfg.Data.WatchDir); err != nil && ctx.Err() == nil {
					logger.Warn("cache watcher stopped", zap.Error(err))
				}
			}()
		}

		logger.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		return server.New(cfg, orch, resultCache, runs).Run(ctx)
	},
}

var (
	nbimPath    string
	custodyPath string
	legacyOut   bool
	forceRun    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one reconciliation and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if nbimPath != "" {
			cfg.Data.NBIMFile = nbimPath
		}
		if custodyPath != "" {
			cfg.Data.CustodyFile = custodyPath
		}

		orch, resultCache, err := buildPipeline()
		if err != nil {
			return err
		}

		nbim, nbimErrs, err := ingest.LoadNBIM(cfg.Data.NBIMFile)
		if err != nil {
			return err
		}
		custody, custErrs, err := ingest.LoadCustody(cfg.Data.CustodyFile)
		if err != nil {
			return err
		}
		for _, re := range nbimErrs {
			logger.Warn("skipped ledger row", zap.Int("line", re.Line), zap.Error(re.Err))
		}
		for _, re := range custErrs {
			logger.Warn("skipped custodian row", zap.Int("line", re.Line), zap.Error(re.Err))
		}

		fp := cache.Fingerprint(nbim, custody)
		result, _, err := resultCache.GetOrCompute(ctx, fp, forceRun,
			func(ctx context.Context) (*types.AnalysisResult, error) {
				return orch.Run(ctx, nbim, custody, fp)
			})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if legacyOut {
			return enc.Encode(consolidate.Legacy(result.Rows))
		}
		return enc.Encode(result)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("divrecon %s\n", version)
	},
}

func buildPipeline() (*consolidate.Orchestrator, *cache.Cache, error) {
	client, err := classify.NewClient(cfg.LLM)
	if err != nil {
		// No provider is a supported mode: everything degrades to
		// deterministic fallbacks.
		logger.Warn("no classification provider; running with fallbacks only", zap.Error(err))
		client = nil
	}

	detector := detect.New(cfg.Tolerance)
	enricher := enrich.New(classify.NewAdapter(client), cfg.Enrich)
	orch := consolidate.New(detector, enricher, cfg.Weights, cfg.Enrich)

	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, nil, err
	}
	return orch, cache.New(ttl), nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "divrecon.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	analyzeCmd.Flags().StringVar(&nbimPath, "nbim", "", "path to the ledger export (overrides config)")
	analyzeCmd.Flags().StringVar(&custodyPath, "custody", "", "path to the custodian export (overrides config)")
	analyzeCmd.Flags().BoolVar(&legacyOut, "legacy", false, "print the flat legacy break list")
	analyzeCmd.Flags().BoolVar(&forceRun, "refresh", false, "bypass the result cache")

	rootCmd.AddCommand(serveCmd, analyzeCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
