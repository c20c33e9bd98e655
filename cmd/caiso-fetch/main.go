package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/gridops/caiso-fetch/internal/apperror"
	"github.com/gridops/caiso-fetch/internal/chunk"
	"github.com/gridops/caiso-fetch/internal/config"
	"github.com/gridops/caiso-fetch/internal/convert"
	"github.com/gridops/caiso-fetch/internal/download"
	"github.com/gridops/caiso-fetch/internal/oasis"
	"github.com/gridops/caiso-fetch/internal/platform/sqlite"
	manifestrepo "github.com/gridops/caiso-fetch/internal/repository/manifest"
)

// localConfigFile is probed in the working directory before the user-level
// config path.
const localConfigFile = "caiso.toml"

const longHelp = `Download CAISO OASIS system demand forecasts as ZIP archives and
convert the XML reports inside them to CSV.

The requested date range is split into chunks of at most --max-chunk-days
days. Each chunk becomes one OASIS SingleZip request; transient failures
(HTTP 429/503, network errors) are retried with exponential backoff, and a
chunk that keeps failing does not stop the rest of the batch. Completed
chunks are recorded in a manifest database, so rerunning the same range
only fetches what is missing.`

const exampleUsage = `  # Dates from the config file, default market run (2DA)
  caiso-fetch

  # Explicit range, day-ahead market
  caiso-fetch --start-date 2023-09-19 --end-date 2023-10-20 --market-run DA

  # Download only, keep the ZIP archives
  caiso-fetch --no-parse

  # Convert archives downloaded earlier
  caiso-fetch convert downloads/*.zip`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	// Root context: cancelled on SIGINT/SIGTERM so an in-flight chunk loop
	// stops at the next safe point and the manifest is still finalized.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("caiso-fetch failed", "error", err)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			os.Exit(appErr.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var (
		cfgPath   string
		startDate string
		endDate   string
		noParse   bool
		force     bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:           "caiso-fetch",
		Short:         "Download CAISO OASIS system demand data",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			// The flag is the inverse of the config key, so it is applied by
			// hand after the precedence chain.
			if cmd.Flags().Changed("no-parse") {
				cfg.ExtractParse = !noParse
			}
			return runFetch(cmd.Context(), cfg, startDate, endDate, force)
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: ./caiso.toml, then ~/.caiso-fetch/config.toml)")
	cmd.Flags().StringVar(&startDate, "start-date", "", `start date (YYYY-MM-DD or "YYYY-MM-DD HH:MM"; default from config)`)
	cmd.Flags().StringVar(&endDate, "end-date", "", `end date (YYYY-MM-DD or "YYYY-MM-DD HH:MM"; default from config)`)
	cmd.Flags().StringVar(&cfg.MarketRun, "market-run", cfg.MarketRun, "market run: DA, 2DA or 7DA")
	cmd.Flags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for downloaded ZIP archives")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for extracted CSV files")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "manifest database path")
	cmd.Flags().IntVar(&cfg.MaxChunkDays, "max-chunk-days", cfg.MaxChunkDays, "maximum days per request chunk")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries per chunk after the first attempt")
	cmd.Flags().DurationVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "minimum delay between OASIS requests")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent archive conversions")
	cmd.Flags().BoolVar(&noParse, "no-parse", false, "download only, skip XML extraction and CSV conversion")
	cmd.Flags().BoolVar(&cfg.CompressCSV, "compress", cfg.CompressCSV, "gzip the CSV output")
	cmd.Flags().BoolVar(&force, "force", false, "redownload chunks even when the manifest has them")

	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newInfoCmd())

	return cmd
}

// resolveConfig finishes the precedence chain after flag parsing: file values
// are applied first, then CAISO_* environment variables; flags set explicitly
// on the command line keep their values throughout.
func resolveConfig(cmd *cobra.Command, cfg *config.Config, cfgPath string) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	path := cfgPath
	if path != "" {
		if !config.FileExists(path) {
			return apperror.New(apperror.InvalidInput, fmt.Sprintf("config file %s not found", path))
		}
	} else if config.FileExists(localConfigFile) {
		path = localConfigFile
	} else if p := config.DefaultPath(); p != "" && config.FileExists(p) {
		path = p
	}

	if path != "" {
		fc, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if err := config.Apply(cfg, fc, changed); err != nil {
			return err
		}
		slog.Debug("applied config file", "path", path)
	}

	if err := config.ApplyEnv(cfg, changed); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return apperror.New(apperror.InvalidInput, err.Error())
	}
	return nil
}

func runFetch(ctx context.Context, cfg config.Config, startDate, endDate string, force bool) error {
	marketRun, err := oasis.ParseMarketRun(cfg.MarketRun)
	if err != nil {
		return apperror.New(apperror.InvalidInput, err.Error())
	}

	if startDate == "" {
		startDate = cfg.DefaultStart
	}
	if endDate == "" {
		endDate = cfg.DefaultEnd
	}
	start, err := oasis.ParseDate(startDate)
	if err != nil {
		return apperror.New(apperror.InvalidInput, err.Error())
	}
	end, err := oasis.ParseDate(endDate)
	if err != nil {
		return apperror.New(apperror.InvalidInput, err.Error())
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open manifest database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// The retry backoff base follows the request pacing delay.
	client := oasis.New(
		oasis.WithBaseURL(cfg.BaseURL),
		oasis.WithClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		oasis.WithMaxRetries(cfg.MaxRetries),
		oasis.WithBaseDelay(cfg.RateLimit),
	)
	dl := download.New(client, manifestrepo.NewRepository(db.DB),
		download.WithOutputDir(cfg.OutputDir),
		download.WithBaseName(cfg.BaseName),
		download.WithRateLimit(cfg.RateLimit),
		download.WithForce(force),
	)

	req := download.Request{
		Report:       cfg.QueryName,
		MarketRun:    marketRun,
		Range:        chunk.DateRange{Start: start, End: end},
		MaxChunkDays: cfg.MaxChunkDays,
		Version:      cfg.Version,
	}

	summary, runErr := dl.Run(ctx, req)
	if runErr != nil {
		if errors.Is(runErr, chunk.ErrInvalidRange) {
			return apperror.New(apperror.InvalidInput, runErr.Error())
		}
		if summary == nil {
			return runErr
		}
		slog.Warn("download run interrupted", "error", runErr)
	}

	var outputs []convert.Output
	if runErr == nil && cfg.ExtractParse && summary.Succeeded() > 0 {
		conv := convert.New(
			convert.WithDataDir(cfg.DataDir),
			convert.WithCompress(cfg.CompressCSV),
			convert.WithWorkers(cfg.Workers),
		)
		outputs, err = conv.ConvertAll(ctx, archivePaths(summary))
		if err != nil {
			slog.Error("archive conversion aborted", "error", err)
		}
	}

	fmt.Printf("\nDownloaded %d/%d chunks for %s\n", summary.Succeeded(), summary.Total, marketRun)
	fmt.Printf("Archives directory: %s\n", cfg.OutputDir)
	if len(outputs) > 0 {
		fmt.Printf("CSV files created: %d in %s\n", len(outputs), cfg.DataDir)
	}

	if summary.Succeeded() == 0 {
		return apperror.New(apperror.Unavailable, "no chunks could be downloaded")
	}
	return runErr
}

// archivePaths lists the archives this run placed or found on disk, in chunk
// order.
func archivePaths(s *download.Summary) []string {
	paths := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Err == nil && r.Path != "" {
			paths = append(paths, r.Path)
		}
	}
	return paths
}
