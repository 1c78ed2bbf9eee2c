package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/fetch"
	"github.com/joseph-ayodele/receipts-pipeline/internal/loop"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ocr"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/stage"
	"github.com/joseph-ayodele/receipts-pipeline/internal/watch"
)

// loopFlags are the options every polling stage accepts.
type loopFlags struct {
	interval        time.Duration
	processExisting bool
	summary         bool
	batchSize       int
	batchBudget     time.Duration
}

func (f *loopFlags) register(cmd *cobra.Command, interval time.Duration, batchSize int, budget time.Duration) {
	cmd.Flags().DurationVar(&f.interval, "interval", interval, "Time between folder scans")
	cmd.Flags().BoolVar(&f.processExisting, "process-existing", false, "Process every file already present once, then exit")
	cmd.Flags().BoolVar(&f.summary, "summary", false, "Print per-partition file counts and exit")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", batchSize, "Files per batch (0 = all found in one batch)")
	cmd.Flags().DurationVar(&f.batchBudget, "batch-budget", budget, "Time budget per batch (0 = unlimited)")
}

func newClassifyCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Route receipt_files to receipt_ocring or receipt_checked by URL presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher := stage.NewURLMatcher(cfg.Pipeline.URLHost)
			proc := stage.NewClassifier(cfg.Pipeline.Root, matcher, logger)
			return runStage(cmd, proc, constants.StageClassify, flags)
		},
	}
	flags.register(cmd, cfg.Pipeline.ClassifyInterval, 0, 0)
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch receipt images referenced by files in receipt_ocring",
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher := stage.NewURLMatcher(cfg.Pipeline.URLHost)
			client := fetch.NewClient(fetch.Config{
				HeadTimeout: cfg.Download.HeadTimeout,
				GetTimeout:  cfg.Download.GetTimeout,
				Cookie:      cfg.Download.Cookie,
				UserAgent:   cfg.Download.UserAgent,
			}, nil, logger)
			proc := stage.NewDownloader(cfg.Pipeline.Root, matcher, client, logger)
			return runStage(cmd, proc, constants.StageDownload, flags)
		},
	}
	flags.register(cmd, cfg.Pipeline.DownloadInterval, 0, 0)
	return cmd
}

func newOCRCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Extract text from downloaded receipt images with tesseract",
		RunE: func(cmd *cobra.Command, args []string) error {
			extractor := ocr.NewExtractor(ocr.Config{
				Tesseract:     cfg.OCR.Tesseract,
				TessdataDir:   cfg.OCR.TessdataDir,
				PrimaryLang:   cfg.OCR.PrimaryLang,
				FallbackLang:  cfg.OCR.FallbackLang,
				MinConfidence: cfg.OCR.MinConfidence,
				TempDir:       cfg.OCR.TempDir,
			}, logger)
			proc := stage.NewOCRStage(cfg.Pipeline.Root, extractor, time.Now, logger)
			return runStage(cmd, proc, constants.StageOCR, flags)
		},
	}
	flags.register(cmd, cfg.Pipeline.OCRInterval, cfg.Pipeline.OCRBatchSize, cfg.Pipeline.OCRBatchBudget)
	return cmd
}

func newTimezoneCmd() *cobra.Command {
	var (
		flags      loopFlags
		watchFlag  bool
		convertDir string
	)
	cmd := &cobra.Command{
		Use:   "timezone",
		Short: "Convert print_time in matched_non_delivery records from UTC+8 to UTC",
		Long: `timezone converts the print_time of every JSON record in
matched_non_delivery and writes the result to converted_tz, partitioned by
the converted date. With --watch, existing files are processed first and
new files are then picked up from filesystem events instead of polling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := stage.NewTimezoneConverter(cfg.Pipeline.Root, cfg.Pipeline.SourceOffset, time.Now, logger)
			if convertDir != "" {
				stats, err := conv.ConvertTree(cmd.Context(), convertDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "converted %d of %d files (%d failed)\n", stats.Converted, stats.Total, stats.Failed)
				return nil
			}
			if watchFlag && !flags.summary && !flags.processExisting {
				return runWatch(cmd.Context(), conv)
			}
			return runStage(cmd, conv, constants.StageTimezone, flags)
		},
	}
	flags.register(cmd, cfg.Pipeline.TimezoneInterval, 0, 0)
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "Use filesystem events instead of polling")
	cmd.Flags().StringVar(&convertDir, "convert-dir", "", "Convert every .json file below this directory once, then exit")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		flags      loopFlags
		sqlitePath string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load converted_tz records into the receipts table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.summary {
				return printSummary(cmd.OutOrStdout(), constants.StageIngest)
			}
			repo, closeDB, err := openStore(cmd.Context(), sqlitePath)
			if err != nil {
				return err
			}
			defer closeDB()

			proc, err := stage.NewIngester(cfg.Pipeline.Root, repo, time.Now, logger)
			if err != nil {
				return err
			}
			return runStage(cmd, proc, constants.StageIngest, flags)
		},
	}
	flags.register(cmd, cfg.Pipeline.IngestInterval, 0, 0)
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Use an embedded SQLite file instead of DB_URL")
	return cmd
}

// openStore connects to postgres via DB_URL, or to sqlitePath when set, and
// makes sure the tables exist.
func openStore(ctx context.Context, sqlitePath string) (repository.ReceiptRepository, func(), error) {
	if sqlitePath != "" {
		drv, err := repository.OpenSQLite("file:" + sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.EnsureSchema(ctx, drv); err != nil {
			drv.Close()
			return nil, nil, err
		}
		return repository.NewReceiptRepository(drv, logger), func() { drv.Close() }, nil
	}

	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("DB_URL is required unless --sqlite is set")
	}
	drv, pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { repository.Close(drv, pool, logger) }
	if err := repository.EnsureSchema(ctx, drv); err != nil {
		closeDB()
		return nil, nil, err
	}
	return repository.NewReceiptRepository(drv, logger), closeDB, nil
}

// openSeen returns the persistent seen set when PIPELINE_SEEN_DB is set,
// otherwise an in-memory one.
func openSeen(ctx context.Context, stageName string) (partition.SeenSet, func(), error) {
	if cfg.Pipeline.SeenDB == "" {
		return partition.NewMemorySeenSet(), func() {}, nil
	}
	s, err := partition.OpenSQLiteSeenSet(ctx, cfg.Pipeline.SeenDB, stageName, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func runStage(cmd *cobra.Command, proc stage.Processor, stageName string, flags loopFlags) error {
	if flags.summary {
		return printSummary(cmd.OutOrStdout(), stageName)
	}
	ctx := cmd.Context()

	seen, closeSeen, err := openSeen(ctx, stageName)
	if err != nil {
		return err
	}
	defer closeSeen()

	scanner := partition.NewScanner(partition.NewResolver(time.Now), logger)
	l := loop.New(proc, scanner, seen, loop.Config{
		Interval:    flags.interval,
		BatchSize:   flags.batchSize,
		BatchBudget: flags.batchBudget,
		BatchPause:  cfg.Pipeline.BatchPause,
	}, logger.With("stage", stageName))

	if flags.processExisting {
		stats, err := l.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d files: %d succeeded, %d failed\n", stats.Processed, stats.Succeeded, stats.Failed)
		return nil
	}
	return l.Run(ctx)
}

// runWatch sweeps what is already in matched_non_delivery, then converts new
// files as filesystem events arrive until ctx is cancelled.
func runWatch(ctx context.Context, conv *stage.TimezoneConverter) error {
	log := logger.With("stage", constants.StageTimezone)
	seen, closeSeen, err := openSeen(ctx, constants.StageTimezone)
	if err != nil {
		return err
	}
	defer closeSeen()

	// Watches go in before the sweep so files landing mid-sweep still
	// raise events; both paths share the bridge's dedup set.
	bridge := watch.NewBridge(watch.Config{
		Root:   conv.InputDir(),
		Settle: cfg.Pipeline.SettleDelay,
	}, conv, seen, log)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	if _, err := bridge.Sweep(ctx); err != nil && ctx.Err() == nil {
		_ = bridge.Stop()
		return err
	}
	<-ctx.Done()
	if err := bridge.Stop(); err != nil {
		log.Warn("failed to stop watcher", "error", err)
	}
	stats := bridge.Stats()
	log.Info("watcher stopped",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)
	return nil
}

func printSummary(w io.Writer, stageName string) error {
	sum, err := stage.Summarize(cfg.Pipeline.Root, stageName)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s summary\n", sum.Stage)
	for _, d := range append([]stage.DirSummary{sum.Input}, sum.Outputs...) {
		fmt.Fprintf(w, "  %s: %d files\n", d.Dir, d.Total)
		for _, p := range d.Partitions {
			fmt.Fprintf(w, "    %s  %d\n", p.Name, p.Files)
		}
	}
	return nil
}
