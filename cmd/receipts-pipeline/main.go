package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// CLI flags shared by every stage
var (
	rootFlag     string
	logLevelFlag string
)

var (
	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "receipts-pipeline",
	Short: "Stage workers that move receipt files through dated folders",
	Long: `receipts-pipeline runs one stage of the receipt pipeline per invocation.
Each stage polls its input folder (receipt_files, receipt_ocring, ...) under
--root, processes new files in every YYYY-MM-DD partition, and moves results
to the next stage's folder.

Examples:
  receipts-pipeline classify --interval 10s
  receipts-pipeline download --process-existing
  receipts-pipeline ocr --batch-size 10
  receipts-pipeline timezone --watch
  receipts-pipeline ingest --sqlite receipts.db
  receipts-pipeline ocr --summary`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(logLevelFlag)
		slog.SetDefault(logger)
		if !cmd.Flags().Changed("root") && cfg.Pipeline.Root != "" {
			rootFlag = cfg.Pipeline.Root
		}
		cfg.Pipeline.Root = rootFlag
		return cfg.Validate()
	},
}

func init() {
	cfg = common.LoadConfig()
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Pipeline root holding the stage folders (PIPELINE_ROOT)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newClassifyCmd(),
		newDownloadCmd(),
		newOCRCmd(),
		newTimezoneCmd(),
		newIngestCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
