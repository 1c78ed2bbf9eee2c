package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// Classifier routes captured files to receipt_ocring when they reference a
// receipt URL and to receipt_checked otherwise. Files are moved unchanged.
type Classifier struct {
	root    string
	matcher *URLMatcher
	logger  *slog.Logger
}

func NewClassifier(root string, matcher *URLMatcher, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{root: root, matcher: matcher, logger: logger}
}

func (c *Classifier) Name() string             { return constants.StageClassify }
func (c *Classifier) InputDir() string         { return filepath.Join(c.root, constants.DirReceiptFiles) }
func (c *Classifier) Filter() partition.Filter { return partition.AnyFile }

func (c *Classifier) ProcessOne(_ context.Context, f partition.StageFile) Result {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("read %s: %w", f.Path, err))
	}

	dest, dir := constants.DestWithoutURL, constants.DirReceiptChecked
	if c.matcher.ClassifyText(content) {
		dest, dir = constants.DestWithURL, constants.DirReceiptOCRing
	}

	outDir, err := partition.EnsurePartition(filepath.Join(c.root, dir), f.Partition)
	if err != nil {
		return fail(dest, err)
	}
	out := filepath.Join(outDir, f.Name)
	if err := moveFile(f.Path, out); err != nil {
		return fail(dest, fmt.Errorf("move %s: %w", f.Path, err))
	}

	c.logger.Info("file classified", "file", f.Name, "partition", f.Partition, "destination", dest)
	return Result{Destination: dest, OutputPath: out}
}
