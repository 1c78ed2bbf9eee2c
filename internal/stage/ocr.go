package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ocr"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// TextExtractor turns an image into text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (ocr.ExtractionResult, error)
}

// OCRRecord is the JSON sidecar written for every image.
type OCRRecord struct {
	Data     string      `json:"data"`
	Success  bool        `json:"success"`
	Message  *string     `json:"message"`
	Fields   any         `json:"fields"`
	Total    any         `json:"total"`
	Metadata OCRMetadata `json:"ocr_metadata"`
}

type OCRMetadata struct {
	Confidence       float64 `json:"confidence"`
	Language         string  `json:"language"`
	ProcessingTime   float64 `json:"processing_time"`
	ProcessedAt      string  `json:"processed_at"`
	SourceFile       string  `json:"source_file"`
	SourceDateFolder string  `json:"source_date_folder"`
	OutputDateFolder string  `json:"output_date_folder"`
}

// OCRStage writes one OCR record per downloaded image into
// receipt_ocr_text under the image's own partition, then removes the image.
// Failed recognitions still produce a record with success=false.
type OCRStage struct {
	root      string
	extractor TextExtractor
	now       partition.Clock
	logger    *slog.Logger
}

func NewOCRStage(root string, extractor TextExtractor, now partition.Clock, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &OCRStage{root: root, extractor: extractor, now: now, logger: logger}
}

func (o *OCRStage) Name() string     { return constants.StageOCR }
func (o *OCRStage) InputDir() string { return filepath.Join(o.root, constants.DirDownloaded) }
func (o *OCRStage) Filter() partition.Filter {
	return partition.ExtensionFilter(constants.OCRExtensions)
}

func (o *OCRStage) ProcessOne(ctx context.Context, f partition.StageFile) Result {
	start := o.now()
	outDir, err := partition.EnsurePartition(filepath.Join(o.root, constants.DirOCRText), f.Partition)
	if err != nil {
		return fail(constants.DestNone, err)
	}
	out := filepath.Join(outDir, stem(f.Name)+".json")

	if exists(out) {
		o.logger.Info("ocr output already exists", "file", f.Name, "output", out)
		o.removeSource(f.Path)
		return Result{Destination: constants.DestAlreadyExists, OutputPath: out}
	}

	res, extractErr := o.extractor.Extract(ctx, f.Path)
	if extractErr == nil && !res.Success {
		extractErr = errors.New("recognition unsuccessful")
	}
	if extractErr != nil {
		res.Success = false
		if !constants.IsOCRFailureLanguage(res.Language) {
			res.Language = constants.LangPipelineError
		}
	}

	rec := OCRRecord{
		Data:    res.Text,
		Success: res.Success,
		Metadata: OCRMetadata{
			Confidence:       res.Confidence,
			Language:         res.Language,
			ProcessingTime:   o.now().Sub(start).Seconds(),
			ProcessedAt:      o.now().Format(constants.ProcessedAtLayout),
			SourceFile:       f.Name,
			SourceDateFolder: f.Partition,
			OutputDateFolder: f.Partition,
		},
	}
	if !res.Success {
		msg := res.Message()
		rec.Data = ""
		rec.Message = &msg
		rec.Metadata.Confidence = 0
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("encode ocr record: %w", err))
	}
	if err := writeFileAtomic(out, body); err != nil {
		return fail(constants.DestNone, fmt.Errorf("write %s: %w", out, err))
	}
	o.removeSource(f.Path)

	if !res.Success {
		o.logger.Error("ocr failed", "file", f.Name, "language", res.Language, "error", extractErr)
		return Result{Destination: constants.DestOCRError, OutputPath: out, Err: fmt.Errorf("ocr %s: %w", f.Name, extractErr)}
	}
	o.logger.Info("ocr completed",
		"file", f.Name,
		"language", res.Language,
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return Result{Destination: constants.DestOCROK, OutputPath: out}
}

func (o *OCRStage) removeSource(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("failed to remove ocr source", "path", path, "error", err)
	}
}
