// Package ocr turns receipt images into text with tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir   string
	PrimaryLang   string // default "chi_sim+eng"
	FallbackLang  string // default "eng"
	OEM           int    // default 3
	PSM           int    // default 6, uniform block of text
	MinConfidence float64
	TempDir       string // where preprocessed images are written; "" -> os.TempDir
}

type ExtractionResult struct {
	Text       string
	Confidence float64
	Language   string
	Success    bool
	Duration   time.Duration
	Warnings   []string
}

// Message is the human readable status stored with the OCR record.
func (r ExtractionResult) Message() string {
	if r.Success {
		return "OCR completed successfully"
	}
	return "OCR failed: " + r.Language
}

var (
	ErrPreprocess  = errors.New("image preprocessing failed")
	ErrRecognition = errors.New("text recognition failed")
)

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	return NewExtractorWithRunner(cfg, execRunner{}, logger)
}

// NewExtractorWithRunner is NewExtractor with a custom command runner.
func NewExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.PrimaryLang == "" {
		cfg.PrimaryLang = constants.LangPrimary
	}
	if cfg.FallbackLang == "" {
		cfg.FallbackLang = constants.LangFallback
	}
	if cfg.OEM <= 0 {
		cfg.OEM = 3
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 6
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 30
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract preprocesses the image and recognises it with the primary
// language, falling back to the fallback language when the mean token
// confidence is not above MinConfidence. On failure the returned result
// carries one of the failure language sentinels alongside the error.
func (e *Extractor) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting ocr extraction", "path", path, "ext", ext)

	if !constants.IsOCRImage(path) {
		return failed(constants.LangPipelineError, start), fmt.Errorf("unsupported extension: %q", ext)
	}

	img, err := Preprocess(path)
	if err != nil {
		e.logger.Error("ocr preprocessing failed", "path", path, "error", err)
		return failed(constants.LangPreprocessingError, start), fmt.Errorf("%w: %v", ErrPreprocess, err)
	}
	pre, err := writePNG(e.cfg.TempDir, img)
	if err != nil {
		return failed(constants.LangPipelineError, start), fmt.Errorf("write preprocessed image: %w", err)
	}
	defer func() {
		if err := os.Remove(pre); err != nil {
			e.logger.Warn("failed to remove preprocessed image", "path", pre, "error", err)
		}
	}()

	res, err := e.recognize(ctx, pre)
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}
	e.logger.Debug("ocr extraction done",
		"path", path,
		"language", res.Language,
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func failed(lang string, start time.Time) ExtractionResult {
	return ExtractionResult{Language: lang, Duration: time.Since(start)}
}
