package common

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PIPELINE_ROOT", "")
	t.Setenv("OCR_BATCH_SIZE", "")
	cfg := LoadConfig()

	if cfg.Pipeline.ClassifyInterval != 10*time.Second {
		t.Fatalf("classify interval = %v", cfg.Pipeline.ClassifyInterval)
	}
	if cfg.Pipeline.DownloadInterval != 15*time.Second {
		t.Fatalf("download interval = %v", cfg.Pipeline.DownloadInterval)
	}
	if cfg.Pipeline.OCRInterval != 120*time.Second || cfg.Pipeline.OCRBatchSize != 10 {
		t.Fatalf("ocr settings = %v / %d", cfg.Pipeline.OCRInterval, cfg.Pipeline.OCRBatchSize)
	}
	if cfg.Pipeline.SettleDelay != 200*time.Millisecond {
		t.Fatalf("settle delay = %v", cfg.Pipeline.SettleDelay)
	}
	if cfg.OCR.MinConfidence != 30 {
		t.Fatalf("min confidence = %v", cfg.OCR.MinConfidence)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PIPELINE_ROOT", "/data/pipeline")
	t.Setenv("OCR_BATCH_SIZE", "4")
	t.Setenv("OCR_BATCH_BUDGET", "90s")
	t.Setenv("DOWNLOAD_GET_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()
	if cfg.Pipeline.Root != "/data/pipeline" {
		t.Fatalf("root = %q", cfg.Pipeline.Root)
	}
	if cfg.Pipeline.OCRBatchSize != 4 || cfg.Pipeline.OCRBatchBudget != 90*time.Second {
		t.Fatalf("batch = %d / %v", cfg.Pipeline.OCRBatchSize, cfg.Pipeline.OCRBatchBudget)
	}
	if cfg.Download.GetTimeout != 30*time.Second {
		t.Fatalf("invalid duration should keep default, got %v", cfg.Download.GetTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Pipeline.Root = "/tmp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Pipeline.OCRBatchSize = -1
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if ErrorCode(err, "") != "CONFIG_ERROR" {
		t.Fatalf("code = %q", ErrorCode(err, ""))
	}

	cfg.Pipeline.OCRBatchSize = 1
	cfg.Database.DSN = ""
	if err := cfg.ValidateServer(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing DSN should fail, got %v", err)
	}
}
