package ocr

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

func (e *Extractor) recognize(ctx context.Context, path string) (ExtractionResult, error) {
	var warn []string

	confs, err := e.tesseractTSV(ctx, path, e.cfg.PrimaryLang)
	if err != nil {
		warn = append(warn, err.Error())
	}
	mean := MeanConfidence(confs)

	if err == nil && mean > e.cfg.MinConfidence {
		txt, err := e.tesseractText(ctx, path, e.cfg.PrimaryLang, true)
		if err == nil {
			return ExtractionResult{
				Text:       CleanText(txt),
				Confidence: mean,
				Language:   e.cfg.PrimaryLang,
				Success:    true,
				Warnings:   warn,
			}, nil
		}
		warn = append(warn, err.Error())
	}

	e.logger.Debug("ocr falling back", "path", path, "confidence", mean, "threshold", e.cfg.MinConfidence)
	txt, err := e.tesseractText(ctx, path, e.cfg.FallbackLang, false)
	if err != nil {
		return ExtractionResult{Language: constants.LangError, Warnings: append(warn, err.Error())},
			fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	return ExtractionResult{
		Text:     CleanText(txt),
		Language: e.cfg.FallbackLang,
		Success:  true,
		Warnings: warn,
	}, nil
}

func (e *Extractor) engineArgs(path, lang string, tuned bool) []string {
	args := []string{path, "stdout", "-l", lang}
	if tuned {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM), "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

// tesseractText runs: tesseract <file> stdout -l <lang> [--oem N --psm N]
func (e *Extractor) tesseractText(ctx context.Context, path, lang string, tuned bool) (string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, e.engineArgs(path, lang, tuned)...)
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", lang, err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// tesseractTSV returns the per-token confidences (0..100) for lang.
func (e *Extractor) tesseractTSV(ctx context.Context, path, lang string) ([]float64, error) {
	args := append(e.engineArgs(path, lang, true), "tsv")
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract TSV %s: %w: %s", lang, err, truncate(string(errb), 512))
	}
	return parseTSVConfidences(string(out)), nil
}
