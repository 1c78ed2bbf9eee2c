package ocr

import (
	"strconv"
	"strings"
)

// MeanConfidence averages the strictly positive token confidences.
// Tesseract reports -1 for non-word rows and 0 for unreadable tokens.
func MeanConfidence(confs []float64) float64 {
	var sum float64
	var n int
	for _, c := range confs {
		if c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// parseTSVConfidences reads the conf column of tesseract TSV output.
func parseTSVConfidences(tsv string) []float64 {
	lines := strings.Split(strings.ReplaceAll(tsv, "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}
	confCol := -1
	for i, h := range strings.Split(lines[0], "\t") {
		if h == "conf" {
			confCol = i
		}
	}
	if confCol < 0 {
		return nil
	}

	var out []float64
	for _, ln := range lines[1:] {
		if ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) <= confCol {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(cols[confCol]), 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
