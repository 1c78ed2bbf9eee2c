package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// TimezoneConverter shifts print_time from UTC+8 to UTC and files each
// record under converted_tz/<converted date>. The source is removed only
// after the converted record is written; failures leave it in place.
type TimezoneConverter struct {
	root   string
	offset time.Duration
	now    partition.Clock
	logger *slog.Logger
}

func NewTimezoneConverter(root string, offset time.Duration, now partition.Clock, logger *slog.Logger) *TimezoneConverter {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if offset == 0 {
		offset = constants.DefaultSourceOffset * time.Hour
	}
	return &TimezoneConverter{root: root, offset: offset, now: now, logger: logger}
}

func (t *TimezoneConverter) Name() string     { return constants.StageTimezone }
func (t *TimezoneConverter) InputDir() string { return filepath.Join(t.root, constants.DirMatchedNonDelivery) }
func (t *TimezoneConverter) Filter() partition.Filter {
	return partition.ExtensionFilter(map[string]struct{}{constants.JSONExt: {}})
}

// OutputDir is the converted_tz base directory.
func (t *TimezoneConverter) OutputDir() string { return filepath.Join(t.root, constants.DirConvertedTZ) }

// ConvertPrintTime parses value as a naive 2006-01-02 15:04:05 timestamp and
// subtracts offset. It returns the converted timestamp and its date.
func ConvertPrintTime(value string, offset time.Duration) (string, string, error) {
	ts, err := time.Parse(constants.PrintTimeLayout, strings.TrimSpace(value))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPrintTime, value)
	}
	conv := ts.Add(-offset)
	return conv.Format(constants.PrintTimeLayout), conv.Format(constants.PartitionLayout), nil
}

// ConvertRecord rewrites print_time in place and adds original_print_time
// and the conversion marker. It returns the output partition name.
func ConvertRecord(doc map[string]any, offset time.Duration) (string, error) {
	raw, ok := doc["print_time"]
	if !ok || raw == nil {
		return "", ErrMissingPrintTime
	}
	pt, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrInvalidPrintTime, raw)
	}
	if strings.TrimSpace(pt) == "" || pt == "unknown" {
		return "", ErrMissingPrintTime
	}
	converted, date, err := ConvertPrintTime(pt, offset)
	if err != nil {
		return "", err
	}
	doc["original_print_time"] = pt
	doc["print_time"] = converted
	doc["timezone_conversion"] = constants.TimezoneConversion
	return date, nil
}

func (t *TimezoneConverter) ProcessOne(_ context.Context, f partition.StageFile) Result {
	out, err := t.convertFile(f.Path)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("%s: %w", f.Name, err))
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("could not remove converted source", "path", f.Path, "error", err)
	}
	t.logger.Info("timezone converted", "file", f.Name, "output", out)
	return Result{Destination: constants.DestConverted, OutputPath: out}
}

func (t *TimezoneConverter) convertFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	doc, err := decodeObject(content)
	if err != nil {
		return "", err
	}
	date, err := ConvertRecord(doc, t.offset)
	if err != nil {
		return "", err
	}

	outDir, err := partition.EnsurePartition(t.OutputDir(), date)
	if err != nil {
		return "", err
	}
	out := t.uniqueOutput(outDir, filepath.Base(path))

	body, err := encodeObject(doc)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(out, body); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

func (t *TimezoneConverter) uniqueOutput(dir, name string) string {
	return uniquePath(dir, name, "_tz_", t.now())
}

// TreeStats summarises a recursive conversion sweep.
type TreeStats struct {
	Total     int
	Converted int
	Failed    int
}

// ConvertTree converts every .json file below dir, in any subdirectory,
// removing each source that converted.
func (t *TimezoneConverter) ConvertTree(ctx context.Context, dir string) (TreeStats, error) {
	var stats TreeStats
	if _, err := os.Stat(dir); err != nil {
		return stats, fmt.Errorf("convert tree %s: %w", dir, err)
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !t.Filter()(d.Name()) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		stats.Total++
		res := t.ProcessOne(ctx, partition.StageFile{Path: path, Name: d.Name(), Partition: filepath.Base(filepath.Dir(path))})
		if res.OK() {
			stats.Converted++
		} else {
			stats.Failed++
			t.logger.Error("timezone conversion failed", "path", path, "error", res.Err)
		}
		return nil
	})
	return stats, err
}

func decodeObject(content []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc == nil {
		return nil, ErrInvalidDocument
	}
	return doc, nil
}

func encodeObject(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
