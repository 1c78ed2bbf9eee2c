package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// convertedReceiptSchema is the minimum shape of a converted_tz record.
const convertedReceiptSchema = `{
	"type": "object",
	"required": ["print_time"],
	"properties": {
		"print_time": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2} \\d{2}:\\d{2}:\\d{2}$"},
		"original_print_time": {"type": "string"},
		"timezone_conversion": {"type": "string"},
		"record": {"type": "object"}
	}
}`

var printTimeLayouts = []string{
	constants.PrintTimeLayout,
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ReceiptStore persists ingested receipts.
type ReceiptStore interface {
	UpsertReceipt(ctx context.Context, r *entity.Receipt) (int64, error)
	RefreshDailyStats(ctx context.Context, processingDate string) error
}

// Ingester loads converted_tz records into the receipts table, keyed by
// receipt number and processing date, and removes each loaded file.
type Ingester struct {
	root   string
	store  ReceiptStore
	schema *jsonschema.Schema
	now    partition.Clock
	logger *slog.Logger
}

func NewIngester(root string, store ReceiptStore, now partition.Clock, logger *slog.Logger) (*Ingester, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("converted_receipt.json", strings.NewReader(convertedReceiptSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("converted_receipt.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Ingester{root: root, store: store, schema: schema, now: now, logger: logger}, nil
}

func (i *Ingester) Name() string     { return constants.StageIngest }
func (i *Ingester) InputDir() string { return filepath.Join(i.root, constants.DirConvertedTZ) }
func (i *Ingester) Filter() partition.Filter {
	return partition.ExtensionFilter(map[string]struct{}{constants.JSONExt: {}})
}

func (i *Ingester) ProcessOne(ctx context.Context, f partition.StageFile) Result {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("read %s: %w", f.Path, err))
	}
	rec, err := i.BuildReceipt(content, f)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("%s: %w", f.Name, err))
	}

	id, err := i.store.UpsertReceipt(ctx, rec)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("upsert %s: %w", rec.ReceiptNumber, err))
	}
	if err := i.store.RefreshDailyStats(ctx, rec.ProcessingDate); err != nil {
		i.logger.Warn("daily stats refresh failed", "processing_date", rec.ProcessingDate, "error", err)
	}
	// the row is stored; a failed archive leaves the source for an
	// idempotent re-ingest
	archived, err := i.archive(f, rec.ProcessingDate)
	if err != nil {
		i.logger.Warn("could not archive ingested source", "path", f.Path, "error", err)
	}

	i.logger.Info("receipt ingested",
		"file", f.Name,
		"receipt_id", id,
		"receipt_number", rec.ReceiptNumber,
		"archived_to", archived)
	return Result{Destination: constants.DestIngested, OutputPath: archived}
}

// ArchiveDir is where ingested records are kept, partitioned by
// processing date.
func (i *Ingester) ArchiveDir() string {
	return filepath.Join(i.root, constants.DirInsertedToDatabase)
}

// archive moves an ingested record into inserted_to_database/<date>,
// suffixing the name when a record of the same name is already there.
func (i *Ingester) archive(f partition.StageFile, date string) (string, error) {
	dir, err := partition.EnsurePartition(i.ArchiveDir(), date)
	if err != nil {
		return "", err
	}
	dst := uniquePath(dir, f.Name, "_", i.now())
	if err := moveFile(f.Path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// BuildReceipt validates a converted record and maps it onto a Receipt.
func (i *Ingester) BuildReceipt(content []byte, f partition.StageFile) (*entity.Receipt, error) {
	var generic any
	if err := json.Unmarshal(content, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := i.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	doc, err := decodeObject(content)
	if err != nil {
		return nil, err
	}

	fields := ExtractFields(doc)
	number, ok := fields[FieldNumber]
	if !ok {
		return nil, fmt.Errorf("%w: receipt number not found", common.ErrValidation)
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	rec := &entity.Receipt{
		ReceiptNumber:    number,
		ProcessingDate:   f.Partition,
		SourceFilePath:   strPtr(f.Path),
		OriginalFilename: strPtr(f.Name),
		RawJSON:          raw.Bytes(),
	}
	if _, ok := partition.ParsePartition(f.Partition); !ok {
		rec.ProcessingDate = i.now().Format(constants.PartitionLayout)
	}
	if v, ok := fields[FieldStoreName]; ok {
		rec.StoreName = strPtr(v)
	}
	if v, ok := fields[FieldStoreID]; ok {
		rec.StoreID = strPtr(v)
	}
	if v, ok := fields[FieldAmount]; ok {
		if amt, ok := ParseAmount(v); ok {
			rec.TicketAmount = &amt
		} else {
			i.logger.Warn("unparseable ticket amount", "file", f.Name, "value", v)
		}
	}

	// a converted record carries the UTC time at the top level
	pt := fields[FieldPrintTime]
	if _, converted := doc["timezone_conversion"]; converted {
		pt, _ = doc["print_time"].(string)
		if v, ok := doc["original_print_time"].(string); ok {
			rec.OriginalPrintTime = strPtr(v)
		}
		if v, ok := doc["timezone_conversion"].(string); ok {
			rec.TimezoneConversion = strPtr(v)
		}
	}
	if t, ok := parsePrintTime(pt); ok {
		rec.PrintTime = &t
	}
	return rec, nil
}

func parsePrintTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range printTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func strPtr(s string) *string { return &s }
