package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const (
	sheet      = "Receipts"
	dateLayout = "2006-01-02"
)

// ReceiptLister is the slice of the repository the export needs.
type ReceiptLister interface {
	ListByDateRange(ctx context.Context, from, to string) ([]*entity.Receipt, error)
}

// Service produces XLSX bytes for receipt exports.
type Service struct {
	receipts ReceiptLister
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(receipts ReceiptLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, now: time.Now, logger: logger}
}

// ExportReceiptsXLSX returns a workbook for receipts processed in [from, to].
// If only from is provided -> from..today (inclusive).
// If neither is provided   -> all receipts.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, from, to string) ([]byte, error) {
	start := time.Now()

	for name, v := range map[string]string{"from": from, "to": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return nil, common.NewAppError("INVALID_INPUT", fmt.Sprintf("%s must be YYYY-MM-DD", name), common.ErrInvalidInput)
		}
	}
	if from != "" && to == "" {
		to = s.now().Format(dateLayout)
	}

	recs, err := s.receipts.ListByDateRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Receipt Number",
		"Store Name",
		"Store ID",
		"Amount",
		"Print Time (UTC)",
		"Original Print Time",
		"Processing Date",
		"Source File",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range recs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.ReceiptNumber)
		write(2, deref(r.StoreName))
		write(3, deref(r.StoreID))
		if r.TicketAmount != nil {
			write(4, *r.TicketAmount)
		}
		if r.PrintTime != nil {
			write(5, r.PrintTime.Format("2006-01-02 15:04:05"))
		}
		write(6, deref(r.OriginalPrintTime))
		write(7, r.ProcessingDate)
		if r.OriginalFilename != nil {
			write(8, *r.OriginalFilename)
		} else {
			write(8, deref(r.SourceFilePath))
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 24) // number
	_ = f.SetColWidth(sheet, "B", "C", 28) // store
	_ = f.SetColWidth(sheet, "D", "D", 12)
	_ = f.SetColWidth(sheet, "E", "G", 20) // times
	_ = f.SetColWidth(sheet, "H", "H", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("receipts exported",
		"from", from,
		"to", to,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
