package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type fakeLister struct {
	recs     []*entity.Receipt
	from, to string
}

func (f *fakeLister) ListByDateRange(_ context.Context, from, to string) ([]*entity.Receipt, error) {
	f.from, f.to = from, to
	return f.recs, nil
}

func newService(l ReceiptLister) *Service {
	s := NewService(l, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2025, 7, 30, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestExportReceiptsXLSX(t *testing.T) {
	store := "Cafe"
	amount := 12.5
	pt := time.Date(2025, 7, 22, 2, 0, 0, 0, time.UTC)
	lister := &fakeLister{recs: []*entity.Receipt{{
		ReceiptNumber:  "R-1",
		StoreName:      &store,
		TicketAmount:   &amount,
		PrintTime:      &pt,
		ProcessingDate: "2025-07-22",
	}}}

	out, err := newService(lister).ExportReceiptsXLSX(context.Background(), "2025-07-01", "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if lister.from != "2025-07-01" || lister.to != "2025-07-30" {
		t.Errorf("range = %s..%s, want 2025-07-01..2025-07-30", lister.from, lister.to)
	}

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "Receipt Number" {
		t.Errorf("header = %q", rows[0][0])
	}
	if rows[1][0] != "R-1" || rows[1][1] != "Cafe" || rows[1][3] != "12.5" {
		t.Errorf("row = %v", rows[1])
	}
	if rows[1][4] != "2025-07-22 02:00:00" {
		t.Errorf("print time = %q", rows[1][4])
	}
}

func TestExportRejectsBadDate(t *testing.T) {
	_, err := newService(&fakeLister{}).ExportReceiptsXLSX(context.Background(), "07/01/2025", "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
