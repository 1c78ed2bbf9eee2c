package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

func newTestRepo(t *testing.T) ReceiptRepository {
	t.Helper()
	drv, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { drv.Close() })
	if err := EnsureSchema(context.Background(), drv); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewReceiptRepository(drv, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strp(s string) *string { return &s }

func floatp(f float64) *float64 { return &f }

func receipt(number, date, store string, amount float64) *entity.Receipt {
	pt := time.Date(2025, 7, 22, 2, 0, 0, 0, time.UTC)
	return &entity.Receipt{
		ReceiptNumber:      number,
		StoreName:          strp(store),
		TicketAmount:       floatp(amount),
		PrintTime:          &pt,
		OriginalPrintTime:  strp("2025-07-22 10:00:00"),
		TimezoneConversion: strp("UTC+8 -> UTC+0"),
		ProcessingDate:     date,
		RawJSON:            []byte(`{"number":"` + number + `"}`),
	}
}

func TestUpsertReceiptInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.UpsertReceipt(ctx, receipt("R-1", "2025-07-22", "Cafe", 12.5))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated := receipt("R-1", "2025-07-22", "Cafe Nord", 30)
	id2, err := repo.UpsertReceipt(ctx, updated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if id2 != id {
		t.Fatalf("upsert changed id: %d != %d", id2, id)
	}

	got, err := repo.GetReceipt(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StoreName == nil || *got.StoreName != "Cafe Nord" {
		t.Errorf("store name = %v, want Cafe Nord", got.StoreName)
	}
	if got.TicketAmount == nil || *got.TicketAmount != 30 {
		t.Errorf("amount = %v, want 30", got.TicketAmount)
	}
	if got.ProcessingDate != "2025-07-22" {
		t.Errorf("processing date = %q", got.ProcessingDate)
	}
	if got.PrintTime == nil || got.PrintTime.Hour() != 2 {
		t.Errorf("print time = %v, want 02:00", got.PrintTime)
	}
	if string(got.RawJSON) != `{"number":"R-1"}` {
		t.Errorf("raw json = %s", got.RawJSON)
	}

	// same number on another day is a distinct receipt
	id3, err := repo.UpsertReceipt(ctx, receipt("R-1", "2025-07-23", "Cafe", 1))
	if err != nil {
		t.Fatalf("insert other day: %v", err)
	}
	if id3 == id {
		t.Fatal("expected a new row for a different processing date")
	}
}

func TestUpsertReceiptRequiresKey(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.UpsertReceipt(context.Background(), &entity.Receipt{ProcessingDate: "2025-07-22"})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetReceipt(context.Background(), 42)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListReceiptsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for _, n := range []string{"A", "B", "C"} {
		if _, err := repo.UpsertReceipt(ctx, receipt(n, "2025-07-22", "Shop", 1)); err != nil {
			t.Fatal(err)
		}
	}

	got, total, err := repo.ListReceipts(ctx, ListParams{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ReceiptNumber != "C" || got[1].ReceiptNumber != "B" {
		t.Errorf("order = %s,%s, want C,B", got[0].ReceiptNumber, got[1].ReceiptNumber)
	}

	got, _, err = repo.ListReceipts(ctx, ListParams{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ReceiptNumber != "A" {
		t.Errorf("second page = %+v, want [A]", got)
	}
}

func TestListReceiptsStoreFilter(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for _, r := range []*entity.Receipt{
		receipt("A", "2025-07-22", "Green Grocer", 1),
		receipt("B", "2025-07-22", "Book Barn", 1),
	} {
		if _, err := repo.UpsertReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, total, err := repo.ListReceipts(ctx, ListParams{Limit: 10, StoreName: "grocer"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(got) != 1 || got[0].ReceiptNumber != "A" {
		t.Errorf("filtered = %d rows (total %d)", len(got), total)
	}
}

func TestSummaryAndStores(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	empty, err := repo.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalReceipts != 0 || empty.EarliestDate != nil {
		t.Errorf("empty summary = %+v", empty)
	}

	for _, r := range []*entity.Receipt{
		receipt("A", "2025-07-20", "Shop", 10),
		receipt("B", "2025-07-22", "Shop", 30),
		receipt("C", "2025-07-21", "Cafe", 5),
	} {
		if _, err := repo.UpsertReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := repo.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalReceipts != 3 || sum.TotalAmount != 45 || sum.MinAmount != 5 || sum.MaxAmount != 30 || sum.UniqueStores != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.EarliestDate == nil || *sum.EarliestDate != "2025-07-20" || sum.LatestDate == nil || *sum.LatestDate != "2025-07-22" {
		t.Errorf("date range = %v..%v", sum.EarliestDate, sum.LatestDate)
	}

	stores, err := repo.Stores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 2 || stores[0].StoreName != "Shop" || stores[0].ReceiptCount != 2 || stores[0].AvgAmount != 20 {
		t.Errorf("stores = %+v", stores)
	}
}

func TestSearchReceipts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seed := []*entity.Receipt{
		receipt("INV-100", "2025-07-22", "Green Grocer", 12.5),
		receipt("INV-200", "2025-07-22", "Book Barn", 99),
		receipt("X-300", "2025-07-23", "grocer outlet", 7),
	}
	for _, r := range seed {
		if _, err := repo.UpsertReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		term string
		want int
	}{
		{"GROCER", 2},
		{"inv-", 2},
		{"12.5", 1},
		{"nothing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := repo.SearchReceipts(ctx, tt.term, 20)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("SearchReceipts(%q) = %d rows, want %d", tt.term, len(got), tt.want)
			}
		})
	}

	if _, err := repo.SearchReceipts(ctx, "  ", 20); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("empty term err = %v", err)
	}
}

func TestListByDateRange(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for i, d := range []string{"2025-07-20", "2025-07-21", "2025-07-22"} {
		if _, err := repo.UpsertReceipt(ctx, receipt(string(rune('A'+i)), d, "Shop", 1)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListByDateRange(ctx, "2025-07-21", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ProcessingDate != "2025-07-21" {
		t.Fatalf("from-only range = %+v", got)
	}

	got, err = repo.ListByDateRange(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("open range = %d rows, want 3", len(got))
	}
}

func TestDailyStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.GetDailyStats(ctx, "2025-07-22"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	for _, r := range []*entity.Receipt{
		receipt("A", "2025-07-22", "Shop", 10.25),
		receipt("B", "2025-07-22", "Shop", 4.75),
		receipt("C", "2025-07-23", "Shop", 100),
	} {
		if _, err := repo.UpsertReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.RefreshDailyStats(ctx, "2025-07-22"); err != nil {
		t.Fatal(err)
	}

	stats, err := repo.GetDailyStats(ctx, "2025-07-22")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReceipts != 2 || stats.TotalAmount != 15 {
		t.Errorf("stats = %+v, want 2 receipts totalling 15", stats)
	}

	// refresh is idempotent and picks up new rows
	if _, err := repo.UpsertReceipt(ctx, receipt("D", "2025-07-22", "Shop", 5)); err != nil {
		t.Fatal(err)
	}
	if err := repo.RefreshDailyStats(ctx, "2025-07-22"); err != nil {
		t.Fatal(err)
	}
	stats, err = repo.GetDailyStats(ctx, "2025-07-22")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReceipts != 3 || stats.TotalAmount != 20 {
		t.Errorf("stats after refresh = %+v", stats)
	}
}
