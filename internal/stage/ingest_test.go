package stage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type fakeStore struct {
	receipts []*entity.Receipt
	stats    []string
	err      error
}

func (s *fakeStore) UpsertReceipt(_ context.Context, r *entity.Receipt) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.receipts = append(s.receipts, r)
	return int64(len(s.receipts)), nil
}

func (s *fakeStore) RefreshDailyStats(_ context.Context, date string) error {
	s.stats = append(s.stats, date)
	return nil
}

func newTestIngester(t *testing.T, root string, store ReceiptStore) *Ingester {
	t.Helper()
	ing, err := NewIngester(root, store, fixedClock("2025-07-24 08:00:00"), nil)
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}
	return ing
}

func TestIngesterUpsertsConvertedRecord(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirConvertedTZ, "2025-07-22", "r1.json", `{
		"record": {"receiptNo": "R-77", "shopName": "Cafe 9", "shopCode": "S09", "totalAmount": "¥1,234.50", "printTime": "2025-07-23 03:00:00"},
		"print_time": "2025-07-22 19:00:00",
		"original_print_time": "2025-07-23 03:00:00",
		"timezone_conversion": "UTC+8 -> UTC+0"
	}`)
	store := &fakeStore{}

	res := newTestIngester(t, root, store).ProcessOne(context.Background(), f)
	if !res.OK() || res.Destination != constants.DestIngested {
		t.Fatalf("result = %+v", res)
	}
	if len(store.receipts) != 1 {
		t.Fatalf("receipts = %d", len(store.receipts))
	}
	r := store.receipts[0]
	if r.ReceiptNumber != "R-77" || *r.StoreName != "Cafe 9" || *r.StoreID != "S09" {
		t.Fatalf("receipt = %+v", r)
	}
	if r.TicketAmount == nil || *r.TicketAmount != 1234.5 {
		t.Fatalf("amount = %v", r.TicketAmount)
	}
	if r.PrintTime == nil || r.PrintTime.Format("2006-01-02 15:04:05") != "2025-07-22 19:00:00" {
		t.Fatalf("print time should be the converted value, got %v", r.PrintTime)
	}
	if *r.OriginalPrintTime != "2025-07-23 03:00:00" || r.ProcessingDate != "2025-07-22" {
		t.Fatalf("receipt = %+v", r)
	}
	if *r.OriginalFilename != "r1.json" || len(r.RawJSON) == 0 {
		t.Fatalf("receipt = %+v", r)
	}
	if len(store.stats) != 1 || store.stats[0] != "2025-07-22" {
		t.Fatalf("stats refreshed for %v", store.stats)
	}
	mustNotExist(t, f.Path)

	archived := filepath.Join(root, constants.DirInsertedToDatabase, "2025-07-22", "r1.json")
	if res.OutputPath != archived {
		t.Fatalf("output = %q, want %q", res.OutputPath, archived)
	}
	if !strings.Contains(readFile(t, archived), `"receiptNo": "R-77"`) {
		t.Fatal("archived record should be the original bytes")
	}
}

func TestIngesterArchiveKeepsEarlierRecord(t *testing.T) {
	root := t.TempDir()
	body := `{"number": "A1", "print_time": "2025-07-22 19:00:00"}`
	ing := newTestIngester(t, root, &fakeStore{})

	first := ing.ProcessOne(context.Background(), stageFile(t, root, constants.DirConvertedTZ, "2025-07-22", "r.json", body))
	second := ing.ProcessOne(context.Background(), stageFile(t, root, constants.DirConvertedTZ, "2025-07-22", "r.json", body))
	if !first.OK() || !second.OK() {
		t.Fatalf("results = %+v / %+v", first, second)
	}

	dir := filepath.Join(root, constants.DirInsertedToDatabase, "2025-07-22")
	mustExist(t, filepath.Join(dir, "r.json"))
	if want := filepath.Join(dir, "r_080000000.json"); second.OutputPath != want {
		t.Fatalf("second archive = %q, want %q", second.OutputPath, want)
	}
	mustExist(t, second.OutputPath)
}

func TestIngesterRejectsInvalidRecords(t *testing.T) {
	cases := []struct {
		name, content string
	}{
		{"missing print_time", `{"number": "A1"}`},
		{"bad print_time", `{"number": "A1", "print_time": "23/07/2025"}`},
		{"missing number", `{"number": "unknown", "print_time": "2025-07-22 19:00:00"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			f := stageFile(t, root, constants.DirConvertedTZ, "2025-07-22", "bad.json", tc.content)
			store := &fakeStore{}

			res := newTestIngester(t, root, store).ProcessOne(context.Background(), f)
			if !errors.Is(res.Err, common.ErrValidation) {
				t.Fatalf("want validation error, got %v", res.Err)
			}
			if len(store.receipts) != 0 {
				t.Fatal("nothing should be stored")
			}
			mustExist(t, f.Path)
			mustNotExist(t, filepath.Join(root, constants.DirInsertedToDatabase))
		})
	}
}

func TestIngesterStoreFailureKeepsFile(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirConvertedTZ, "2025-07-22", "r.json", `{"number": "A1", "print_time": "2025-07-22 19:00:00"}`)
	store := &fakeStore{err: errors.New("connection refused")}

	if res := newTestIngester(t, root, store).ProcessOne(context.Background(), f); res.OK() {
		t.Fatal("expected failure")
	}
	mustExist(t, f.Path)
}

func TestExtractFields(t *testing.T) {
	doc := map[string]any{
		"number":       "unknown",
		"receipt_no":   "N-5",
		"storeName":    "",
		"merchantName": "Shop",
		"amount":       float64(42),
		"timestamp":    "null",
		"dateTime":     "2025-07-22 10:00:00",
	}
	got := ExtractFields(doc)
	want := map[string]string{
		FieldNumber:    "N-5",
		FieldStoreName: "Shop",
		FieldAmount:    "42",
		FieldPrintTime: "2025-07-22 10:00:00",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got[FieldStoreID]; ok {
		t.Fatal("store_id should be absent")
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{"12.5": 12.5, "$1,000": 1000, " ￥8.80 ": 8.8}
	for in, want := range cases {
		if got, ok := ParseAmount(in); !ok || got != want {
			t.Errorf("ParseAmount(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseAmount("twelve"); ok {
		t.Fatal("expected failure")
	}
}
