package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const dateLayout = "2006-01-02"

var receiptColumns = []string{
	"id",
	"receipt_number",
	"store_name",
	"store_id",
	"ticket_amount",
	"print_time",
	"original_print_time",
	"timezone_conversion",
	"processing_date",
	"source_file_path",
	"original_filename",
	"raw_json",
	"created_at",
	"updated_at",
}

// dbTimeLayouts covers what postgres (via database/sql conversion) and
// sqlite hand back for timestamp and date columns.
var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	dateLayout,
}

// ListParams pages and filters ListReceipts. StoreName is a
// case-insensitive substring match.
type ListParams struct {
	Limit     int
	Offset    int
	StoreName string
}

type ReceiptRepository interface {
	ListReceipts(ctx context.Context, params ListParams) ([]*entity.Receipt, int64, error)
	GetReceipt(ctx context.Context, id int64) (*entity.Receipt, error)
	SearchReceipts(ctx context.Context, term string, limit int) ([]*entity.Receipt, error)
	ListByDateRange(ctx context.Context, from, to string) ([]*entity.Receipt, error)
	UpsertReceipt(ctx context.Context, r *entity.Receipt) (int64, error)
	RefreshDailyStats(ctx context.Context, processingDate string) error
	GetDailyStats(ctx context.Context, processingDate string) (*entity.DailyStats, error)
	Summary(ctx context.Context) (*entity.ReceiptSummary, error)
	Stores(ctx context.Context) ([]entity.StoreStats, error)
	Ping(ctx context.Context) error
}

type receiptRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
	now    func() time.Time
}

func NewReceiptRepository(drv *entsql.Driver, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{
		drv:    drv,
		logger: logger,
		now:    time.Now,
	}
}

func (r *receiptRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *receiptRepository) selectReceipts() *entsql.Selector {
	b := r.builder()
	return b.Select(receiptColumns...).From(b.Table(receiptsTable))
}

// ListReceipts returns one page of receipts, newest first, and the total
// number of rows matching the filter.
func (r *receiptRepository) ListReceipts(ctx context.Context, params ListParams) ([]*entity.Receipt, int64, error) {
	b := r.builder()
	count := b.Select(entsql.Count("*")).From(b.Table(receiptsTable))
	page := r.selectReceipts().
		OrderBy(entsql.Desc("id")).
		Limit(params.Limit).
		Offset(params.Offset)
	if params.StoreName != "" {
		count = count.Where(entsql.ContainsFold("store_name", params.StoreName))
		page = page.Where(entsql.ContainsFold("store_name", params.StoreName))
	}

	var total int64
	query, args := count.Query()
	if err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		r.logger.Error("failed to count receipts", "error", err)
		return nil, 0, dbError("count receipts", err)
	}

	query, args = page.Query()
	recs, err := r.queryReceipts(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to list receipts", "limit", params.Limit, "offset", params.Offset, "error", err)
		return nil, 0, dbError("list receipts", err)
	}
	return recs, total, nil
}

func (r *receiptRepository) GetReceipt(ctx context.Context, id int64) (*entity.Receipt, error) {
	query, args := r.selectReceipts().
		Where(entsql.EQ("id", id)).
		Query()
	recs, err := r.queryReceipts(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to get receipt", "receipt_id", id, "error", err)
		return nil, dbError("get receipt", err)
	}
	if len(recs) == 0 {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("receipt %d", id), common.ErrNotFound)
	}
	return recs[0], nil
}

// SearchReceipts matches term case-insensitively against the receipt number,
// store name and the amount rendered as text.
func (r *receiptRepository) SearchReceipts(ctx context.Context, term string, limit int) ([]*entity.Receipt, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, common.NewAppError("INVALID_INPUT", "search term is empty", common.ErrInvalidInput)
	}
	amountText := entsql.P(func(b *entsql.Builder) {
		b.WriteString("CAST(").Ident("ticket_amount").WriteString(" AS TEXT) LIKE ").Arg("%" + term + "%")
	})
	query, args := r.selectReceipts().
		Where(entsql.Or(
			entsql.ContainsFold("receipt_number", term),
			entsql.ContainsFold("store_name", term),
			amountText,
		)).
		OrderBy(entsql.Desc("id")).
		Limit(limit).
		Query()
	recs, err := r.queryReceipts(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to search receipts", "term", term, "error", err)
		return nil, dbError("search receipts", err)
	}
	return recs, nil
}

// ListByDateRange returns receipts whose processing date lies within
// [from, to]; an empty bound is open.
func (r *receiptRepository) ListByDateRange(ctx context.Context, from, to string) ([]*entity.Receipt, error) {
	sel := r.selectReceipts()
	if from != "" {
		sel = sel.Where(entsql.GTE("processing_date", from))
	}
	if to != "" {
		sel = sel.Where(entsql.LTE("processing_date", to))
	}
	query, args := sel.OrderBy("processing_date", "id").Query()
	recs, err := r.queryReceipts(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to list receipts by date", "from", from, "to", to, "error", err)
		return nil, dbError("list receipts by date", err)
	}
	return recs, nil
}

// UpsertReceipt inserts rec or, when (receipt_number, processing_date)
// already exists, overwrites that row. It returns the row id.
func (r *receiptRepository) UpsertReceipt(ctx context.Context, rec *entity.Receipt) (int64, error) {
	if rec == nil || rec.ReceiptNumber == "" || rec.ProcessingDate == "" {
		return 0, common.NewAppError("INVALID_INPUT", "receipt number and processing date are required", common.ErrInvalidInput)
	}

	var printTime, rawJSON any
	if rec.PrintTime != nil {
		printTime = rec.PrintTime.Format(constants.PrintTimeLayout)
	}
	if len(rec.RawJSON) > 0 {
		rawJSON = string(rec.RawJSON)
	}
	updatedAt := r.now().UTC().Format(constants.PrintTimeLayout)

	b := r.builder()
	query, args := b.Insert(receiptsTable).
		Columns(
			"receipt_number",
			"store_name",
			"store_id",
			"ticket_amount",
			"print_time",
			"original_print_time",
			"timezone_conversion",
			"processing_date",
			"source_file_path",
			"original_filename",
			"raw_json",
			"updated_at",
		).
		Values(
			rec.ReceiptNumber,
			nullable(rec.StoreName),
			nullable(rec.StoreID),
			nullableFloat(rec.TicketAmount),
			printTime,
			nullable(rec.OriginalPrintTime),
			nullable(rec.TimezoneConversion),
			rec.ProcessingDate,
			nullable(rec.SourceFilePath),
			nullable(rec.OriginalFilename),
			rawJSON,
			updatedAt,
		).
		OnConflict(
			entsql.ConflictColumns("receipt_number", "processing_date"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := r.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to upsert receipt", "receipt_number", rec.ReceiptNumber, "error", err)
		return 0, dbError("upsert receipt", err)
	}

	query, args = b.Select("id").
		From(b.Table(receiptsTable)).
		Where(entsql.And(
			entsql.EQ("receipt_number", rec.ReceiptNumber),
			entsql.EQ("processing_date", rec.ProcessingDate),
		)).
		Query()
	var id int64
	if err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, dbError("read upserted receipt id", err)
	}

	r.logger.Debug("receipt upserted",
		"receipt_id", id,
		"receipt_number", rec.ReceiptNumber,
		"processing_date", rec.ProcessingDate)
	return id, nil
}

// RefreshDailyStats recomputes the daily_stats row for processingDate from
// the receipts table.
func (r *receiptRepository) RefreshDailyStats(ctx context.Context, processingDate string) error {
	b := r.builder()
	query, args := b.Select(entsql.Count("*"), "COALESCE(SUM(ticket_amount), 0)").
		From(b.Table(receiptsTable)).
		Where(entsql.EQ("processing_date", processingDate)).
		Query()

	var (
		count int64
		total sql.NullFloat64
	)
	if err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&count, &total); err != nil {
		return dbError("aggregate daily stats", err)
	}

	query, args = b.Insert(dailyStatsTable).
		Columns("processing_date", "total_receipts", "total_amount", "updated_at").
		Values(processingDate, count, total.Float64, r.now().UTC().Format(constants.PrintTimeLayout)).
		OnConflict(
			entsql.ConflictColumns("processing_date"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := r.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to refresh daily stats", "processing_date", processingDate, "error", err)
		return dbError("refresh daily stats", err)
	}
	return nil
}

func (r *receiptRepository) GetDailyStats(ctx context.Context, processingDate string) (*entity.DailyStats, error) {
	b := r.builder()
	query, args := b.Select("processing_date", "total_receipts", "total_amount", "updated_at").
		From(b.Table(dailyStatsTable)).
		Where(entsql.EQ("processing_date", processingDate)).
		Query()

	var (
		date, updated sql.NullString
		count         int64
		total         sql.NullFloat64
	)
	err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&date, &count, &total, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", "no stats for "+processingDate, common.ErrNotFound)
	}
	if err != nil {
		return nil, dbError("get daily stats", err)
	}

	stats := &entity.DailyStats{
		ProcessingDate: processingDate,
		TotalReceipts:  int(count),
		TotalAmount:    total.Float64,
	}
	if t, ok := parseDBTime(updated); ok {
		stats.UpdatedAt = t
	}
	return stats, nil
}

// Summary aggregates amounts over every receipt that has one, plus the span
// of processing dates.
func (r *receiptRepository) Summary(ctx context.Context) (*entity.ReceiptSummary, error) {
	b := r.builder()
	query, args := b.Select(
		entsql.Count("*"),
		"COALESCE(SUM(ticket_amount), 0)",
		"COALESCE(AVG(ticket_amount), 0)",
		"COALESCE(MIN(ticket_amount), 0)",
		"COALESCE(MAX(ticket_amount), 0)",
		"COUNT(DISTINCT store_name)",
	).
		From(b.Table(receiptsTable)).
		Where(entsql.NotNull("ticket_amount")).
		Query()

	var out entity.ReceiptSummary
	var sum, avg, lo, hi sql.NullFloat64
	err := r.drv.DB().QueryRowContext(ctx, query, args...).
		Scan(&out.TotalReceipts, &sum, &avg, &lo, &hi, &out.UniqueStores)
	if err != nil {
		return nil, dbError("summarize receipts", err)
	}
	out.TotalAmount, out.AvgAmount = sum.Float64, avg.Float64
	out.MinAmount, out.MaxAmount = lo.Float64, hi.Float64

	query, args = b.Select("MIN(processing_date)", "MAX(processing_date)").
		From(b.Table(receiptsTable)).
		Query()
	var earliest, latest sql.NullString
	if err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&earliest, &latest); err != nil {
		return nil, dbError("receipt date range", err)
	}
	out.EarliestDate = dateString(earliest)
	out.LatestDate = dateString(latest)
	return &out, nil
}

// Stores lists every named store with its receipt count and amounts, busiest
// first.
func (r *receiptRepository) Stores(ctx context.Context) ([]entity.StoreStats, error) {
	b := r.builder()
	query, args := b.Select(
		"store_name",
		entsql.As(entsql.Count("*"), "receipt_count"),
		"COALESCE(SUM(ticket_amount), 0)",
		"COALESCE(AVG(ticket_amount), 0)",
	).
		From(b.Table(receiptsTable)).
		Where(entsql.NotNull("store_name")).
		GroupBy("store_name").
		OrderBy(entsql.Desc("receipt_count"), "store_name").
		Query()

	rows, err := r.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list stores", err)
	}
	defer rows.Close()

	var out []entity.StoreStats
	for rows.Next() {
		var s entity.StoreStats
		var sum, avg sql.NullFloat64
		if err := rows.Scan(&s.StoreName, &s.ReceiptCount, &sum, &avg); err != nil {
			return nil, dbError("scan store", err)
		}
		s.TotalAmount, s.AvgAmount = sum.Float64, avg.Float64
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list stores", err)
	}
	return out, nil
}

func (r *receiptRepository) Ping(ctx context.Context) error {
	return r.drv.DB().PingContext(ctx)
}

func (r *receiptRepository) queryReceipts(ctx context.Context, query string, args []any) ([]*entity.Receipt, error) {
	rows, err := r.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanReceipt(rows *sql.Rows) (*entity.Receipt, error) {
	var (
		rec                                       entity.Receipt
		storeName, storeID, originalPrint, tzConv sql.NullString
		printTime, procDate, sourcePath, origName sql.NullString
		rawJSON, createdAt, updatedAt             sql.NullString
		amount                                    sql.NullFloat64
	)
	err := rows.Scan(
		&rec.ID,
		&rec.ReceiptNumber,
		&storeName,
		&storeID,
		&amount,
		&printTime,
		&originalPrint,
		&tzConv,
		&procDate,
		&sourcePath,
		&origName,
		&rawJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan receipt: %w", err)
	}

	rec.StoreName = stringPtr(storeName)
	rec.StoreID = stringPtr(storeID)
	rec.OriginalPrintTime = stringPtr(originalPrint)
	rec.TimezoneConversion = stringPtr(tzConv)
	rec.SourceFilePath = stringPtr(sourcePath)
	rec.OriginalFilename = stringPtr(origName)
	if amount.Valid {
		v := amount.Float64
		rec.TicketAmount = &v
	}
	if t, ok := parseDBTime(printTime); ok {
		rec.PrintTime = &t
	}
	if t, ok := parseDBTime(procDate); ok {
		rec.ProcessingDate = t.Format(dateLayout)
	} else {
		rec.ProcessingDate = procDate.String
	}
	if rawJSON.Valid && rawJSON.String != "" {
		rec.RawJSON = []byte(rawJSON.String)
	}
	if t, ok := parseDBTime(createdAt); ok {
		rec.CreatedAt = t
	}
	if t, ok := parseDBTime(updatedAt); ok {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func parseDBTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false
	}
	for _, layout := range dbTimeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dateString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	if t, ok := parseDBTime(s); ok {
		v := t.Format(dateLayout)
		return &v
	}
	return stringPtr(s)
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func dbError(op string, err error) error {
	return common.NewAppError("DATABASE_ERROR", op, errors.Join(common.ErrDatabase, err))
}
