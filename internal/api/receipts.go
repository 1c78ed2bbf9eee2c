package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

const (
	defaultListLimit   = 10
	defaultSearchLimit = 20
	maxLimit           = 500
)

// ReceiptReader is the read side of the receipts repository.
type ReceiptReader interface {
	ListReceipts(ctx context.Context, params repository.ListParams) ([]*entity.Receipt, int64, error)
	GetReceipt(ctx context.Context, id int64) (*entity.Receipt, error)
	SearchReceipts(ctx context.Context, term string, limit int) ([]*entity.Receipt, error)
	GetDailyStats(ctx context.Context, processingDate string) (*entity.DailyStats, error)
	Summary(ctx context.Context) (*entity.ReceiptSummary, error)
	Stores(ctx context.Context) ([]entity.StoreStats, error)
}

// Exporter renders receipts within a processing-date window as XLSX.
type Exporter interface {
	ExportReceiptsXLSX(ctx context.Context, from, to string) ([]byte, error)
}

type ReceiptHandler struct {
	receipts ReceiptReader
	exporter Exporter
	now      func() time.Time
	logger   *slog.Logger
}

func NewReceiptHandler(receipts ReceiptReader, exporter Exporter, logger *slog.Logger) *ReceiptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptHandler{receipts: receipts, exporter: exporter, now: time.Now, logger: logger}
}

type listResponse struct {
	Receipts      []*entity.Receipt `json:"receipts"`
	TotalCount    int64             `json:"total_count"`
	ReturnedCount int               `json:"returned_count"`
	Limit         int               `json:"limit"`
	Offset        int               `json:"offset"`
	HasMore       bool              `json:"has_more"`
}

type searchResponse struct {
	SearchTerm string            `json:"search_term"`
	Results    []*entity.Receipt `json:"results"`
	TotalFound int               `json:"total_found"`
	MaxResults int               `json:"max_results"`
}

type summaryResponse struct {
	Statistics  *entity.ReceiptSummary `json:"statistics"`
	GeneratedAt time.Time              `json:"generated_at"`
}

type storesResponse struct {
	Stores      []entity.StoreStats `json:"stores"`
	TotalStores int                 `json:"total_stores"`
}

func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v := common.NewValidator().
		Field("limit", limit, common.IntRange(1, maxLimit)).
		Field("offset", offset, common.NonNegative)
	if err := v.Error(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	params := repository.ListParams{
		Limit:     limit,
		Offset:    offset,
		StoreName: r.URL.Query().Get("store_name"),
	}
	recs, total, err := h.receipts.ListReceipts(r.Context(), params)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []*entity.Receipt{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Receipts:      recs,
		TotalCount:    total,
		ReturnedCount: len(recs),
		Limit:         limit,
		Offset:        offset,
		HasMore:       int64(offset+len(recs)) < total,
	})
}

func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, h.logger, common.NewAppError("INVALID_ID", fmt.Sprintf("receipt id %q is not an integer", raw), common.ErrInvalidInput))
		return
	}
	rec, err := h.receipts.GetReceipt(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ReceiptHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	limit, err := queryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v := common.NewValidator().
		Field("term", term, common.Required).
		Field("limit", limit, common.IntRange(1, maxLimit))
	if err := v.Error(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	recs, err := h.receipts.SearchReceipts(r.Context(), term, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []*entity.Receipt{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		SearchTerm: term,
		Results:    recs,
		TotalFound: len(recs),
		MaxResults: limit,
	})
}

func (h *ReceiptHandler) Summary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.receipts.Summary(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Statistics: stats, GeneratedAt: h.now().UTC()})
}

func (h *ReceiptHandler) Stores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.receipts.Stores(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if stores == nil {
		stores = []entity.StoreStats{}
	}
	writeJSON(w, http.StatusOK, storesResponse{Stores: stores, TotalStores: len(stores)})
}

func (h *ReceiptHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, r, h.logger, common.NewAppError("INVALID_DATE", "date must be YYYY-MM-DD", common.ErrInvalidInput))
		return
	}
	stats, err := h.receipts.GetDailyStats(r.Context(), date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *ReceiptHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buf, err := h.exporter.ExportReceiptsXLSX(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	name := fmt.Sprintf("receipts_%s.xlsx", h.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.NewAppError("INVALID_INPUT", fmt.Sprintf("%s must be an integer", key), common.ErrInvalidInput)
	}
	return n, nil
}
