package entity

import (
	"encoding/json"
	"time"
)

// Receipt represents a receipt for data transfer between layers.
type Receipt struct {
	ID                 int64           `json:"id"`
	ReceiptNumber      string          `json:"receipt_number"`
	StoreName          *string         `json:"store_name,omitempty"`
	StoreID            *string         `json:"store_id,omitempty"`
	TicketAmount       *float64        `json:"ticket_amount,omitempty"`
	PrintTime          *time.Time      `json:"print_time,omitempty"`
	OriginalPrintTime  *string         `json:"original_print_time,omitempty"`
	TimezoneConversion *string         `json:"timezone_conversion,omitempty"`
	ProcessingDate     string          `json:"processing_date"`
	SourceFilePath     *string         `json:"source_file_path,omitempty"`
	OriginalFilename   *string         `json:"original_filename,omitempty"`
	RawJSON            json.RawMessage `json:"raw_json,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DailyStats aggregates the receipts ingested for one processing date.
type DailyStats struct {
	ProcessingDate string    `json:"processing_date"`
	TotalReceipts  int       `json:"total_receipts"`
	TotalAmount    float64   `json:"total_amount"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReceiptSummary aggregates every receipt that carries an amount.
type ReceiptSummary struct {
	TotalReceipts int64   `json:"total_receipts"`
	TotalAmount   float64 `json:"total_amount"`
	AvgAmount     float64 `json:"avg_amount"`
	MinAmount     float64 `json:"min_amount"`
	MaxAmount     float64 `json:"max_amount"`
	UniqueStores  int64   `json:"unique_stores"`
	EarliestDate  *string `json:"earliest_date"`
	LatestDate    *string `json:"latest_date"`
}

// StoreStats groups receipts by store name.
type StoreStats struct {
	StoreName    string  `json:"store_name"`
	ReceiptCount int64   `json:"receipt_count"`
	TotalAmount  float64 `json:"total_amount"`
	AvgAmount    float64 `json:"avg_amount"`
}
