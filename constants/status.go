package constants

// Stage directory names under the pipeline root.
const (
	DirReceiptFiles       = "receipt_files"
	DirReceiptOCRing      = "receipt_ocring"
	DirReceiptChecked     = "receipt_checked"
	DirDownloaded         = "downloaded_receipts"
	DirOCRText            = "receipt_ocr_text"
	DirMatchedNonDelivery = "matched_non_delivery"
	DirConvertedTZ        = "converted_tz"
	DirInsertedToDatabase = "inserted_to_database"
)

// Stage names used in logs and CLI subcommands.
const (
	StageClassify = "classify"
	StageDownload = "download"
	StageOCR      = "ocr"
	StageTimezone = "timezone"
	StageIngest   = "ingest"
)

// Destination labels the outcome of processing a single stage file.
type Destination string

const (
	DestNone          Destination = ""
	DestWithURL       Destination = "with_url"
	DestWithoutURL    Destination = "without_url"
	DestDownloaded    Destination = "downloaded"
	DestAlreadyExists Destination = "already_exists"
	DestNoURL         Destination = "no_url"
	DestOCROK         Destination = "ocr_ok"
	DestOCRError      Destination = "ocr_error"
	DestConverted     Destination = "converted"
	DestIngested      Destination = "ingested"
)

// OCR language values. The last three mark failed records.
const (
	LangPrimary            = "chi_sim+eng"
	LangFallback           = "eng"
	LangError              = "error"
	LangPreprocessingError = "preprocessing_error"
	LangPipelineError      = "pipeline_error"
)

// IsOCRFailureLanguage reports whether lang is one of the failure sentinels.
func IsOCRFailureLanguage(lang string) bool {
	switch lang {
	case LangError, LangPreprocessingError, LangPipelineError:
		return true
	}
	return false
}
