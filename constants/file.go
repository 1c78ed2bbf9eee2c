package constants

import (
	"path/filepath"
	"strings"
)

// OCRExtensions are the image formats the OCR stage accepts (lowercase, without '.').
var OCRExtensions = map[string]struct{}{
	"bmp":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tiff": {},
	"tif":  {},
	"webp": {},
	"gif":  {},
}

// DownloadExtensions are the URL path extensions trusted when the content type is unknown.
var DownloadExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"tiff": {},
	"webp": {},
	"pdf":  {},
}

// ContentTypeExtensions maps a response content type to the saved file extension.
var ContentTypeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tiff",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

const (
	DefaultContentType  = "image/jpeg"
	DefaultDownloadExt  = ".jpg"
	JSONExt             = "json"
	PartitionLayout     = "2006-01-02"
	PrintTimeLayout     = "2006-01-02 15:04:05"
	ProcessedAtLayout   = "2006-01-02T15:04:05.000000"
	TimezoneConversion  = "UTC+8 -> UTC+0"
	DefaultSourceOffset = 8
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsOCRImage reports whether path has one of OCRExtensions.
func IsOCRImage(path string) bool {
	_, ok := OCRExtensions[NormalizeExt(filepath.Ext(path))]
	return ok
}

// ExtForContentType resolves the extension for a content type, ignoring parameters such as charset.
func ExtForContentType(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext, ok := ContentTypeExtensions[ct]
	return ext, ok
}
