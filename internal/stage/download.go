package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// Fetcher retrieves receipt images over the network.
type Fetcher interface {
	// ContentType probes the URL without downloading the body.
	ContentType(ctx context.Context, rawURL string) (string, error)
	// Fetch streams the body; the caller closes it.
	Fetch(ctx context.Context, rawURL string) (body io.ReadCloser, contentType string, err error)
}

// Downloader saves the image referenced by each receipt_ocring file into
// downloaded_receipts. The input file stays where it is.
type Downloader struct {
	root    string
	matcher *URLMatcher
	fetcher Fetcher
	logger  *slog.Logger
}

func NewDownloader(root string, matcher *URLMatcher, fetcher Fetcher, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{root: root, matcher: matcher, fetcher: fetcher, logger: logger}
}

func (d *Downloader) Name() string             { return constants.StageDownload }
func (d *Downloader) InputDir() string         { return filepath.Join(d.root, constants.DirReceiptOCRing) }
func (d *Downloader) Filter() partition.Filter { return partition.AnyFile }

func (d *Downloader) ProcessOne(ctx context.Context, f partition.StageFile) Result {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("read %s: %w", f.Path, err))
	}
	rawURL, ok := d.matcher.DownloadURL(content)
	if !ok {
		return fail(constants.DestNoURL, fmt.Errorf("%s: %w", f.Name, ErrNoURL))
	}

	contentType, err := d.fetcher.ContentType(ctx, rawURL)
	if err != nil {
		d.logger.Warn("content type probe failed, assuming jpeg", "url", rawURL, "error", err)
		contentType = constants.DefaultContentType
	}

	outDir, err := partition.EnsurePartition(filepath.Join(d.root, constants.DirDownloaded), f.Partition)
	if err != nil {
		return fail(constants.DestNone, err)
	}
	out := filepath.Join(outDir, stem(f.Name)+ExtensionFor(contentType, rawURL))
	if exists(out) {
		d.logger.Info("download already exists", "file", f.Name, "output", out)
		return Result{Destination: constants.DestAlreadyExists, OutputPath: out}
	}

	body, getType, err := d.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return fail(constants.DestNone, fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer body.Close()

	if getType != "" && getType != contentType {
		if alt := filepath.Join(outDir, stem(f.Name)+ExtensionFor(getType, rawURL)); alt != out {
			out = alt
			if exists(out) {
				d.logger.Info("download already exists", "file", f.Name, "output", out)
				return Result{Destination: constants.DestAlreadyExists, OutputPath: out}
			}
		}
	}

	if err := writeAtomic(out, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	}); err != nil {
		return fail(constants.DestNone, fmt.Errorf("save %s: %w", out, err))
	}

	d.logger.Info("receipt downloaded", "file", f.Name, "output", out, "content_type", contentType)
	return Result{Destination: constants.DestDownloaded, OutputPath: out}
}

// ExtensionFor picks the saved file extension: the content type mapping
// first, then a recognised extension on the URL path, then .jpg.
func ExtensionFor(contentType, rawURL string) string {
	if ext, ok := constants.ExtForContentType(contentType); ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		ext := path.Ext(u.Path)
		if _, ok := constants.DownloadExtensions[constants.NormalizeExt(ext)]; ok && ext != "" {
			return "." + constants.NormalizeExt(ext)
		}
	}
	return constants.DefaultDownloadExt
}
