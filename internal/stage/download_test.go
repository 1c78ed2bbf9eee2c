package stage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

type fakeFetcher struct {
	headType string
	headErr  error
	getType  string
	body     string
	getErr   error
	gets     int
}

func (f *fakeFetcher) ContentType(context.Context, string) (string, error) {
	return f.headType, f.headErr
}

func (f *fakeFetcher) Fetch(context.Context, string) (io.ReadCloser, string, error) {
	f.gets++
	if f.getErr != nil {
		return nil, "", f.getErr
	}
	return io.NopCloser(strings.NewReader(f.body)), f.getType, nil
}

const receiptURL = "https://hddc01.superbrandmall.com:443/img/9f.png"

func TestDownloaderSavesImage(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirReceiptOCRing, "2025-07-22", "r1.json", `{"data": "`+receiptURL+`"}`)
	fetch := &fakeFetcher{headType: "image/png", getType: "image/png", body: "PNGDATA"}
	d := NewDownloader(root, NewURLMatcher(testHost), fetch, nil)

	res := d.ProcessOne(context.Background(), f)
	if !res.OK() || res.Destination != constants.DestDownloaded {
		t.Fatalf("result = %+v", res)
	}
	out := filepath.Join(root, constants.DirDownloaded, "2025-07-22", "r1.png")
	if res.OutputPath != out || readFile(t, out) != "PNGDATA" {
		t.Fatalf("unexpected output %s", res.OutputPath)
	}
	// input stays for the record
	mustExist(t, f.Path)
}

func TestDownloaderAlreadyExists(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirReceiptOCRing, "2025-07-22", "r1.json", `{"data": "`+receiptURL+`"}`)
	stageFile(t, root, constants.DirDownloaded, "2025-07-22", "r1.jpg", "old")
	fetch := &fakeFetcher{headErr: errors.New("timeout")}
	d := NewDownloader(root, NewURLMatcher(testHost), fetch, nil)

	res := d.ProcessOne(context.Background(), f)
	if !res.OK() || res.Destination != constants.DestAlreadyExists {
		t.Fatalf("result = %+v", res)
	}
	if fetch.gets != 0 {
		t.Fatal("existing download must not be fetched again")
	}
}

func TestDownloaderUsesGetContentType(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirReceiptOCRing, "2025-07-22", "r2.json", `{"data": "`+receiptURL+`"}`)
	fetch := &fakeFetcher{headErr: errors.New("405"), getType: "application/pdf", body: "%PDF"}
	d := NewDownloader(root, NewURLMatcher(testHost), fetch, nil)

	res := d.ProcessOne(context.Background(), f)
	if !res.OK() {
		t.Fatalf("ProcessOne: %v", res.Err)
	}
	if filepath.Base(res.OutputPath) != "r2.pdf" {
		t.Fatalf("output = %s", res.OutputPath)
	}
}

func TestDownloaderNoURL(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirReceiptOCRing, "2025-07-22", "r3.json", `{"data": "no link"}`)
	d := NewDownloader(root, NewURLMatcher(testHost), &fakeFetcher{}, nil)

	res := d.ProcessOne(context.Background(), f)
	if res.OK() || res.Destination != constants.DestNoURL || !errors.Is(res.Err, ErrNoURL) {
		t.Fatalf("result = %+v", res)
	}
	mustExist(t, f.Path)
}

func TestDownloaderFetchFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirReceiptOCRing, "2025-07-22", "r4.json", `{"data": "`+receiptURL+`"}`)
	d := NewDownloader(root, NewURLMatcher(testHost), &fakeFetcher{headType: "image/jpeg", getErr: errors.New("503")}, nil)

	if res := d.ProcessOne(context.Background(), f); res.OK() {
		t.Fatal("expected failure")
	}
	mustNotExist(t, filepath.Join(root, constants.DirDownloaded, "2025-07-22", "r4.jpg"))
	mustExist(t, f.Path)
}

func TestDownloadURLPriority(t *testing.T) {
	m := NewURLMatcher(testHost)
	u, ok := m.DownloadURL([]byte(`{"data": "http://cdn.example.com/x.gif", "alt": "` + receiptURL + `"}`))
	if !ok || u != "http://cdn.example.com/x.gif" {
		t.Fatalf("data field should win, got %q", u)
	}
	u, ok = m.DownloadURL([]byte(`broken ` + receiptURL + ` json`))
	if !ok || u != receiptURL {
		t.Fatalf("host pattern fallback, got %q", u)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct {
		ct, url, want string
	}{
		{"image/jpeg", receiptURL, ".jpg"},
		{"image/png; charset=binary", "", ".png"},
		{"image/tiff", "", ".tiff"},
		{"application/pdf", "", ".pdf"},
		{"application/octet-stream", "https://h/a/b.WEBP?x=1", ".webp"},
		{"application/octet-stream", "https://h/a/b.exe", ".jpg"},
		{"", "https://h/a/b", ".jpg"},
	}
	for _, tc := range cases {
		if got := ExtensionFor(tc.ct, tc.url); got != tc.want {
			t.Errorf("ExtensionFor(%q, %q) = %q, want %q", tc.ct, tc.url, got, tc.want)
		}
	}
}
