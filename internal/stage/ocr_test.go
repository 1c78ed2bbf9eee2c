package stage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ocr"
)

type fakeExtractor struct {
	res   ocr.ExtractionResult
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string) (ocr.ExtractionResult, error) {
	f.calls++
	return f.res, f.err
}

func readRecord(t *testing.T, path string) OCRRecord {
	t.Helper()
	var rec OCRRecord
	if err := json.Unmarshal([]byte(readFile(t, path)), &rec); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec
}

func TestOCRStageWritesRecord(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirDownloaded, "2025-07-21", "r1.jpg", "img")
	ex := &fakeExtractor{res: ocr.ExtractionResult{Text: "TOTAL 12.00", Confidence: 88.5, Language: "chi_sim+eng", Success: true}}
	st := NewOCRStage(root, ex, fixedClock("2025-07-22 09:00:00"), nil)

	res := st.ProcessOne(context.Background(), f)
	if !res.OK() || res.Destination != constants.DestOCROK {
		t.Fatalf("result = %+v", res)
	}
	out := filepath.Join(root, constants.DirOCRText, "2025-07-21", "r1.json")
	rec := readRecord(t, out)
	if !rec.Success || rec.Data != "TOTAL 12.00" || rec.Message != nil {
		t.Fatalf("record = %+v", rec)
	}
	md := rec.Metadata
	if md.Language != "chi_sim+eng" || md.Confidence != 88.5 || md.SourceFile != "r1.jpg" {
		t.Fatalf("metadata = %+v", md)
	}
	if md.SourceDateFolder != "2025-07-21" || md.OutputDateFolder != "2025-07-21" {
		t.Fatalf("date folders = %+v", md)
	}
	if md.ProcessedAt != "2025-07-22T09:00:00.000000" {
		t.Fatalf("processed_at = %q", md.ProcessedAt)
	}
	mustNotExist(t, f.Path)
}

func TestOCRStageRecordsFailure(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirDownloaded, "2025-07-22", "bad.png", "img")
	ex := &fakeExtractor{
		res: ocr.ExtractionResult{Language: constants.LangPreprocessingError},
		err: ocr.ErrPreprocess,
	}
	st := NewOCRStage(root, ex, nil, nil)

	res := st.ProcessOne(context.Background(), f)
	if res.OK() || res.Destination != constants.DestOCRError || !errors.Is(res.Err, ocr.ErrPreprocess) {
		t.Fatalf("result = %+v", res)
	}
	rec := readRecord(t, res.OutputPath)
	if rec.Success || rec.Data != "" || rec.Message == nil || *rec.Message != "OCR failed: preprocessing_error" {
		t.Fatalf("record = %+v", rec)
	}
	if !constants.IsOCRFailureLanguage(rec.Metadata.Language) {
		t.Fatalf("language = %q", rec.Metadata.Language)
	}
	// the image is consumed even when recognition fails
	mustNotExist(t, f.Path)
}

func TestOCRStageUnknownErrorIsPipelineError(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirDownloaded, "2025-07-22", "x.png", "img")
	st := NewOCRStage(root, &fakeExtractor{err: errors.New("disk full")}, nil, nil)

	res := st.ProcessOne(context.Background(), f)
	rec := readRecord(t, res.OutputPath)
	if rec.Metadata.Language != constants.LangPipelineError || *rec.Message != "OCR failed: pipeline_error" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestOCRStageSkipsExistingOutput(t *testing.T) {
	root := t.TempDir()
	f := stageFile(t, root, constants.DirDownloaded, "2025-07-22", "r1.webp", "img")
	stageFile(t, root, constants.DirOCRText, "2025-07-22", "r1.json", `{"data":"old"}`)
	ex := &fakeExtractor{}
	st := NewOCRStage(root, ex, nil, nil)

	res := st.ProcessOne(context.Background(), f)
	if !res.OK() || res.Destination != constants.DestAlreadyExists || ex.calls != 0 {
		t.Fatalf("result = %+v, calls = %d", res, ex.calls)
	}
	if readFile(t, res.OutputPath) != `{"data":"old"}` {
		t.Fatal("existing record must not be overwritten")
	}
}

func TestOCRStageFilter(t *testing.T) {
	filter := NewOCRStage(t.TempDir(), &fakeExtractor{}, nil, nil).Filter()
	for name, want := range map[string]bool{"a.JPG": true, "a.tif": true, "a.gif": true, "a.pdf": false, "a.json": false} {
		if filter(name) != want {
			t.Errorf("filter(%q) = %v", name, !want)
		}
	}
}
