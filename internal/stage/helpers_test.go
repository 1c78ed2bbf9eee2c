package stage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

const testHost = "hddc01.superbrandmall.com:443"

func fixedClock(ts string) partition.Clock {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", ts, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

// stageFile writes content under root/dir/part/name and describes it.
func stageFile(t *testing.T, root, dir, part, name, content string) partition.StageFile {
	t.Helper()
	p := filepath.Join(root, dir, part, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	return partition.StageFile{
		Path:      p,
		Name:      name,
		Partition: part,
		ModTime:   fi.ModTime(),
		Size:      fi.Size(),
		Key:       partition.Key(part, name, fi.ModTime()),
	}
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone, stat err = %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
