package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// moveFile renames src to dst, falling back to copy and remove when the
// rename crosses filesystems. The copy is byte identical.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// writeAtomic writes through a hidden temp file in dst's directory and
// renames it into place, so scanners never observe a partial file.
func writeAtomic(dst string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		cleanup()
		return err
	}
	return nil
}

func writeFileAtomic(dst string, data []byte) error {
	return writeAtomic(dst, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// uniquePath keeps name in dir unless taken, then appends
// <infix><HHMMSS><millis>, and a counter if that is taken too.
func uniquePath(dir, name, infix string, now time.Time) string {
	out := filepath.Join(dir, name)
	if !exists(out) {
		return out
	}
	ext := filepath.Ext(name)
	ts := strings.Replace(now.Format("150405.000"), ".", "", 1)
	base := stem(name) + infix + ts
	out = filepath.Join(dir, base+ext)
	for i := 1; exists(out); i++ {
		out = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
	return out
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
