package partition

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// StageFile is a discovered input file.
type StageFile struct {
	Path      string
	Name      string
	Partition string
	ModTime   time.Time
	Size      int64
	Key       string
}

// Filter selects files by base name.
type Filter func(name string) bool

// AnyFile accepts every regular file.
func AnyFile(string) bool { return true }

// ExtensionFilter accepts names whose extension is in exts (lowercase, without '.').
func ExtensionFilter(exts map[string]struct{}) Filter {
	return func(name string) bool {
		_, ok := exts[constants.NormalizeExt(filepath.Ext(name))]
		return ok
	}
}

// Scanner walks a stage directory's partitions, today first.
type Scanner struct {
	resolver *Resolver
	logger   *slog.Logger
}

func NewScanner(resolver *Resolver, logger *slog.Logger) *Scanner {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{resolver: resolver, logger: logger}
}

// Scan returns files not yet in seen and marks each returned key as seen.
// Keys are marked before processing, so a file that later fails is not
// picked up again by this process.
func (s *Scanner) Scan(baseDir string, seen SeenSet, filter Filter) ([]StageFile, error) {
	var out []StageFile
	err := s.walk(baseDir, filter, func(f StageFile) {
		if seen.AddIfAbsent(f.Key) {
			out = append(out, f)
		}
	})
	return out, err
}

// ScanAll lists every matching file regardless of any seen set.
func (s *Scanner) ScanAll(baseDir string, filter Filter) ([]StageFile, error) {
	var out []StageFile
	err := s.walk(baseDir, filter, func(f StageFile) { out = append(out, f) })
	return out, err
}

func (s *Scanner) walk(baseDir string, filter Filter, visit func(StageFile)) error {
	if filter == nil {
		filter = AnyFile
	}
	if _, err := os.Stat(baseDir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("input directory missing", "input_dir", baseDir)
		return nil
	}
	parts, err := ListPartitions(baseDir)
	if err != nil {
		return err
	}

	today := s.resolver.Current()
	ordered := make([]Partition, 0, len(parts))
	for _, p := range parts {
		if p.Name == today {
			ordered = append(ordered, p)
		}
	}
	for _, p := range parts {
		if p.Name != today {
			ordered = append(ordered, p)
		}
	}

	for _, p := range ordered {
		entries, err := os.ReadDir(p.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read partition %s: %w", p.Path, err)
		}
		for _, e := range entries {
			// dot files are in-progress temp writes
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !filter(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				// removed between listing and stat
				s.logger.Debug("skip vanished file", "path", filepath.Join(p.Path, e.Name()), "error", err)
				continue
			}
			visit(StageFile{
				Path:      filepath.Join(p.Path, e.Name()),
				Name:      e.Name(),
				Partition: p.Name,
				ModTime:   info.ModTime(),
				Size:      info.Size(),
				Key:       Key(p.Name, e.Name(), info.ModTime()),
			})
		}
	}
	return nil
}
