// Package partition discovers work in date-partitioned stage directories.
package partition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// Partition is one YYYY-MM-DD subdirectory of a stage directory.
type Partition struct {
	Name string
	Date time.Time
	Path string
}

// Resolver names partitions from a clock. Nothing is cached, so a
// long-running worker rolls over to the new partition at midnight.
type Resolver struct {
	now Clock
}

func NewResolver(now Clock) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Now returns the resolver clock's current time.
func (r *Resolver) Now() time.Time { return r.now() }

// Current returns today's partition name in local time.
func (r *Resolver) Current() string {
	return r.now().Format(constants.PartitionLayout)
}

// ParsePartition reports whether name is a canonical YYYY-MM-DD date.
// Names like 2025-7-1 or 2025-02-30 are rejected.
func ParsePartition(name string) (time.Time, bool) {
	d, err := time.Parse(constants.PartitionLayout, name)
	if err != nil || d.Format(constants.PartitionLayout) != name {
		return time.Time{}, false
	}
	return d, true
}

// ListPartitions returns the date-named subdirectories of baseDir in
// ascending date order. A missing baseDir yields an empty list.
func ListPartitions(baseDir string) ([]Partition, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions in %s: %w", baseDir, err)
	}

	var out []Partition
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, ok := ParsePartition(e.Name())
		if !ok {
			continue
		}
		out = append(out, Partition{Name: e.Name(), Date: d, Path: filepath.Join(baseDir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// EnsurePartition creates baseDir/name if needed and returns its path.
func EnsurePartition(baseDir, name string) (string, error) {
	if _, ok := ParsePartition(name); !ok {
		return "", fmt.Errorf("invalid partition name %q", name)
	}
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create partition %s: %w", dir, err)
	}
	return dir, nil
}
