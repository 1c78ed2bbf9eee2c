package stage

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// BatchStats is an immutable snapshot of one batch run.
type BatchStats struct {
	Processed    int
	Succeeded    int
	Failed       int
	Remaining    int
	Elapsed      time.Duration
	StoppedEarly bool
	destinations map[constants.Destination]int
}

// Count returns how many files ended in dest.
func (b BatchStats) Count(dest constants.Destination) int {
	return b.destinations[dest]
}

// Destinations returns a copy of the per-destination counts.
func (b BatchStats) Destinations() map[constants.Destination]int {
	return maps.Clone(b.destinations)
}

// LogAttrs flattens the stats for slog.
func (b BatchStats) LogAttrs() []any {
	attrs := []any{
		"processed", b.Processed,
		"succeeded", b.Succeeded,
		"failed", b.Failed,
		"remaining", b.Remaining,
		"elapsed_ms", b.Elapsed.Milliseconds(),
		"stopped_early", b.StoppedEarly,
	}
	for d, n := range b.destinations {
		attrs = append(attrs, string(d), n)
	}
	return attrs
}

// ProcessBatch runs p over files in order. Before each file it checks the
// elapsed time against budget (0 disables the check) and the context; when
// either trips, the rest are left on disk and counted as Remaining.
func ProcessBatch(ctx context.Context, p Processor, files []partition.StageFile, budget time.Duration, clock partition.Clock, logger *slog.Logger) BatchStats {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	start := clock()
	stats := BatchStats{destinations: make(map[constants.Destination]int)}

	for i, f := range files {
		if ctx.Err() != nil || (budget > 0 && clock().Sub(start) > budget) {
			stats.StoppedEarly = true
			stats.Remaining = len(files) - i
			logger.Warn("batch stopped early",
				"stage", p.Name(),
				"remaining", stats.Remaining,
				"budget", budget,
				"cancelled", ctx.Err() != nil,
			)
			break
		}

		res := p.ProcessOne(ctx, f)
		stats.Processed++
		if res.Destination != constants.DestNone {
			stats.destinations[res.Destination]++
		}
		if res.OK() {
			stats.Succeeded++
		} else {
			stats.Failed++
			logger.Error("stage file failed",
				"stage", p.Name(),
				"path", f.Path,
				"destination", res.Destination,
				"error", res.Err,
			)
		}
	}
	stats.Elapsed = clock().Sub(start)
	return stats
}

// SessionStats is a snapshot of everything a worker did since it started.
type SessionStats struct {
	Started      time.Time
	Batches      int
	Processed    int
	Succeeded    int
	Failed       int
	Destinations map[constants.Destination]int
}

// Session accumulates batch snapshots. Safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	started time.Time
	batches int
	totals  BatchStats
}

func NewSession(started time.Time) *Session {
	return &Session{started: started, totals: BatchStats{destinations: make(map[constants.Destination]int)}}
}

func (s *Session) Record(b BatchStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.totals.Processed += b.Processed
	s.totals.Succeeded += b.Succeeded
	s.totals.Failed += b.Failed
	for d, n := range b.destinations {
		s.totals.destinations[d] += n
	}
}

// RecordResult folds a single file outcome into the session.
func (s *Session) RecordResult(r Result) {
	b := BatchStats{Processed: 1, destinations: map[constants.Destination]int{}}
	if r.Destination != constants.DestNone {
		b.destinations[r.Destination] = 1
	}
	if r.OK() {
		b.Succeeded = 1
	} else {
		b.Failed = 1
	}
	s.Record(b)
}

func (s *Session) Snapshot() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Started:      s.started,
		Batches:      s.batches,
		Processed:    s.totals.Processed,
		Succeeded:    s.totals.Succeeded,
		Failed:       s.totals.Failed,
		Destinations: maps.Clone(s.totals.destinations),
	}
}

// LogAttrs flattens the session totals for slog.
func (s SessionStats) LogAttrs() []any {
	attrs := []any{
		"batches", s.Batches,
		"processed", s.Processed,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"uptime", time.Since(s.Started).Round(time.Second).String(),
	}
	for d, n := range s.Destinations {
		attrs = append(attrs, string(d), n)
	}
	return attrs
}
