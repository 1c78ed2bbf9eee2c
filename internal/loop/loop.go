// Package loop drives a stage processor on a fixed polling interval.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
	"github.com/joseph-ayodele/receipts-pipeline/internal/stage"
)

// State is the polling loop's current phase.
type State int32

const (
	Idle State = iota
	Scanning
	Processing
	Reporting
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Processing:
		return "processing"
	case Reporting:
		return "reporting"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	Interval    time.Duration
	BatchSize   int           // 0 processes everything found in one batch
	BatchBudget time.Duration // per batch; 0 disables
	BatchPause  time.Duration // between sub-batches of one cycle
}

// Loop repeatedly scans a processor's input directory and processes new files.
type Loop struct {
	proc    stage.Processor
	scanner *partition.Scanner
	seen    partition.SeenSet
	cfg     Config
	clock   partition.Clock
	session *stage.Session
	logger  *slog.Logger
	state   atomic.Int32
}

func New(proc stage.Processor, scanner *partition.Scanner, seen partition.SeenSet, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if seen == nil {
		seen = partition.NewMemorySeenSet()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Loop{
		proc:    proc,
		scanner: scanner,
		seen:    seen,
		cfg:     cfg,
		clock:   time.Now,
		session: stage.NewSession(time.Now()),
		logger:  logger.With("stage", proc.Name()),
	}
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Stats returns the cumulative session totals.
func (l *Loop) Stats() stage.SessionStats { return l.session.Snapshot() }

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run cycles until ctx is cancelled, returning nil in that case. A scan
// error ends the loop and is returned.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("monitoring started", "input_dir", l.proc.InputDir(), "interval", l.cfg.Interval.String())
	defer func() {
		l.setState(Stopped)
		l.logger.Info("monitoring stopped", l.session.Snapshot().LogAttrs()...)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}

		l.setState(Sleeping)
		if !sleep(ctx, l.cfg.Interval) {
			return nil
		}
	}
}

// Cycle performs one scan, process and report pass.
func (l *Loop) Cycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	ctx = common.WithCycleID(ctx, cycleID)
	log := l.logger.With("cycle_id", cycleID)

	l.setState(Scanning)
	files, err := l.scanner.Scan(l.proc.InputDir(), l.seen, l.proc.Filter())
	if err != nil {
		l.setState(Idle)
		return fmt.Errorf("scan %s: %w", l.proc.InputDir(), err)
	}
	if len(files) == 0 {
		log.Debug("no new files")
		l.setState(Idle)
		return nil
	}
	log.Info("new files found", "count", len(files))

	l.process(ctx, log, files)

	l.setState(Reporting)
	log.Info("session stats", l.session.Snapshot().LogAttrs()...)
	l.setState(Idle)
	return nil
}

// RunOnce processes every file currently present, whether or not it was
// seen before, and marks them seen so a following Run skips them.
func (l *Loop) RunOnce(ctx context.Context) (stage.SessionStats, error) {
	files, err := l.scanner.ScanAll(l.proc.InputDir(), l.proc.Filter())
	if err != nil {
		return stage.SessionStats{}, fmt.Errorf("scan %s: %w", l.proc.InputDir(), err)
	}
	for _, f := range files {
		l.seen.Add(f.Key)
	}
	l.logger.Info("processing existing files", "count", len(files))
	if len(files) > 0 {
		l.process(ctx, l.logger, files)
	}
	l.setState(Idle)
	return l.session.Snapshot(), nil
}

func (l *Loop) process(ctx context.Context, log *slog.Logger, files []partition.StageFile) {
	l.setState(Processing)
	size := l.cfg.BatchSize
	if size <= 0 {
		size = len(files)
	}
	for start := 0; start < len(files); start += size {
		if start > 0 && !sleep(ctx, l.cfg.BatchPause) {
			return
		}
		end := min(start+size, len(files))
		stats := stage.ProcessBatch(ctx, l.proc, files[start:end], l.cfg.BatchBudget, l.clock, log)
		l.session.Record(stats)
		log.Info("batch complete", stats.LogAttrs()...)
		if ctx.Err() != nil {
			return
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
