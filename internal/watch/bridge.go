// Package watch feeds filesystem notifications into a stage processor.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
	"github.com/joseph-ayodele/receipts-pipeline/internal/stage"
)

type Config struct {
	Root   string        // stage input directory; watched non-recursively
	Settle time.Duration // wait after an event before reading the file
}

// Bridge watches Root and every date partition under it, including
// partitions created after Start, and runs the processor for each new or
// rewritten file the processor's filter accepts. Sources are removed by the
// processor on success only.
type Bridge struct {
	cfg     Config
	proc    stage.Processor
	seen    partition.SeenSet
	session *stage.Session
	logger  *slog.Logger

	// procMu serialises ProcessOne between Sweep and the event goroutine
	// so collision naming in shared output partitions stays race free.
	procMu sync.Mutex

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watched   map[string]struct{}
	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewBridge(cfg Config, proc stage.Processor, seen partition.SeenSet, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if seen == nil {
		seen = partition.NewMemorySeenSet()
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Bridge{
		cfg:     cfg,
		proc:    proc,
		seen:    seen,
		session: stage.NewSession(time.Now()),
		logger:  logger.With("stage", proc.Name(), "mode", "watch"),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Start registers the watches and begins handling events until ctx is
// cancelled or Stop is called. A bridge can be started once.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.done:
		return errors.New("bridge already stopped")
	default:
	}
	if err := os.MkdirAll(b.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Error("failed to create fsnotify watcher", "error", err)
		return err
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		_ = w.Close()
		return errors.New("bridge already started")
	}
	b.watcher = w
	b.mu.Unlock()

	fail := func(err error) error {
		b.mu.Lock()
		b.watcher = nil
		b.watched = make(map[string]struct{})
		b.mu.Unlock()
		_ = w.Close()
		return err
	}
	if err := b.addWatch(b.cfg.Root); err != nil {
		return fail(err)
	}
	parts, err := partition.ListPartitions(b.cfg.Root)
	if err != nil {
		return fail(err)
	}
	for _, p := range parts {
		if err := b.addWatch(p.Path); err != nil {
			return fail(err)
		}
	}

	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	b.logger.Info("watcher started", "root", b.cfg.Root, "partitions", len(parts))

	go b.run(ctx, w)
	return nil
}

// Stop closes the watcher. Events already being handled finish first.
// Stopping a bridge that was never started closes Done right away.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	w := b.watcher
	b.watcher = nil
	started := b.started
	b.mu.Unlock()
	if !started {
		b.closeDone()
	}
	if w == nil {
		return nil
	}
	return w.Close()
}

// Done is closed when the event goroutine exits, or by Stop when the bridge
// never started. It is never nil.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) closeDone() { b.closeOnce.Do(func() { close(b.done) }) }

// Sweep dispatches every file already sitting in the date partitions
// through the same dedup set as watch events, without the settle delay.
// Call it after Start so files written while it runs arrive as events.
// It returns how many files it handed to the processor.
func (b *Bridge) Sweep(ctx context.Context) (int, error) {
	scanner := partition.NewScanner(partition.NewResolver(time.Now), b.logger)
	files, err := scanner.ScanAll(b.cfg.Root, b.proc.Filter())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if b.dispatch(ctx, f.Path, f.ModTime, f.Size, false) {
			n++
		}
	}
	b.logger.Info("startup sweep finished", "found", len(files), "dispatched", n)
	return n, ctx.Err()
}

// Stats returns the cumulative counters of handled files.
func (b *Bridge) Stats() stage.SessionStats { return b.session.Snapshot() }

// Watched lists the directories currently registered, sorted.
func (b *Bridge) Watched() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.watched))
	for d := range b.watched {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) addWatch(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watched[dir]; ok || b.watcher == nil {
		return nil
	}
	if err := b.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	b.watched[dir] = struct{}{}
	b.logger.Debug("watching directory", "dir", dir)
	return nil
}

func (b *Bridge) run(ctx context.Context, w *fsnotify.Watcher) {
	defer b.closeDone()
	defer func() {
		_ = b.Stop()
		b.logger.Info("watcher stopped", b.session.Snapshot().LogAttrs()...)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			b.handle(ctx, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.logger.Error("watcher error", "error", err)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(b.cfg.Root) {
			b.onNewPartition(ctx, ev.Name)
		}
		return
	}
	b.dispatch(ctx, ev.Name, info.ModTime(), info.Size(), true)
}

// onNewPartition watches a freshly created date folder and picks up files
// written into it before the watch was in place.
func (b *Bridge) onNewPartition(ctx context.Context, dir string) {
	if _, ok := partition.ParsePartition(filepath.Base(dir)); !ok {
		return
	}
	if err := b.addWatch(dir); err != nil {
		b.logger.Warn("failed to add new partition to watcher", "dir", dir, "error", err)
		return
	}
	b.logger.Info("new partition watched", "dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if info, err := e.Info(); err == nil {
			b.dispatch(ctx, filepath.Join(dir, e.Name()), info.ModTime(), info.Size(), true)
		}
	}
}

// dispatch runs the processor for path unless its path|mtime|size key was
// already claimed. It reports whether the file reached the processor.
func (b *Bridge) dispatch(ctx context.Context, path string, modTime time.Time, size int64, wait bool) bool {
	name := filepath.Base(path)
	if name[0] == '.' || !b.proc.Filter()(name) {
		return false
	}
	key := fmt.Sprintf("%s|%d|%d", path, modTime.UnixNano(), size)
	if !b.seen.AddIfAbsent(key) {
		return false
	}

	if wait && !settle(ctx, b.cfg.Settle) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		// already handled or moved away while settling
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("stat after settle failed", "path", path, "error", err)
		}
		return false
	}

	f := partition.StageFile{
		Path:      path,
		Name:      name,
		Partition: filepath.Base(filepath.Dir(path)),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		Key:       key,
	}
	b.procMu.Lock()
	res := b.proc.ProcessOne(ctx, f)
	b.procMu.Unlock()
	b.session.RecordResult(res)
	if !res.OK() {
		b.logger.Error("watched file failed", "path", path, "error", res.Err)
	}
	return true
}

func settle(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
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
