package watcher

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/qualys"
)

// ImportFunc ingests one discovered file.
type ImportFunc func(path string) error

// Status is a snapshot of the watcher for status reporting.
type Status struct {
	Running     bool   `json:"running"`
	ActivePaths int    `json:"active_paths"`
	KnownFiles  int    `json:"known_files"`
	LastImport  string `json:"last_import,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	ImportCount int    `json:"import_count"`
}

// Watcher polls configured directories for new export files and hands stable,
// non-duplicate ones to the importer. The known-files map lives in memory
// only: it guarantees at most one import per file change per process lifetime,
// and is rebuilt on restart by the initial registration pass. Durable dedup is
// the header-match probe against persisted reports, not this map.
type Watcher struct {
	DB           *db.DB
	Import       ImportFunc
	PollInterval time.Duration
	StableWait   time.Duration
	Log          *logrus.Entry

	// wait is the stability-sample delay, swapped in tests to mutate the
	// file between samples.
	wait func(ctx context.Context, d time.Duration) bool

	mu          sync.Mutex
	known       map[string]time.Time
	running     bool
	activePaths int
	lastImport  string
	lastError   string
	importCount int
}

// New builds a watcher over the given store and import trigger.
func New(database *db.DB, importFn ImportFunc, pollInterval, stableWait time.Duration, log *logrus.Entry) *Watcher {
	return &Watcher{
		DB:           database,
		Import:       importFn,
		PollInterval: pollInterval,
		StableWait:   stableWait,
		Log:          log,
		wait:         sleepContext,
		known:        make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled. Pre-existing files are registered
// without importing so a restart never replays old exports. Errors inside a
// cycle are logged and the loop continues.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.initialScan()
	w.Log.Info("file watcher started")

	for {
		if !sleepContext(ctx, w.PollInterval) {
			w.Log.Info("file watcher stopped")
			return
		}
		w.scan(ctx)
	}
}

// Status reports the watcher's current activity counters.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:     w.running,
		ActivePaths: w.activePaths,
		KnownFiles:  len(w.known),
		LastImport:  w.lastImport,
		LastError:   w.lastError,
		ImportCount: w.importCount,
	}
}

// initialScan records every file already present so it is never imported.
func (w *Watcher) initialScan() {
	paths, err := w.DB.ListEnabledWatchPaths()
	if err != nil {
		w.Log.WithError(err).Error("could not read watch paths")
		return
	}
	if len(paths) == 0 {
		w.Log.Info("no watch paths configured, watcher idle")
		return
	}

	registered := 0
	for _, wp := range paths {
		for _, file := range w.enumerate(wp) {
			info, err := os.Stat(file)
			if err != nil {
				continue
			}
			if skipOlderThan(info.ModTime(), wp.IgnoreBefore) {
				continue
			}
			w.mu.Lock()
			w.known[file] = info.ModTime()
			w.mu.Unlock()
			registered++
		}
	}
	w.mu.Lock()
	w.activePaths = len(paths)
	w.mu.Unlock()
	w.Log.WithFields(logrus.Fields{"files": registered, "paths": len(paths)}).
		Info("initial scan registered existing files")
}

// scan is one poll cycle. The watch path set is re-read from the store so
// configuration changes take effect without a restart.
func (w *Watcher) scan(ctx context.Context) {
	paths, err := w.DB.ListEnabledWatchPaths()
	if err != nil {
		w.Log.WithError(err).Error("could not read watch paths")
		return
	}
	w.mu.Lock()
	w.activePaths = len(paths)
	w.mu.Unlock()

	for _, wp := range paths {
		for _, file := range w.enumerate(wp) {
			if ctx.Err() != nil {
				return
			}
			w.consider(ctx, file, wp)
		}
	}
}

// consider runs one file through the mtime, staleness, stability, and
// duplicate gates, importing it when all pass.
func (w *Watcher) consider(ctx context.Context, file string, wp db.WatchPath) {
	info, err := os.Stat(file)
	if err != nil {
		return
	}
	mtime := info.ModTime()

	if skipOlderThan(mtime, wp.IgnoreBefore) {
		return
	}

	w.mu.Lock()
	previous, seen := w.known[file]
	w.mu.Unlock()
	if seen && mtime.Equal(previous) {
		return
	}

	// A file still being written is deferred to the next cycle, unrecorded,
	// so it is reconsidered once the writer finishes.
	if !w.isStable(ctx, file) {
		return
	}

	w.mu.Lock()
	w.known[file] = mtime
	w.mu.Unlock()

	log := w.Log.WithField("file", filepath.Base(file))
	if seen {
		log.Info("modified file detected")
	} else {
		log.Info("new file detected")
	}

	if w.isDuplicate(file, log) {
		return
	}

	if err := w.Import(file); err != nil {
		log.WithError(err).Error("import failed")
		w.mu.Lock()
		w.lastError = filepath.Base(file)
		w.mu.Unlock()
		return
	}
	log.Info("import completed")
	w.mu.Lock()
	w.lastImport = filepath.Base(file)
	w.lastError = ""
	w.importCount++
	w.mu.Unlock()
}

// isDuplicate probes persisted reports for one whose declared header fields
// match this file's. Such a file was already ingested under another name or
// path and is deliberately skipped.
func (w *Watcher) isDuplicate(file string, log *logrus.Entry) bool {
	meta, err := qualys.ParseHeaderFile(file)
	if err != nil {
		// Let the importer surface the failure on the job record.
		return false
	}
	if meta.ReportDate == nil && meta.AssetGroup == "" && meta.TotalVulns == nil {
		// A header with nothing declared cannot be matched meaningfully.
		return false
	}

	existing, found, err := w.DB.FindReportByHeader(nullTime(meta.ReportDate), nullString(meta.AssetGroup), nullInt(meta.TotalVulns))
	if err != nil {
		log.WithError(err).Error("duplicate probe failed")
		return false
	}
	if found {
		log.WithField("report_id", existing.ID).Info("duplicate report detected, skipping")
		return true
	}
	return false
}

// isStable samples the size twice across the configured wait; equal and
// non-zero means the writer has finished.
func (w *Watcher) isStable(ctx context.Context, file string) bool {
	first, err := os.Stat(file)
	if err != nil {
		return false
	}
	if !w.wait(ctx, w.StableWait) {
		return false
	}
	second, err := os.Stat(file)
	if err != nil {
		return false
	}
	return first.Size() == second.Size() && second.Size() > 0
}

// enumerate resolves a watch path's glob matches to absolute file paths.
func (w *Watcher) enumerate(wp db.WatchPath) []string {
	if _, err := os.Stat(wp.Path); err != nil {
		w.Log.WithField("path", wp.Path).Warn("watch path does not exist")
		return nil
	}

	var files []string
	appendMatch := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		files = append(files, abs)
	}

	if wp.Recursive {
		_ = filepath.WalkDir(wp.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(wp.Pattern, d.Name()); ok {
				appendMatch(path)
			}
			return nil
		})
		return files
	}

	matches, err := filepath.Glob(filepath.Join(wp.Path, wp.Pattern))
	if err != nil {
		return nil
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		appendMatch(match)
	}
	return files
}

// skipOlderThan applies a watch path's ignore_before cutoff.
func skipOlderThan(mtime time.Time, cutoff sql.NullTime) bool {
	return cutoff.Valid && mtime.Before(cutoff.Time)
}

// sleepContext waits for the duration or the context, whichever ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
