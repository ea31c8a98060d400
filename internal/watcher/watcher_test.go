package watcher

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/testutil"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(testutil.TempDir(t), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func addWatchPath(t *testing.T, database *db.DB, dir string, recursive bool) db.WatchPath {
	t.Helper()
	wp, err := database.CreateWatchPath(db.WatchPath{
		Path: dir, Pattern: "*.csv", Recursive: recursive, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create watch path: %v", err)
	}
	return wp
}

// importRecorder stands in for the importer and logs every handed-off path.
type importRecorder struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *importRecorder) importFn(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.paths = append(r.paths, path)
	return nil
}

func (r *importRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func newTestWatcher(database *db.DB, rec *importRecorder) *Watcher {
	return New(database, rec.importFn, 10*time.Millisecond, time.Millisecond, testLogger())
}

func TestInitialScanRegistersWithoutImporting(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)
	testutil.WriteFile(t, dir, "old-export.csv", []byte("already here\n"))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)

	w.initialScan()
	w.scan(context.Background())

	if rec.count() != 0 {
		t.Errorf("pre-existing file imported: %v", rec.paths)
	}
	status := w.Status()
	if status.KnownFiles != 1 || status.ActivePaths != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestScanImportsNewFileOnce(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)
	w.initialScan()

	path := testutil.WriteFile(t, dir, "export.csv", []byte("new content\n"))

	w.scan(context.Background())
	if rec.count() != 1 {
		t.Fatalf("imports = %d, want 1", rec.count())
	}
	if got, _ := filepath.Abs(path); rec.paths[0] != got {
		t.Errorf("imported %q, want %q", rec.paths[0], got)
	}

	// The unchanged file is not replayed on the next cycle.
	w.scan(context.Background())
	if rec.count() != 1 {
		t.Errorf("imports = %d after second cycle, want 1", rec.count())
	}

	status := w.Status()
	if status.ImportCount != 1 || status.LastImport != "export.csv" {
		t.Errorf("status = %+v", status)
	}
}

func TestScanImportsModifiedFile(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)
	path := testutil.WriteFile(t, dir, "export.csv", []byte("v1\n"))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)
	w.initialScan()

	if err := os.WriteFile(path, []byte("v2 with more bytes\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// Push mtime clearly past the registered one; coarse filesystem clocks
	// would otherwise hide the change.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	w.scan(context.Background())
	if rec.count() != 1 {
		t.Errorf("imports = %d, want 1", rec.count())
	}
}

func TestScanDefersUnstableFile(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)
	path := testutil.WriteFile(t, dir, "export.csv", []byte("partial"))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)

	// Grow the file between the two stability samples.
	w.wait = func(ctx context.Context, d time.Duration) bool {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		f.WriteString(" more")
		f.Close()
		return true
	}

	w.scan(context.Background())
	if rec.count() != 0 {
		t.Fatalf("unstable file imported")
	}
	if w.Status().KnownFiles != 0 {
		t.Fatal("unstable file recorded as known")
	}

	// Once the writer is done the next cycle picks it up.
	w.wait = func(ctx context.Context, d time.Duration) bool { return true }
	w.scan(context.Background())
	if rec.count() != 1 {
		t.Errorf("imports = %d after file settled, want 1", rec.count())
	}
}

func TestScanSkipsDuplicateReport(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)

	reportDate := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	if _, err := database.InsertScanReport(db.ScanReport{
		Filename:           "original.csv",
		ReportDate:         sql.NullTime{Time: reportDate, Valid: true},
		AssetGroup:         sql.NullString{String: "Production", Valid: true},
		TotalVulnsDeclared: sql.NullInt64{Int64: 3, Valid: true},
		Source:             db.SourceManual,
	}); err != nil {
		t.Fatalf("insert report: %v", err)
	}

	content := `"Acme Scan Report","08/15/2025 at 10:22:01 (GMT)"
"Acme Corporation"
"Asset Groups","IPs","Active Hosts"
"Production",,"2"
"Total Vulnerabilities","Average Security Risk"
"3","2.5"
`
	testutil.WriteFile(t, dir, "copy.csv", []byte(content))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)
	w.scan(context.Background())

	if rec.count() != 0 {
		t.Errorf("duplicate imported: %v", rec.paths)
	}
	// The file is recorded, so it is not probed again every cycle.
	if w.Status().KnownFiles != 1 {
		t.Errorf("known files = %d, want 1", w.Status().KnownFiles)
	}
}

func TestScanHonorsIgnoreBefore(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	wp := addWatchPath(t, database, dir, false)

	wp.IgnoreBefore = sql.NullTime{Time: time.Now().Add(time.Hour).UTC(), Valid: true}
	if err := database.UpdateWatchPath(wp); err != nil {
		t.Fatalf("update watch path: %v", err)
	}
	testutil.WriteFile(t, dir, "export.csv", []byte("too old\n"))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)
	w.scan(context.Background())

	if rec.count() != 0 {
		t.Errorf("file older than cutoff imported")
	}
}

func TestEnumeratePatternAndRecursion(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	testutil.WriteFile(t, dir, "a.csv", []byte("x"))
	testutil.WriteFile(t, dir, "b.txt", []byte("x"))
	nested := filepath.Join(dir, "sub")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	testutil.WriteFile(t, nested, "c.csv", []byte("x"))

	rec := &importRecorder{}
	w := newTestWatcher(database, rec)

	flat := w.enumerate(db.WatchPath{Path: dir, Pattern: "*.csv"})
	if len(flat) != 1 || filepath.Base(flat[0]) != "a.csv" {
		t.Errorf("flat enumeration = %v", flat)
	}

	deep := w.enumerate(db.WatchPath{Path: dir, Pattern: "*.csv", Recursive: true})
	if len(deep) != 2 {
		t.Errorf("recursive enumeration = %v", deep)
	}
}

func TestScanRecordsImportFailure(t *testing.T) {
	database := openTestDB(t)
	dir := testutil.TempDir(t)
	addWatchPath(t, database, dir, false)
	testutil.WriteFile(t, dir, "export.csv", []byte("boom\n"))

	rec := &importRecorder{err: os.ErrPermission}
	w := newTestWatcher(database, rec)
	w.scan(context.Background())

	status := w.Status()
	if status.LastError != "export.csv" || status.ImportCount != 0 {
		t.Errorf("status = %+v", status)
	}
	// The mtime was recorded before the attempt: the same broken file is
	// not retried until it changes.
	w.scan(context.Background())
	if w.Status().LastError != "export.csv" {
		t.Errorf("status = %+v", w.Status())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	database := openTestDB(t)
	rec := &importRecorder{}
	w := newTestWatcher(database, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
	if w.Status().Running {
		t.Error("running flag still set")
	}
}
