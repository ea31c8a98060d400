package classify

import (
	"database/sql"
	"io"
	"path/filepath"
	"testing"

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

// seedFinding inserts one minimal finding and returns its id.
func seedFinding(t *testing.T, database *db.DB, reportID, hostID int64, title, category string) int64 {
	t.Helper()
	tx, err := database.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := tx.InsertFinding(db.Finding{
		ScanReportID: reportID,
		HostID:       hostID,
		QID:          1,
		Title:        title,
		Severity:     2,
		Category:     sql.NullString{String: category, Valid: category != ""},
	})
	if err != nil {
		t.Fatalf("insert finding: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func seedReportAndHost(t *testing.T, database *db.DB) (int64, int64) {
	t.Helper()
	report, err := database.InsertScanReport(db.ScanReport{Filename: "seed.csv", Source: db.SourceManual})
	if err != nil {
		t.Fatalf("insert report: %v", err)
	}
	host, err := database.UpsertHostSighting(db.Host{IP: "10.0.0.1"}, sql.NullTime{})
	if err != nil {
		t.Fatalf("upsert host: %v", err)
	}
	return report.ID, host.ID
}

func findingLayer(t *testing.T, database *db.DB, reportID, findingID int64) sql.NullInt64 {
	t.Helper()
	findings, err := database.ListFindingsByReport(reportID)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	for _, f := range findings {
		if f.ID == findingID {
			return f.LayerID
		}
	}
	t.Fatalf("finding %d not found", findingID)
	return sql.NullInt64{}
}

func TestReclassifyAssignsLayers(t *testing.T) {
	database := openTestDB(t)
	reportID, hostID := seedReportAndHost(t, database)

	layerA, err := database.CreateLayer(db.Layer{Name: "Remote Access"})
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	layerB, err := database.CreateLayer(db.Layer{Name: "Generic SSH"})
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	if _, err := database.CreateLayerRule(db.LayerRule{LayerID: layerA.ID, MatchField: db.MatchTitle, Pattern: "openssh", Priority: 10}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := database.CreateLayerRule(db.LayerRule{LayerID: layerB.ID, MatchField: db.MatchTitle, Pattern: "ssh", Priority: 5}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	f1 := seedFinding(t, database, reportID, hostID, "OpenSSH Legacy Version", "")
	f2 := seedFinding(t, database, reportID, hostID, "SSH Weak MAC Algorithms", "")
	f3 := seedFinding(t, database, reportID, hostID, "Unrelated Vulnerability", "")

	r := NewReclassifier(database, testLogger())
	if !r.begin() {
		t.Fatal("begin refused")
	}
	r.run()

	if got := findingLayer(t, database, reportID, f1); !got.Valid || got.Int64 != layerA.ID {
		t.Errorf("f1 layer = %+v, want %d", got, layerA.ID)
	}
	if got := findingLayer(t, database, reportID, f2); !got.Valid || got.Int64 != layerB.ID {
		t.Errorf("f2 layer = %+v, want %d", got, layerB.ID)
	}
	if got := findingLayer(t, database, reportID, f3); got.Valid {
		t.Errorf("f3 layer = %+v, want unclassified", got)
	}

	status := r.Status()
	if status.Running {
		t.Error("still running after run")
	}
	if status.Progress != 100 || status.RulesApplied != 2 || status.Classified != 2 {
		t.Errorf("status = %+v", status)
	}
	if status.Dirty == nil || *status.Dirty {
		t.Errorf("dirty = %v, want false", status.Dirty)
	}
}

func TestReclassifyOverwritesStaleAssignments(t *testing.T) {
	database := openTestDB(t)
	reportID, hostID := seedReportAndHost(t, database)

	stale, err := database.CreateLayer(db.Layer{Name: "Stale"})
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	current, err := database.CreateLayer(db.Layer{Name: "Current"})
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	if _, err := database.CreateLayerRule(db.LayerRule{LayerID: current.ID, MatchField: db.MatchTitle, Pattern: "tls", Priority: 1}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	id := seedFinding(t, database, reportID, hostID, "TLS Weak Ciphers", "")
	rule := db.LayerRule{LayerID: stale.ID, MatchField: db.MatchTitle, Pattern: "tls"}
	if _, err := database.ApplyLayerRule(rule); err != nil {
		t.Fatalf("preassign: %v", err)
	}
	if got := findingLayer(t, database, reportID, id); !got.Valid || got.Int64 != stale.ID {
		t.Fatalf("preassignment missing: %+v", got)
	}

	r := NewReclassifier(database, testLogger())
	if !r.begin() {
		t.Fatal("begin refused")
	}
	r.run()

	if got := findingLayer(t, database, reportID, id); !got.Valid || got.Int64 != current.ID {
		t.Errorf("layer = %+v, want %d", got, current.ID)
	}
}

func TestReclassifyRefusedWhileRunning(t *testing.T) {
	database := openTestDB(t)
	r := NewReclassifier(database, testLogger())

	if !r.begin() {
		t.Fatal("first begin refused")
	}
	started, message := r.Trigger()
	if started {
		t.Fatal("second run accepted while first holds the flag")
	}
	if message == "" {
		t.Error("refusal carries no message")
	}
}

func TestReclassifyNoRules(t *testing.T) {
	database := openTestDB(t)
	r := NewReclassifier(database, testLogger())

	if !r.begin() {
		t.Fatal("begin refused")
	}
	r.run()

	status := r.Status()
	if status.Progress != 100 || status.TotalRules != 0 {
		t.Errorf("status = %+v", status)
	}
	if status.Dirty != nil {
		t.Errorf("dirty = %v, want unknown", status.Dirty)
	}
}

func TestMarkDirtyLifecycle(t *testing.T) {
	database := openTestDB(t)
	reportID, hostID := seedReportAndHost(t, database)
	layer, err := database.CreateLayer(db.Layer{Name: "L"})
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	if _, err := database.CreateLayerRule(db.LayerRule{LayerID: layer.ID, MatchField: db.MatchTitle, Pattern: "x"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	seedFinding(t, database, reportID, hostID, "x marks the spot", "")

	r := NewReclassifier(database, testLogger())
	if r.Status().Dirty != nil {
		t.Fatal("dirty known before any signal")
	}

	r.MarkDirty()
	if d := r.Status().Dirty; d == nil || !*d {
		t.Fatalf("dirty = %v, want true", d)
	}

	if !r.begin() {
		t.Fatal("begin refused")
	}
	r.run()
	if d := r.Status().Dirty; d == nil || *d {
		t.Fatalf("dirty = %v, want false after full run", d)
	}
}
