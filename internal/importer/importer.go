package importer

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/classify"
	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/qualys"
)

// progressFlushRows is how often partial progress is written to the job row
// so an external observer can poll status mid-run.
const progressFlushRows = 500

// Importer drives one export file through parse, classify, persist, and
// coherence checking. Each run produces a fresh ScanReport/ImportJob pair; a
// failed run is re-triggered as a new run, never resumed.
type Importer struct {
	DB     *db.DB
	Source string
	Log    *logrus.Entry
}

// New builds an importer writing reports tagged with the given source.
func New(database *db.DB, source string, log *logrus.Entry) *Importer {
	return &Importer{DB: database, Source: source, Log: log}
}

// Result carries the identifiers of a finished (or failed) run.
type Result struct {
	Report db.ScanReport
	Job    db.ImportJob
}

// ImportFile ingests one export from disk.
func (imp *Importer) ImportFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return imp.Import(filepath.Base(path), f)
}

// Import ingests one export. The report and job rows are committed up front
// and the job row is the durable marker of the run's outcome: rows are
// persisted in batches with progress flushed as they land, and any failure
// finalizes the job as error so the run is visibly distinguishable and
// re-triggerable. Parse failures (undecodable file, missing detail section)
// surface the same way.
func (imp *Importer) Import(filename string, r io.Reader) (Result, error) {
	report, parseErr := qualys.Parse(r)

	var meta qualys.Metadata
	if report != nil {
		meta = report.Metadata
	}
	record, err := imp.DB.InsertScanReport(db.ScanReport{
		Filename:           filename,
		ReportDate:         nullTime(meta.ReportDate),
		AssetGroup:         nullString(meta.AssetGroup),
		TotalVulnsDeclared: nullIntPtr(meta.TotalVulns),
		AvgRiskDeclared:    nullFloatPtr(meta.AvgRisk),
		Source:             imp.Source,
	})
	if err != nil {
		return Result{}, err
	}
	job, err := imp.DB.InsertImportJob(db.ImportJob{
		ScanReportID: record.ID,
		Status:       db.JobProcessing,
		StartedAt:    sql.NullTime{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		return Result{}, err
	}

	log := imp.Log.WithFields(logrus.Fields{"file": filename, "job": job.ID})

	if parseErr != nil {
		return imp.failRun(record, job, 0, 0, parseErr, log)
	}

	rows := report.Rows
	if err := imp.DB.UpdateImportJobProgress(job.ID, 0, 0, len(rows)); err != nil {
		return imp.failRun(record, job, 0, len(rows), err, log)
	}

	orderedRules, err := imp.DB.ListAllRulesOrdered()
	if err != nil {
		return imp.failRun(record, job, 0, len(rows), err, log)
	}
	rules := classify.FromDB(orderedRules)

	seenAt := nullTime(meta.ReportDate)
	hostIDs := make(map[string]int64)

	processed := 0
	for processed < len(rows) {
		end := processed + progressFlushRows
		if end > len(rows) {
			end = len(rows)
		}
		if err := imp.stageBatch(record.ID, rows[processed:end], rules, seenAt, hostIDs); err != nil {
			return imp.failRun(record, job, processed, len(rows), err, log)
		}
		processed = end
		if err := imp.DB.UpdateImportJobProgress(job.ID, processed*100/len(rows), processed, len(rows)); err != nil {
			return imp.failRun(record, job, processed, len(rows), err, log)
		}
	}

	if err := imp.stageCoherenceChecks(record.ID, meta, report.HostSummaries, rows); err != nil {
		return imp.failRun(record, job, processed, len(rows), err, log)
	}

	if err := imp.DB.RefreshLatestFindings(); err != nil {
		return imp.failRun(record, job, processed, len(rows), err, log)
	}

	if err := imp.DB.FinalizeImportJob(job.ID, db.JobDone, sql.NullString{}, 100, processed); err != nil {
		return Result{}, err
	}
	log.WithField("rows", processed).Info("import finished")

	final, _, err := imp.DB.GetImportJob(job.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Report: record, Job: final}, nil
}

// stageBatch persists one slice of detail rows atomically.
func (imp *Importer) stageBatch(reportID int64, rows []qualys.DetailRow, rules []classify.Rule, seenAt sql.NullTime, hostIDs map[string]int64) error {
	tx, err := imp.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range rows {
		hostID, cached := hostIDs[row.IP]
		if !cached {
			host, err := tx.UpsertHostSighting(db.Host{
				IP:      row.IP,
				DNS:     row.DNS,
				NetBIOS: row.NetBIOS,
				OS:      row.OS,
				OSCPE:   row.OSCPE,
			}, seenAt)
			if err != nil {
				return err
			}
			hostID = host.ID
			hostIDs[row.IP] = hostID
		}

		finding := findingFromRow(reportID, hostID, row)
		if layerID, ok := classify.Classify(row.Title, row.Category, rules); ok {
			finding.LayerID = sql.NullInt64{Int64: layerID, Valid: true}
		}
		if _, err := tx.InsertFinding(finding); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finding batch: %w", err)
	}
	return nil
}

// stageCoherenceChecks runs the checker and appends its discrepancies in one
// transaction.
func (imp *Importer) stageCoherenceChecks(reportID int64, meta qualys.Metadata, summaries []qualys.HostSummary, rows []qualys.DetailRow) error {
	discrepancies := qualys.Check(meta, summaries, rows)
	if len(discrepancies) == 0 {
		return nil
	}

	tx, err := imp.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range discrepancies {
		if err := tx.InsertCoherenceCheck(db.CoherenceCheck{
			ScanReportID:  reportID,
			CheckType:     d.CheckType,
			Entity:        nullString(d.Entity),
			ExpectedValue: d.Expected,
			ActualValue:   d.Actual,
			Severity:      d.Severity,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit coherence checks: %w", err)
	}
	return nil
}

func (imp *Importer) failRun(report db.ScanReport, job db.ImportJob, processed, total int, cause error, log *logrus.Entry) (Result, error) {
	log.WithError(cause).Error("import failed")
	// Keep the progress reached by committed batches on the failed job row.
	progress := 0
	if total > 0 {
		progress = processed * 100 / total
	}
	message := sql.NullString{String: cause.Error(), Valid: true}
	if err := imp.DB.FinalizeImportJob(job.ID, db.JobError, message, progress, processed); err != nil {
		log.WithError(err).Error("could not finalize failed import job")
	}
	final, _, err := imp.DB.GetImportJob(job.ID)
	if err == nil {
		job = final
	}
	return Result{Report: report, Job: job}, cause
}
