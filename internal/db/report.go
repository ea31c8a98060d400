package db

import (
	"database/sql"
	"fmt"
)

// InsertScanReport records one ingested file.
func (db *DB) InsertScanReport(r ScanReport) (ScanReport, error) {
	var out ScanReport
	err := db.QueryRow(
		`INSERT INTO scan_report (filename, report_date, asset_group, total_vulns_declared, avg_risk_declared, source)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id, filename, imported_at, report_date, asset_group, total_vulns_declared, avg_risk_declared, source`,
		r.Filename, r.ReportDate, r.AssetGroup, r.TotalVulnsDeclared, r.AvgRiskDeclared, r.Source,
	).Scan(&out.ID, &out.Filename, &out.ImportedAt, &out.ReportDate, &out.AssetGroup, &out.TotalVulnsDeclared, &out.AvgRiskDeclared, &out.Source)
	if err != nil {
		return ScanReport{}, fmt.Errorf("insert scan_report: %w", err)
	}
	return out, nil
}

// GetScanReport fetches one report by id.
func (db *DB) GetScanReport(id int64) (ScanReport, bool, error) {
	var r ScanReport
	err := db.QueryRow(
		`SELECT id, filename, imported_at, report_date, asset_group, total_vulns_declared, avg_risk_declared, source
		   FROM scan_report WHERE id = ?`, id,
	).Scan(&r.ID, &r.Filename, &r.ImportedAt, &r.ReportDate, &r.AssetGroup, &r.TotalVulnsDeclared, &r.AvgRiskDeclared, &r.Source)
	if err != nil {
		if err == sql.ErrNoRows {
			return ScanReport{}, false, nil
		}
		return ScanReport{}, false, fmt.Errorf("get scan_report: %w", err)
	}
	return r, true, nil
}

// FindReportByHeader looks up an already-imported report whose declared header
// fields match. Used by the watcher for duplicate detection; all three fields
// must match, NULLs included.
func (db *DB) FindReportByHeader(reportDate sql.NullTime, assetGroup sql.NullString, totalDeclared sql.NullInt64) (ScanReport, bool, error) {
	var r ScanReport
	err := db.QueryRow(
		`SELECT id, filename, imported_at, report_date, asset_group, total_vulns_declared, avg_risk_declared, source
		   FROM scan_report
		  WHERE report_date IS ? AND asset_group IS ? AND total_vulns_declared IS ?
		  LIMIT 1`,
		reportDate, assetGroup, totalDeclared,
	).Scan(&r.ID, &r.Filename, &r.ImportedAt, &r.ReportDate, &r.AssetGroup, &r.TotalVulnsDeclared, &r.AvgRiskDeclared, &r.Source)
	if err != nil {
		if err == sql.ErrNoRows {
			return ScanReport{}, false, nil
		}
		return ScanReport{}, false, fmt.Errorf("find report by header: %w", err)
	}
	return r, true, nil
}

// InsertImportJob creates the job row for an ingestion attempt.
func (db *DB) InsertImportJob(j ImportJob) (ImportJob, error) {
	var out ImportJob
	err := db.QueryRow(
		`INSERT INTO import_job (scan_report_id, status, progress, started_at, rows_processed, rows_total)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id, scan_report_id, status, progress, started_at, ended_at, error_message, rows_processed, rows_total`,
		j.ScanReportID, j.Status, j.Progress, j.StartedAt, j.RowsProcessed, j.RowsTotal,
	).Scan(&out.ID, &out.ScanReportID, &out.Status, &out.Progress, &out.StartedAt, &out.EndedAt, &out.ErrorMessage, &out.RowsProcessed, &out.RowsTotal)
	if err != nil {
		return ImportJob{}, fmt.Errorf("insert import_job: %w", err)
	}
	return out, nil
}

// GetImportJob fetches one job by id.
func (db *DB) GetImportJob(id int64) (ImportJob, bool, error) {
	var j ImportJob
	err := db.QueryRow(
		`SELECT id, scan_report_id, status, progress, started_at, ended_at, error_message, rows_processed, rows_total
		   FROM import_job WHERE id = ?`, id,
	).Scan(&j.ID, &j.ScanReportID, &j.Status, &j.Progress, &j.StartedAt, &j.EndedAt, &j.ErrorMessage, &j.RowsProcessed, &j.RowsTotal)
	if err != nil {
		if err == sql.ErrNoRows {
			return ImportJob{}, false, nil
		}
		return ImportJob{}, false, fmt.Errorf("get import_job: %w", err)
	}
	return j, true, nil
}

// UpdateImportJobProgress flushes partial progress so an observer can poll mid-run.
func (db *DB) UpdateImportJobProgress(id int64, progress, rowsProcessed, rowsTotal int) error {
	_, err := db.Exec(
		`UPDATE import_job SET progress = ?, rows_processed = ?, rows_total = ? WHERE id = ?`,
		progress, rowsProcessed, rowsTotal, id,
	)
	if err != nil {
		return fmt.Errorf("update import_job progress: %w", err)
	}
	return nil
}

// FinalizeImportJob moves a job to its terminal state and stamps the end time.
func (db *DB) FinalizeImportJob(id int64, status string, errorMessage sql.NullString, progress, rowsProcessed int) error {
	_, err := db.Exec(
		`UPDATE import_job
		    SET status = ?, error_message = ?, progress = ?, rows_processed = ?, ended_at = CURRENT_TIMESTAMP
		  WHERE id = ?`,
		status, errorMessage, progress, rowsProcessed, id,
	)
	if err != nil {
		return fmt.Errorf("finalize import_job: %w", err)
	}
	return nil
}

// ImportJobWithReport pairs a job with its report's filename and source.
type ImportJobWithReport struct {
	ImportJob
	Filename string
	Source   string
}

// ListImportJobs returns import history, most recent first.
func (db *DB) ListImportJobs(limit, offset int) ([]ImportJobWithReport, error) {
	rows, err := db.Query(
		`SELECT j.id, j.scan_report_id, j.status, j.progress, j.started_at, j.ended_at, j.error_message,
		        j.rows_processed, j.rows_total, r.filename, r.source
		   FROM import_job j
		   JOIN scan_report r ON r.id = j.scan_report_id
		  ORDER BY j.id DESC
		  LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list import_job: %w", err)
	}
	defer rows.Close()

	var items []ImportJobWithReport
	for rows.Next() {
		var item ImportJobWithReport
		if err := rows.Scan(&item.ID, &item.ScanReportID, &item.Status, &item.Progress, &item.StartedAt,
			&item.EndedAt, &item.ErrorMessage, &item.RowsProcessed, &item.RowsTotal, &item.Filename, &item.Source); err != nil {
			return nil, fmt.Errorf("scan import_job: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountImportJobs returns the total number of recorded ingestion attempts.
func (db *DB) CountImportJobs() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM import_job`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count import_job: %w", err)
	}
	return n, nil
}
