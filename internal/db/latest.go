package db

import "fmt"

// RefreshLatestFindings rebuilds the precomputed newest-finding-per-(host, qid)
// aggregate. One row survives per pair: the finding from the report with the
// most recent report date, undated reports last, higher finding id breaking
// ties. Invoked after every import and after every reclassification so
// downstream readers see fresh layer assignments.
func (db *DB) RefreshLatestFindings() error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM latest_finding`); err != nil {
		return fmt.Errorf("clear latest_finding: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO latest_finding (finding_id, scan_report_id, host_id, qid, severity, layer_id, report_date)
		SELECT f.id, f.scan_report_id, f.host_id, f.qid, f.severity, f.layer_id, sr.report_date
		  FROM finding f
		  JOIN scan_report sr ON sr.id = f.scan_report_id
		 WHERE f.id = (
		       SELECT f2.id
		         FROM finding f2
		         JOIN scan_report sr2 ON sr2.id = f2.scan_report_id
		        WHERE f2.host_id = f.host_id AND f2.qid = f.qid
		        ORDER BY (sr2.report_date IS NULL), sr2.report_date DESC, f2.id DESC
		        LIMIT 1)`)
	if err != nil {
		return fmt.Errorf("rebuild latest_finding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit latest_finding: %w", err)
	}
	return nil
}

// ListLatestFindings returns the aggregate ordered by host then qid.
func (db *DB) ListLatestFindings() ([]LatestFinding, error) {
	rows, err := db.Query(
		`SELECT finding_id, scan_report_id, host_id, qid, severity, layer_id, report_date
		   FROM latest_finding ORDER BY host_id, qid`)
	if err != nil {
		return nil, fmt.Errorf("list latest_finding: %w", err)
	}
	defer rows.Close()

	var items []LatestFinding
	for rows.Next() {
		var lf LatestFinding
		if err := rows.Scan(&lf.FindingID, &lf.ScanReportID, &lf.HostID, &lf.QID, &lf.Severity, &lf.LayerID, &lf.ReportDate); err != nil {
			return nil, fmt.Errorf("scan latest_finding: %w", err)
		}
		items = append(items, lf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
