package db

import "fmt"

// ListCoherenceChecks returns the discrepancies recorded for one report.
func (db *DB) ListCoherenceChecks(reportID int64) ([]CoherenceCheck, error) {
	rows, err := db.Query(
		`SELECT id, scan_report_id, check_type, entity, expected_value, actual_value, severity, detected_at
		   FROM coherence_check WHERE scan_report_id = ? ORDER BY id`,
		reportID,
	)
	if err != nil {
		return nil, fmt.Errorf("list coherence_check: %w", err)
	}
	defer rows.Close()

	var checks []CoherenceCheck
	for rows.Next() {
		var c CoherenceCheck
		if err := rows.Scan(&c.ID, &c.ScanReportID, &c.CheckType, &c.Entity, &c.ExpectedValue,
			&c.ActualValue, &c.Severity, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan coherence_check: %w", err)
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checks, nil
}
