package db

import (
	"database/sql"
	"fmt"
)

// Tx wraps sql.Tx to reuse DB helpers within a transaction.
type Tx struct {
	*sql.Tx
}

// Begin starts a transaction on the DB.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Tx: tx}, nil
}

// InsertFinding stages one finding row within a transaction.
func (tx *Tx) InsertFinding(f Finding) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO finding (
		    scan_report_id, host_id, qid, title, vuln_status, type, severity, port, protocol, fqdn, ssl,
		    first_detected, last_detected, times_detected, date_last_fixed, cve_ids, vendor_reference,
		    bugtraq_id, cvss_base, cvss_temporal, cvss3_base, cvss3_temporal, threat, impact, solution,
		    results, pci_vuln, ticket_state, tracking_method, category, layer_id
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ScanReportID, f.HostID, f.QID, f.Title, f.VulnStatus, f.Type, f.Severity, f.Port, f.Protocol,
		f.FQDN, f.SSL, f.FirstDetected, f.LastDetected, f.TimesDetected, f.DateLastFixed, joinCVEs(f.CVEIDs),
		f.VendorRef, f.BugtraqID, f.CVSSBase, f.CVSSTemporal, f.CVSS3Base, f.CVSS3Temporal, f.Threat,
		f.Impact, f.Solution, f.Results, f.PCIVuln, f.TicketState, f.TrackingMeth, f.Category, f.LayerID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert finding: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert finding id: %w", err)
	}
	return id, nil
}

// InsertCoherenceCheck appends one discrepancy record within a transaction.
func (tx *Tx) InsertCoherenceCheck(c CoherenceCheck) error {
	_, err := tx.Exec(
		`INSERT INTO coherence_check (scan_report_id, check_type, entity, expected_value, actual_value, severity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ScanReportID, c.CheckType, c.Entity, c.ExpectedValue, c.ActualValue, c.Severity,
	)
	if err != nil {
		return fmt.Errorf("insert coherence_check: %w", err)
	}
	return nil
}
