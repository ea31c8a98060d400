package db

import (
	"database/sql"
	"fmt"
)

const findingColumns = `id, scan_report_id, host_id, qid, title, vuln_status, type, severity, port, protocol,
	fqdn, ssl, first_detected, last_detected, times_detected, date_last_fixed, cve_ids, vendor_reference,
	bugtraq_id, cvss_base, cvss_temporal, cvss3_base, cvss3_temporal, threat, impact, solution, results,
	pci_vuln, ticket_state, tracking_method, category, layer_id`

func scanFinding(rows *sql.Rows) (Finding, error) {
	var f Finding
	var rawCVEs sql.NullString
	err := rows.Scan(&f.ID, &f.ScanReportID, &f.HostID, &f.QID, &f.Title, &f.VulnStatus, &f.Type,
		&f.Severity, &f.Port, &f.Protocol, &f.FQDN, &f.SSL, &f.FirstDetected, &f.LastDetected,
		&f.TimesDetected, &f.DateLastFixed, &rawCVEs, &f.VendorRef, &f.BugtraqID, &f.CVSSBase,
		&f.CVSSTemporal, &f.CVSS3Base, &f.CVSS3Temporal, &f.Threat, &f.Impact, &f.Solution,
		&f.Results, &f.PCIVuln, &f.TicketState, &f.TrackingMeth, &f.Category, &f.LayerID)
	if err != nil {
		return Finding{}, err
	}
	f.CVEIDs = splitCVEs(rawCVEs)
	return f, nil
}

// ListFindingsByReport returns all findings of one report ordered by id.
func (db *DB) ListFindingsByReport(reportID int64) ([]Finding, error) {
	rows, err := db.Query(`SELECT `+findingColumns+` FROM finding WHERE scan_report_id = ? ORDER BY id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list finding: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// CountFindingsByReport returns the number of findings tied to one report.
func (db *DB) CountFindingsByReport(reportID int64) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM finding WHERE scan_report_id = ?`, reportID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count finding: %w", err)
	}
	return n, nil
}

// CountFindingsByLayer returns how many findings currently carry the given layer.
func (db *DB) CountFindingsByLayer(layerID int64) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM finding WHERE layer_id = ?`, layerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count finding by layer: %w", err)
	}
	return n, nil
}

// CountUnclassifiedFindings returns how many findings carry no layer.
func (db *DB) CountUnclassifiedFindings() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM finding WHERE layer_id IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unclassified finding: %w", err)
	}
	return n, nil
}

// ClearFindingLayers removes every layer assignment ahead of a full reclassification.
func (db *DB) ClearFindingLayers() error {
	if _, err := db.Exec(`UPDATE finding SET layer_id = NULL WHERE layer_id IS NOT NULL`); err != nil {
		return fmt.Errorf("clear finding layers: %w", err)
	}
	return nil
}

// ApplyLayerRule assigns the rule's layer to every still-unclassified finding
// whose subject field contains the pattern, case-insensitively. One bulk
// conditional update per rule realizes first-match-wins across a priority-
// ordered rule walk.
func (db *DB) ApplyLayerRule(rule LayerRule) (int64, error) {
	column := "title"
	if rule.MatchField == MatchCategory {
		column = "category"
	}
	res, err := db.Exec(
		`UPDATE finding SET layer_id = ?
		  WHERE layer_id IS NULL AND instr(lower(coalesce(`+column+`, '')), lower(?)) > 0`,
		rule.LayerID, rule.Pattern,
	)
	if err != nil {
		return 0, fmt.Errorf("apply layer rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("apply layer rule count: %w", err)
	}
	return affected, nil
}

// NullifyFindingLayer detaches findings from a layer that is being deleted.
func (db *DB) NullifyFindingLayer(layerID int64) error {
	if _, err := db.Exec(`UPDATE finding SET layer_id = NULL WHERE layer_id = ?`, layerID); err != nil {
		return fmt.Errorf("nullify finding layer: %w", err)
	}
	return nil
}
