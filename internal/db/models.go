package db

import (
	"database/sql"
	"strings"
	"time"
)

// Import job statuses. A job is terminal once done or error.
const (
	JobProcessing = "processing"
	JobDone       = "done"
	JobError      = "error"
)

// Import sources recorded on a scan report.
const (
	SourceManual = "manual"
	SourceAuto   = "auto"
)

// Rule match fields.
const (
	MatchTitle    = "title"
	MatchCategory = "category"
)

// Coherence check severities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ScanReport records one ingested export file.
type ScanReport struct {
	ID                 int64
	Filename           string
	ImportedAt         time.Time
	ReportDate         sql.NullTime
	AssetGroup         sql.NullString
	TotalVulnsDeclared sql.NullInt64
	AvgRiskDeclared    sql.NullFloat64
	Source             string
}

// ImportJob tracks the progress and outcome of one ingestion attempt.
type ImportJob struct {
	ID            int64
	ScanReportID  int64
	Status        string
	Progress      int
	StartedAt     sql.NullTime
	EndedAt       sql.NullTime
	ErrorMessage  sql.NullString
	RowsProcessed int
	RowsTotal     int
}

// Host is a long-lived identity keyed by IP, shared across reports.
type Host struct {
	ID        int64
	IP        string
	DNS       string
	NetBIOS   string
	OS        string
	OSCPE     string
	FirstSeen sql.NullTime
	LastSeen  sql.NullTime
}

// Finding is one detected vulnerability occurrence on one host in one report.
type Finding struct {
	ID            int64
	ScanReportID  int64
	HostID        int64
	QID           int64
	Title         string
	VulnStatus    sql.NullString
	Type          sql.NullString
	Severity      int
	Port          sql.NullInt64
	Protocol      sql.NullString
	FQDN          sql.NullString
	SSL           sql.NullBool
	FirstDetected sql.NullTime
	LastDetected  sql.NullTime
	TimesDetected sql.NullInt64
	DateLastFixed sql.NullTime
	CVEIDs        []string
	VendorRef     sql.NullString
	BugtraqID     sql.NullString
	CVSSBase      sql.NullString
	CVSSTemporal  sql.NullString
	CVSS3Base     sql.NullString
	CVSS3Temporal sql.NullString
	Threat        sql.NullString
	Impact        sql.NullString
	Solution      sql.NullString
	Results       sql.NullString
	PCIVuln       sql.NullBool
	TicketState   sql.NullString
	TrackingMeth  sql.NullString
	Category      sql.NullString
	LayerID       sql.NullInt64
}

// Layer is one bucket of the admin-managed classification taxonomy.
type Layer struct {
	ID       int64
	Name     string
	Color    string
	Position int
}

// LayerRule assigns a layer by case-insensitive substring match.
type LayerRule struct {
	ID         int64
	LayerID    int64
	MatchField string
	Pattern    string
	Priority   int
}

// CoherenceCheck is one declared-vs-parsed discrepancy for a report.
type CoherenceCheck struct {
	ID            int64
	ScanReportID  int64
	CheckType     string
	Entity        sql.NullString
	ExpectedValue string
	ActualValue   string
	Severity      string
	DetectedAt    time.Time
}

// WatchPath is a monitored directory read by the file watcher.
type WatchPath struct {
	ID           int64
	Path         string
	Pattern      string
	Recursive    bool
	Enabled      bool
	IgnoreBefore sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LatestFinding is the precomputed newest finding per (host, qid).
type LatestFinding struct {
	FindingID    int64
	ScanReportID int64
	HostID       int64
	QID          int64
	Severity     int
	LayerID      sql.NullInt64
	ReportDate   sql.NullTime
}

// cve_ids travel as one comma-joined TEXT column.
func joinCVEs(ids []string) sql.NullString {
	if len(ids) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(ids, ","), Valid: true}
}

func splitCVEs(raw sql.NullString) []string {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	parts := strings.Split(raw.String, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
