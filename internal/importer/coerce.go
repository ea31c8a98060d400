package importer

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/qualys"
)

// detectedAtFormats are the two timestamp shapes the scanner emits.
var detectedAtFormats = []string{"01/02/2006 15:04:05", "01/02/2006"}

// findingFromRow coerces one raw detail row into a typed finding. Coercion is
// never fatal: malformed numbers and dates become zero or NULL so one bad row
// cannot sink a whole report.
func findingFromRow(reportID, hostID int64, row qualys.DetailRow) db.Finding {
	return db.Finding{
		ScanReportID:  reportID,
		HostID:        hostID,
		QID:           int64(coerceInt(row.QID)),
		Title:         row.Title,
		VulnStatus:    nullString(row.VulnStatus),
		Type:          nullString(row.Type),
		Severity:      coerceInt(row.Severity),
		Port:          coercePort(row.Port),
		Protocol:      nullString(row.Protocol),
		FQDN:          nullString(row.FQDN),
		SSL:           coerceSSL(row.SSL),
		FirstDetected: coerceDate(row.FirstDetected),
		LastDetected:  coerceDate(row.LastDetected),
		TimesDetected: coerceNullInt(row.TimesDetected),
		DateLastFixed: coerceDate(row.DateLastFixed),
		CVEIDs:        coerceCVEList(row.CVEID),
		VendorRef:     nullString(row.VendorRef),
		BugtraqID:     nullString(row.BugtraqID),
		CVSSBase:      nullString(row.CVSSBase),
		CVSSTemporal:  nullString(row.CVSSTemporal),
		CVSS3Base:     nullString(row.CVSS3Base),
		CVSS3Temporal: nullString(row.CVSS3Temporal),
		Threat:        nullString(row.Threat),
		Impact:        nullString(row.Impact),
		Solution:      nullString(row.Solution),
		Results:       nullString(row.Results),
		PCIVuln:       coercePCI(row.PCIVuln),
		TicketState:   nullString(row.TicketState),
		TrackingMeth:  nullString(row.TrackingMethod),
		Category:      nullString(row.Category),
	}
}

func coerceInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func coerceNullInt(s string) sql.NullInt64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// coercePort accepts digits only; anything else (service names, ranges,
// blanks) becomes NULL.
func coercePort(s string) sql.NullInt64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullInt64{}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return sql.NullInt64{}
		}
	}
	return coerceNullInt(s)
}

func coerceDate(s string) sql.NullTime {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullTime{}
	}
	for _, format := range detectedAtFormats {
		if t, err := time.Parse(format, s); err == nil {
			return sql.NullTime{Time: t, Valid: true}
		}
	}
	return sql.NullTime{}
}

// coerceSSL is true when the field mentions ssl, NULL otherwise. The scanner
// leaves the column blank for non-TLS findings.
func coerceSSL(s string) sql.NullBool {
	if s != "" && strings.Contains(strings.ToLower(s), "ssl") {
		return sql.NullBool{Bool: true, Valid: true}
	}
	return sql.NullBool{}
}

func coercePCI(s string) sql.NullBool {
	if s == "" {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: strings.EqualFold(s, "yes"), Valid: true}
}

func coerceCVEList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
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

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
