package qualys

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Sentinel parse failures. A report missing header or summary metadata is
// still importable; a missing detail section is not.
var (
	ErrUndecodable           = errors.New("no supported text encoding decodes the file")
	ErrDetailSectionNotFound = errors.New("detail vulnerability section not found")
)

var reportDatePattern = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)

// Section marker tokens in the export's header region.
const (
	assetGroupMarker = "Asset Groups"
	totalVulnsMarker = "Total Vulnerabilities"
)

// Metadata holds the header-zone fields. Every field may be absent.
type Metadata struct {
	ReportName  string
	ReportDate  *time.Time
	CompanyName string
	AssetGroup  string
	ActiveHosts *int
	TotalVulns  *int
	AvgRisk     *float64
}

// HostSummary is one row of the per-host summary zone.
type HostSummary struct {
	IP           string
	TotalVulns   int
	SecurityRisk float64
}

// DetailRow is one detail-zone record with every column explicit. All fields
// are raw text as exported by the scanner; type coercion is the importer's
// concern. Rows without an IP are dropped during parsing.
type DetailRow struct {
	IP             string
	DNS            string
	NetBIOS        string
	OS             string
	OSCPE          string
	QID            string
	Title          string
	VulnStatus     string
	Type           string
	Severity       string
	Port           string
	Protocol       string
	FQDN           string
	SSL            string
	FirstDetected  string
	LastDetected   string
	TimesDetected  string
	DateLastFixed  string
	CVEID          string
	VendorRef      string
	BugtraqID      string
	CVSSBase       string
	CVSSTemporal   string
	CVSS3Base      string
	CVSS3Temporal  string
	Threat         string
	Impact         string
	Solution       string
	Results        string
	PCIVuln        string
	TicketState    string
	TrackingMethod string
	Category       string
}

// Report is the fully parsed export: header metadata, the host-summary table,
// and the detail rows.
type Report struct {
	Metadata      Metadata
	HostSummaries []HostSummary
	Rows          []DetailRow
}

// ParseFile reads and parses an export from disk.
func ParseFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and parses a complete export. It fails only when no encoding
// fits or when the detail zone cannot be located.
func Parse(r io.Reader) (*Report, error) {
	lines, err := decodeLines(r)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Metadata:      parseHeader(lines),
		HostSummaries: parseHostSummary(lines),
	}

	start, ok := findDetailStart(lines)
	if !ok {
		return nil, ErrDetailSectionNotFound
	}
	rows, err := parseDetailRows(lines[start:])
	if err != nil {
		return nil, err
	}
	report.Rows = rows
	return report, nil
}

// ParseHeaderFile decodes only the header metadata of an export. Used by the
// watcher's duplicate probe, which must not pay for a full detail parse.
func ParseHeaderFile(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	lines, err := decodeLines(f)
	if err != nil {
		return Metadata{}, err
	}
	return parseHeader(lines), nil
}

// decodeLines reads the whole input and decodes it with the first encoding in
// the fixed ladder that accepts every byte: UTF-8, then Latin-1, then
// Windows-1252.
func decodeLines(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	text, ok := decodeText(data)
	if !ok {
		return nil, ErrUndecodable
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), nil
}

func decodeText(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), true
	}
	for _, cm := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
		decoded, err := cm.NewDecoder().Bytes(data)
		if err == nil {
			return string(decoded), true
		}
	}
	return "", false
}

// parseCSVLine parses one raw line as a single csv record. Returns nil for
// blank or malformed lines.
func parseCSVLine(line string) []string {
	reader := csv.NewReader(strings.NewReader(strings.TrimSpace(line)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	record, err := reader.Read()
	if err != nil {
		return nil
	}
	return record
}

func parseHeader(lines []string) Metadata {
	var meta Metadata

	// Line 1: report name plus a date embedded somewhere in the second field.
	if len(lines) > 0 {
		if row := parseCSVLine(lines[0]); len(row) >= 2 {
			meta.ReportName = row[0]
			if match := reportDatePattern.FindString(row[1]); match != "" {
				if date, err := time.Parse("01/02/2006", match); err == nil {
					meta.ReportDate = &date
				}
			}
		}
	}

	// Line 2: company name.
	if len(lines) > 1 {
		if row := parseCSVLine(lines[1]); len(row) > 0 {
			meta.CompanyName = row[0]
		}
	}

	// Marker rows announce a value row immediately below them.
	for i, line := range lines {
		row := parseCSVLine(line)
		if len(row) == 0 || row[0] != assetGroupMarker {
			continue
		}
		if i+1 < len(lines) {
			if values := parseCSVLine(lines[i+1]); len(values) >= 3 {
				meta.AssetGroup = values[0]
				meta.ActiveHosts = parseOptionalInt(values[2])
			}
		}
		break
	}
	for i, line := range lines {
		row := parseCSVLine(line)
		if len(row) == 0 || row[0] != totalVulnsMarker {
			continue
		}
		if i+1 < len(lines) {
			if values := parseCSVLine(lines[i+1]); len(values) >= 2 {
				meta.TotalVulns = parseOptionalInt(values[0])
				meta.AvgRisk = parseOptionalFloat(values[1])
			}
		}
		break
	}

	return meta
}

// parseHostSummary collects the contiguous (ip, count, risk) rows following
// the "IP","Total Vulnerabilities" banner; a blank first field ends the zone.
func parseHostSummary(lines []string) []HostSummary {
	var hosts []HostSummary
	for i, line := range lines {
		row := parseCSVLine(line)
		if len(row) < 3 || row[0] != "IP" || row[1] != "Total Vulnerabilities" {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			values := parseCSVLine(lines[j])
			if len(values) == 0 || values[0] == "" {
				break
			}
			entry := HostSummary{IP: values[0]}
			if len(values) > 1 {
				if n := parseOptionalInt(values[1]); n != nil {
					entry.TotalVulns = *n
				}
			}
			if len(values) > 2 {
				if f := parseOptionalFloat(values[2]); f != nil {
					entry.SecurityRisk = *f
				}
			}
			hosts = append(hosts, entry)
		}
		break
	}
	return hosts
}

// findDetailStart locates the detail zone's header row: first three fields
// IP/DNS/NetBIOS and more than ten columns.
func findDetailStart(lines []string) (int, bool) {
	for i, line := range lines {
		row := parseCSVLine(line)
		if len(row) > 10 && row[0] == "IP" && row[1] == "DNS" && row[2] == "NetBIOS" {
			return i, true
		}
	}
	return 0, false
}

// parseDetailRows reads the detail zone with full dialect-aware quoting
// (embedded commas and newlines inside quotes) keyed by header column names.
func parseDetailRows(lines []string) ([]DetailRow, error) {
	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read detail header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []DetailRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read detail row: %w", err)
		}
		if field(record, "IP") == "" {
			continue
		}
		rows = append(rows, DetailRow{
			IP:             field(record, "IP"),
			DNS:            field(record, "DNS"),
			NetBIOS:        field(record, "NetBIOS"),
			OS:             field(record, "OS"),
			OSCPE:          field(record, "OS CPE"),
			QID:            field(record, "QID"),
			Title:          field(record, "Title"),
			VulnStatus:     field(record, "Vuln Status"),
			Type:           field(record, "Type"),
			Severity:       field(record, "Severity"),
			Port:           field(record, "Port"),
			Protocol:       field(record, "Protocol"),
			FQDN:           field(record, "FQDN"),
			SSL:            field(record, "SSL"),
			FirstDetected:  field(record, "First Detected"),
			LastDetected:   field(record, "Last Detected"),
			TimesDetected:  field(record, "Times Detected"),
			DateLastFixed:  field(record, "Date Last Fixed"),
			CVEID:          field(record, "CVE ID"),
			VendorRef:      field(record, "Vendor Reference"),
			BugtraqID:      field(record, "Bugtraq ID"),
			CVSSBase:       field(record, "CVSS Base"),
			CVSSTemporal:   field(record, "CVSS Temporal"),
			CVSS3Base:      field(record, "CVSS3.1 Base"),
			CVSS3Temporal:  field(record, "CVSS3.1 Temporal"),
			Threat:         field(record, "Threat"),
			Impact:         field(record, "Impact"),
			Solution:       field(record, "Solution"),
			Results:        field(record, "Results"),
			PCIVuln:        field(record, "PCI Vuln"),
			TicketState:    field(record, "Ticket State"),
			TrackingMethod: field(record, "Tracking Method"),
			Category:       field(record, "Category"),
		})
	}
	return rows, nil
}

func parseOptionalInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
