package qualys

import "strconv"

// Coherence check types.
const (
	CheckTotalVulns = "total_vulns_mismatch"
	CheckHostCount  = "host_count_mismatch"
	CheckHostVulns  = "host_vuln_mismatch"
	CheckHost       = "missing_host"
)

// Discrepancy severities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// totalVulnsTolerance is the largest declared-vs-parsed row count difference
// still reported as a warning rather than an error.
const totalVulnsTolerance = 2

// Discrepancy is one reconciliation failure between the scanner's declared
// counts and what was actually parsed. Purely observational; a discrepancy
// never blocks an import.
type Discrepancy struct {
	CheckType string
	Entity    string
	Expected  string
	Actual    string
	Severity  string
}

// Check cross-checks declared metadata and host summaries against the parsed
// detail rows. Each rule is independent; output order follows input order.
func Check(meta Metadata, summaries []HostSummary, rows []DetailRow) []Discrepancy {
	var out []Discrepancy

	perHost := make(map[string]int)
	var detailIPs []string
	for _, row := range rows {
		if _, seen := perHost[row.IP]; !seen {
			detailIPs = append(detailIPs, row.IP)
		}
		perHost[row.IP]++
	}

	if meta.TotalVulns != nil && *meta.TotalVulns != len(rows) {
		severity := SeverityError
		if abs(*meta.TotalVulns-len(rows)) <= totalVulnsTolerance {
			severity = SeverityWarning
		}
		out = append(out, Discrepancy{
			CheckType: CheckTotalVulns,
			Expected:  strconv.Itoa(*meta.TotalVulns),
			Actual:    strconv.Itoa(len(rows)),
			Severity:  severity,
		})
	}

	if meta.ActiveHosts != nil && *meta.ActiveHosts != len(perHost) {
		out = append(out, Discrepancy{
			CheckType: CheckHostCount,
			Expected:  strconv.Itoa(*meta.ActiveHosts),
			Actual:    strconv.Itoa(len(perHost)),
			Severity:  SeverityWarning,
		})
	}

	summaryIPs := make(map[string]struct{}, len(summaries))
	for _, hs := range summaries {
		summaryIPs[hs.IP] = struct{}{}
		// A summarized host with no detail rows counts as zero here and
		// is also reported as missing below.
		if actual := perHost[hs.IP]; actual != hs.TotalVulns {
			out = append(out, Discrepancy{
				CheckType: CheckHostVulns,
				Entity:    hs.IP,
				Expected:  strconv.Itoa(hs.TotalVulns),
				Actual:    strconv.Itoa(actual),
				Severity:  SeverityWarning,
			})
		}
	}

	for _, hs := range summaries {
		if _, present := perHost[hs.IP]; !present {
			out = append(out, Discrepancy{
				CheckType: CheckHost,
				Entity:    hs.IP,
				Expected:  "present_in_summary",
				Actual:    "absent_from_detail",
				Severity:  SeverityError,
			})
		}
	}

	for _, ip := range detailIPs {
		if _, summarized := summaryIPs[ip]; !summarized {
			out = append(out, Discrepancy{
				CheckType: CheckHost,
				Entity:    ip,
				Expected:  "absent_from_summary",
				Actual:    "present_in_detail",
				Severity:  SeverityWarning,
			})
		}
	}

	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
