package web

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

// uploads are staged in memory up to this size before spilling to disk.
const uploadMemoryLimit = 32 << 20

type jobResponse struct {
	ID            int64   `json:"id"`
	ScanReportID  int64   `json:"scan_report_id"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	StartedAt     *string `json:"started_at"`
	EndedAt       *string `json:"ended_at"`
	ErrorMessage  *string `json:"error_message"`
	RowsProcessed int     `json:"rows_processed"`
	RowsTotal     int     `json:"rows_total"`
}

func mapJob(j db.ImportJob) jobResponse {
	return jobResponse{
		ID:            j.ID,
		ScanReportID:  j.ScanReportID,
		Status:        j.Status,
		Progress:      j.Progress,
		StartedAt:     formatNullTime(j.StartedAt),
		EndedAt:       formatNullTime(j.EndedAt),
		ErrorMessage:  nullStringPtr(j.ErrorMessage),
		RowsProcessed: j.RowsProcessed,
		RowsTotal:     j.RowsTotal,
	}
}

func (s *Server) apiUploadImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.badRequest(w, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, fmt.Errorf("missing file field"))
		return
	}
	defer file.Close()

	result, importErr := s.Importer.Import(header.Filename, file)
	if importErr != nil && result.Job.ID == 0 {
		s.serverError(w, importErr)
		return
	}

	// Parse and staging failures are recorded on the job itself; the
	// client reads the status field.
	s.jsonResponse(w, struct {
		ScanReportID int64       `json:"scan_report_id"`
		Job          jobResponse `json:"job"`
	}{
		ScanReportID: result.Report.ID,
		Job:          mapJob(result.Job),
	}, http.StatusCreated)
}

func (s *Server) apiListImports(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := s.DB.ListImportJobs(limit, offset)
	if err != nil {
		s.serverError(w, err)
		return
	}
	total, err := s.DB.CountImportJobs()
	if err != nil {
		s.serverError(w, err)
		return
	}

	type listItem struct {
		jobResponse
		Filename string `json:"filename"`
		Source   string `json:"source"`
	}
	resp := struct {
		Items []listItem `json:"items"`
		Total int        `json:"total"`
	}{
		Items: make([]listItem, 0, len(items)),
		Total: total,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, listItem{
			jobResponse: mapJob(item.ImportJob),
			Filename:    item.Filename,
			Source:      item.Source,
		})
	}

	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) apiGetImport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	job, ok, err := s.DB.GetImportJob(id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !ok {
		s.notFound(w, "import job")
		return
	}
	report, ok, err := s.DB.GetScanReport(job.ScanReportID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !ok {
		s.notFound(w, "scan report")
		return
	}
	checks, err := s.DB.ListCoherenceChecks(report.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	type checkResponse struct {
		CheckType string  `json:"check_type"`
		Entity    *string `json:"entity"`
		Expected  string  `json:"expected_value"`
		Actual    string  `json:"actual_value"`
		Severity  string  `json:"severity"`
	}
	type reportResponse struct {
		ID                 int64    `json:"id"`
		Filename           string   `json:"filename"`
		ImportedAt         string   `json:"imported_at"`
		ReportDate         *string  `json:"report_date"`
		AssetGroup         *string  `json:"asset_group"`
		TotalVulnsDeclared *int64   `json:"total_vulns_declared"`
		AvgRiskDeclared    *float64 `json:"avg_risk_declared"`
		Source             string   `json:"source"`
	}

	resp := struct {
		Job             jobResponse     `json:"job"`
		Report          reportResponse  `json:"report"`
		CoherenceChecks []checkResponse `json:"coherence_checks"`
	}{
		Job: mapJob(job),
		Report: reportResponse{
			ID:                 report.ID,
			Filename:           report.Filename,
			ImportedAt:         report.ImportedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ReportDate:         formatNullTime(report.ReportDate),
			AssetGroup:         nullStringPtr(report.AssetGroup),
			TotalVulnsDeclared: nullInt64Ptr(report.TotalVulnsDeclared),
			AvgRiskDeclared:    nullFloat64Ptr(report.AvgRiskDeclared),
			Source:             report.Source,
		},
		CoherenceChecks: make([]checkResponse, 0, len(checks)),
	}
	for _, c := range checks {
		resp.CoherenceChecks = append(resp.CoherenceChecks, checkResponse{
			CheckType: c.CheckType,
			Entity:    nullStringPtr(c.Entity),
			Expected:  c.ExpectedValue,
			Actual:    c.ActualValue,
			Severity:  c.Severity,
		})
	}

	s.jsonResponse(w, resp, http.StatusOK)
}

func formatNullTime(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	formatted := t.Time.UTC().Format("2006-01-02T15:04:05Z")
	return &formatted
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func nullFloat64Ptr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
