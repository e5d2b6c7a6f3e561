package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/pkg/export"
	"github.com/siga-edu/siga-api/pkg/storage"
)

type rosterRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type periodRosterRepository interface {
	ListForPeriod(ctx context.Context, semester, year int) ([]models.ReenrollmentPreviewRow, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds roster datasets and persists rendered files.
type ExportService struct {
	enrollments   rosterRepository
	reenrollments periodRosterRepository
	storage       fileStorage
	csv           csvRenderer
	pdf           pdfRenderer
	signer        *storage.SignedURLSigner
	logger        *zap.Logger
	cfg           ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(enrollments rosterRepository, reenrollments periodRosterRepository, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		enrollments:   enrollments,
		reenrollments: reenrollments,
		storage:       storage,
		csv:           csv,
		pdf:           pdf,
		signer:        signer,
		logger:        logger,
		cfg:           cfg,
	}
}

// Generate builds the dataset described by the job and stores the rendered
// export file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	periodPart := fmt.Sprintf("%d_%d", job.Params.Year, job.Params.Semester)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), periodPart, timestamp, job.Params.Format)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeEnrollments:
		return s.buildEnrollmentDataset(ctx, job.Params)
	case models.ReportTypeReenrollment:
		return s.buildReenrollmentDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildEnrollmentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.EnrollmentFilter{
		Status:   params.Status,
		Page:     1,
		PageSize: 100,
		SortBy:   "student_name",
	}
	var rows []models.EnrollmentDetail
	for {
		page, _, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		rows = append(rows, page...)
		if len(page) < filter.PageSize {
			break
		}
		filter.Page++
	}

	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Enrollment ID": fmt.Sprintf("%d", row.ID),
			"Student":       row.StudentName,
			"Registration":  row.StudentRegistration,
			"Course":        row.CourseName,
			"Status":        string(row.Status),
			"Enrolled At":   row.EnrollmentDate.UTC().Format("2006-01-02"),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Enrollment ID", "Student", "Registration", "Course", "Status", "Enrolled At"},
		Rows:    dataRows,
	}
	title := "Enrollment Roster"
	if params.Status != "" {
		title = fmt.Sprintf("Enrollment Roster (%s)", params.Status)
	}
	return dataset, title, nil
}

func (s *ExportService) buildReenrollmentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	rows, err := s.reenrollments.ListForPeriod(ctx, params.Semester, params.Year)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		accepted := "outstanding"
		if row.AcceptedAt != nil {
			accepted = row.AcceptedAt.UTC().Format("2006-01-02 15:04")
		}
		dataRows = append(dataRows, map[string]string{
			"Enrollment ID": fmt.Sprintf("%d", row.EnrollmentID),
			"Student":       row.StudentName,
			"Registration":  row.StudentRegistration,
			"Course":        row.CourseName,
			"Status":        string(row.Status),
			"Accepted":      accepted,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Enrollment ID", "Student", "Registration", "Course", "Status", "Accepted"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Reenrollment Progress %d/%d", params.Year, params.Semester)
	return dataset, title, nil
}
