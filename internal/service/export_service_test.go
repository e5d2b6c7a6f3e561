package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/pkg/export"
	"github.com/siga-edu/siga-api/pkg/storage"
)

type rosterStub struct{}

func (rosterStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if filter.Page > 1 {
		return nil, 1, nil
	}
	return []models.EnrollmentDetail{
		{
			Enrollment: models.Enrollment{
				ID:             1,
				StudentID:      10,
				CourseID:       7,
				Status:         models.EnrollmentStatusActive,
				EnrollmentDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			},
			StudentName:         "Ana Souza",
			StudentRegistration: "2026-0010",
			CourseName:          "Computer Science",
		},
	}, 1, nil
}

type periodRosterStub struct{}

func (periodRosterStub) ListForPeriod(ctx context.Context, semester, year int) ([]models.ReenrollmentPreviewRow, error) {
	accepted := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)
	return []models.ReenrollmentPreviewRow{
		{EnrollmentID: 1, StudentName: "Ana Souza", StudentRegistration: "2026-0010", CourseName: "Computer Science", Status: models.EnrollmentStatusActive, Semester: semester, Year: year, AcceptedAt: &accepted},
		{EnrollmentID: 2, StudentName: "Bruno Lima", StudentRegistration: "2026-0011", CourseName: "Computer Science", Status: models.EnrollmentStatusPending, Semester: semester, Year: year},
	}, nil
}

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	svc := NewExportService(rosterStub{}, periodRosterStub{}, store, signer, cfg, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, store
}

func TestExportServiceGenerateEnrollmentCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeEnrollments,
		Params:    models.ReportJobParams{Status: models.EnrollmentStatusActive, Format: models.ReportFormatCSV},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, result.RelativePath)
	require.Contains(t, result.URL, "/export/")

	path := store.Path(result.RelativePath)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportServiceGenerateReenrollmentPDF(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeReenrollment,
		Params:    models.ReportJobParams{Semester: 1, Year: 2026, Format: models.ReportFormatPDF},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatPDF, result.Format)

	path := filepath.Clean(store.Path(result.RelativePath))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
