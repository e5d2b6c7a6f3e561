package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/siga-edu/siga-api/internal/dto"
	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

type mockReenrollmentRepo struct {
	batchIDs     []int64
	batchErr     error
	batchCalls   int
	acceptErr    error
	acceptCalls  int
	previewRow   *models.ReenrollmentPreviewRow
	counts       models.ReenrollmentPeriodCounts
	lastSemester int
	lastYear     int
	countCalls   int
}

func (m *mockReenrollmentRepo) TransitionAllActiveToPending(ctx context.Context, semester, year int, now time.Time) ([]int64, error) {
	m.batchCalls++
	m.lastSemester = semester
	m.lastYear = year
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	ids := m.batchIDs
	m.batchIDs = nil
	return ids, nil
}

func (m *mockReenrollmentRepo) AcceptPending(ctx context.Context, enrollmentID, studentID int64, userID string, templateID int64, now time.Time) (*models.Enrollment, *models.Contract, error) {
	m.acceptCalls++
	if m.acceptErr != nil {
		return nil, nil, m.acceptErr
	}
	enrollment := &models.Enrollment{ID: enrollmentID, StudentID: studentID, Status: models.EnrollmentStatusActive}
	contract := &models.Contract{
		ID:           900,
		UserID:       userID,
		EnrollmentID: &enrollmentID,
		TemplateID:   templateID,
		AcceptedAt:   &now,
		Semester:     1,
		Year:         2026,
	}
	return enrollment, contract, nil
}

func (m *mockReenrollmentRepo) PreviewRow(ctx context.Context, enrollmentID int64) (*models.ReenrollmentPreviewRow, error) {
	if m.previewRow == nil {
		return nil, sql.ErrNoRows
	}
	return m.previewRow, nil
}

func (m *mockReenrollmentRepo) PeriodCounts(ctx context.Context, semester, year int) (*models.ReenrollmentPeriodCounts, error) {
	m.countCalls++
	counts := m.counts
	return &counts, nil
}

type mockTemplateReader struct {
	template *models.ContractTemplate
}

func (m *mockTemplateReader) FindActiveTemplate(ctx context.Context) (*models.ContractTemplate, error) {
	if m.template == nil {
		return nil, sql.ErrNoRows
	}
	return m.template, nil
}

type mockUserReader struct {
	users map[string]models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type reenrollmentFixture struct {
	svc      *ReenrollmentService
	repo     *mockReenrollmentRepo
	enroll   *mockEnrollmentRepo
	students *mockStudentReader
	audit    *mockAuditWriter
}

func newReenrollmentFixture(t *testing.T) *reenrollmentFixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &mockReenrollmentRepo{}
	enroll := &mockEnrollmentRepo{enrollments: map[int64]models.Enrollment{}, live: map[int64]models.Enrollment{}}
	students := &mockStudentReader{
		students: map[int64]models.Student{
			10: {ID: 10, UserID: "user-10", Registration: "2026-0010", FullName: "Ana Souza", Active: true},
		},
		byUser: map[string]models.Student{
			"user-10": {ID: 10, UserID: "user-10", Registration: "2026-0010", FullName: "Ana Souza", Active: true},
		},
	}
	templates := &mockTemplateReader{template: &models.ContractTemplate{ID: 3, Name: "2026 contract", Body: "Dear {{student_name}} ({{registration}}), {{course_name}} {{semester}}/{{year}}.", Active: true}}
	users := &mockUserReader{users: map[string]models.User{
		"admin-1": {ID: "admin-1", Role: models.RoleAdmin, PasswordHash: string(hash), Active: true},
	}}
	audit := &mockAuditWriter{}

	svc := NewReenrollmentService(repo, enroll, students, templates, users, audit, nil, time.Minute, nil, nil)
	return &reenrollmentFixture{svc: svc, repo: repo, enroll: enroll, students: students, audit: audit}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-10", Role: models.RoleStudent}
}

func TestReenrollmentServiceProcessAllMovesActiveEnrollments(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.batchIDs = []int64{1, 2, 3}

	result, err := f.svc.ProcessAll(context.Background(), adminClaims(), dto.ProcessAllRequest{
		Semester: 1, Year: 2026, AdminPassword: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalStudents)
	assert.Equal(t, []int64{1, 2, 3}, result.AffectedEnrollmentIDs)
	assert.Equal(t, 1, f.repo.lastSemester)
	assert.Equal(t, 2026, f.repo.lastYear)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionReenrollmentBatch, f.audit.logs[0].Action)
}

func TestReenrollmentServiceProcessAllWrongPasswordWritesNothing(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.batchIDs = []int64{1, 2, 3}

	_, err := f.svc.ProcessAll(context.Background(), adminClaims(), dto.ProcessAllRequest{
		Semester: 1, Year: 2026, AdminPassword: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.Zero(t, f.repo.batchCalls)
	assert.Empty(t, f.audit.logs)
}

func TestReenrollmentServiceProcessAllSecondRunIsIdempotent(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.batchIDs = []int64{1, 2}

	first, err := f.svc.ProcessAll(context.Background(), adminClaims(), dto.ProcessAllRequest{
		Semester: 2, Year: 2026, AdminPassword: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalStudents)

	second, err := f.svc.ProcessAll(context.Background(), adminClaims(), dto.ProcessAllRequest{
		Semester: 2, Year: 2027, AdminPassword: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalStudents)
	assert.Empty(t, second.AffectedEnrollmentIDs)
}

func TestReenrollmentServiceProcessAllInvalidPayload(t *testing.T) {
	f := newReenrollmentFixture(t)

	_, err := f.svc.ProcessAll(context.Background(), adminClaims(), dto.ProcessAllRequest{
		Semester: 3, Year: 2026, AdminPassword: "s3cret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, f.repo.batchCalls)
}

func TestReenrollmentServiceAcceptCreatesContract(t *testing.T) {
	f := newReenrollmentFixture(t)

	result, err := f.svc.Accept(context.Background(), studentClaims(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	assert.Equal(t, "user-10", result.Contract.UserID)
	require.NotNil(t, result.Contract.EnrollmentID)
	assert.Equal(t, int64(5), *result.Contract.EnrollmentID)
	assert.NotNil(t, result.Contract.AcceptedAt)
	assert.Nil(t, result.Contract.FilePath)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionReenrollmentAccept, f.audit.logs[0].Action)
}

func TestReenrollmentServiceAcceptWithoutTemplate(t *testing.T) {
	f := newReenrollmentFixture(t)
	svc := NewReenrollmentService(f.repo, f.enroll, f.students, &mockTemplateReader{}, &mockUserReader{}, f.audit, nil, time.Minute, nil, nil)

	_, err := svc.Accept(context.Background(), studentClaims(), 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Zero(t, f.repo.acceptCalls)
}

func TestReenrollmentServiceAcceptLoserGetsPreconditionFailed(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.acceptErr = appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment has no open reenrollment for this period")

	_, err := f.svc.Accept(context.Background(), studentClaims(), 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.audit.logs)
}

func TestReenrollmentServiceAcceptUnknownEnrollment(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.acceptErr = sql.ErrNoRows

	_, err := f.svc.Accept(context.Background(), studentClaims(), 99)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReenrollmentServiceAcceptForbiddenForTeacher(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.enroll.enrollments[5] = models.Enrollment{ID: 5, StudentID: 10, Status: models.EnrollmentStatusPending}

	_, err := f.svc.Accept(context.Background(), &models.JWTClaims{UserID: "user-77", Role: models.RoleTeacher}, 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Zero(t, f.repo.acceptCalls)
	assert.Empty(t, f.audit.logs)
}

func TestReenrollmentServicePreviewRendersTemplate(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.previewRow = &models.ReenrollmentPreviewRow{
		EnrollmentID:        5,
		StudentID:           10,
		StudentUserID:       "user-10",
		StudentName:         "Ana Souza",
		StudentRegistration: "2026-0010",
		CourseName:          "Computer Science",
		Status:              models.EnrollmentStatusPending,
		EnrollmentDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		StampID:             sql.NullInt64{Int64: 7, Valid: true},
		Semester:            1,
		Year:                2026,
	}

	preview, err := f.svc.Preview(context.Background(), studentClaims(), 5)
	require.NoError(t, err)
	assert.Equal(t, "Dear Ana Souza (2026-0010), Computer Science 1/2026.", preview.Content)
	assert.Equal(t, int64(3), preview.TemplateID)
}

func TestReenrollmentServicePreviewForbiddenForOtherStudent(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.previewRow = &models.ReenrollmentPreviewRow{
		EnrollmentID:  5,
		StudentUserID: "user-99",
		Status:        models.EnrollmentStatusPending,
		StampID:       sql.NullInt64{Int64: 7, Valid: true},
	}

	_, err := f.svc.Preview(context.Background(), studentClaims(), 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReenrollmentServicePreviewForbiddenForTeacher(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.previewRow = &models.ReenrollmentPreviewRow{
		EnrollmentID:  5,
		StudentUserID: "user-10",
		Status:        models.EnrollmentStatusPending,
		StampID:       sql.NullInt64{Int64: 7, Valid: true},
	}

	_, err := f.svc.Preview(context.Background(), &models.JWTClaims{UserID: "user-77", Role: models.RoleTeacher}, 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReenrollmentServicePreviewUnknownEnrollment(t *testing.T) {
	f := newReenrollmentFixture(t)

	_, err := f.svc.Preview(context.Background(), studentClaims(), 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReenrollmentServicePreviewWithoutOpenStamp(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.previewRow = &models.ReenrollmentPreviewRow{
		EnrollmentID:  5,
		StudentUserID: "user-10",
		Status:        models.EnrollmentStatusPending,
	}

	_, err := f.svc.Preview(context.Background(), studentClaims(), 5)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestReenrollmentServiceSummary(t *testing.T) {
	f := newReenrollmentFixture(t)
	f.repo.counts = models.ReenrollmentPeriodCounts{Total: 120, Accepted: 45}

	summary, err := f.svc.Summary(context.Background(), 1, 2026)
	require.NoError(t, err)
	assert.Equal(t, 120, summary.Total)
	assert.Equal(t, 45, summary.Accepted)
	assert.Equal(t, 75, summary.Outstanding)
}

func TestReenrollmentServiceSummaryRejectsBadPeriod(t *testing.T) {
	f := newReenrollmentFixture(t)

	_, err := f.svc.Summary(context.Background(), 4, 2026)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, f.repo.countCalls)
}
