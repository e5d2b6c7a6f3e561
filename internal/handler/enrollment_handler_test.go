package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/siga-edu/siga-api/internal/middleware"
	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/internal/service"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

type enrollmentRepoStub struct {
	enrollments map[int64]models.Enrollment
	conflict    bool
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	if e, ok := s.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	if e, ok := s.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) CreateGuarded(ctx context.Context, enrollment *models.Enrollment) error {
	if s.conflict {
		return appErrors.Clone(appErrors.ErrConflict, "student already has a live enrollment")
	}
	enrollment.ID = 42
	if s.enrollments == nil {
		s.enrollments = map[int64]models.Enrollment{}
	}
	s.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (s *enrollmentRepoStub) UpdateStatusGuarded(ctx context.Context, id int64, studentID int64, from, to models.EnrollmentStatus, now time.Time) error {
	e, ok := s.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = to
	s.enrollments[id] = e
	return nil
}

func (s *enrollmentRepoStub) Update(ctx context.Context, id int64, courseID int64, enrollmentDate time.Time, now time.Time) error {
	return nil
}

func (s *enrollmentRepoStub) SoftDelete(ctx context.Context, id int64, now time.Time) error {
	if _, ok := s.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

type courseReaderStub struct{}

func (courseReaderStub) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	return &models.Course{ID: id, Code: "CS", Name: "Computer Science", Semesters: 8, Active: true}, nil
}

func newEnrollmentHandler(repo *enrollmentRepoStub) *EnrollmentHandler {
	svc := service.NewEnrollmentService(repo, studentReaderStub{}, courseReaderStub{}, auditWriterStub{}, nil, nil)
	return NewEnrollmentHandler(svc)
}

func TestEnrollmentHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandler(&enrollmentRepoStub{})

	payload, _ := json.Marshal(service.EnrollStudentRequest{StudentID: 10, CourseID: 7})
	c, w := newGinContext(http.MethodPost, "/enrollments", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestEnrollmentHandlerCreateConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandler(&enrollmentRepoStub{conflict: true})

	payload, _ := json.Marshal(service.EnrollStudentRequest{StudentID: 10, CourseID: 7})
	c, w := newGinContext(http.MethodPost, "/enrollments", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestEnrollmentHandlerChangeStatusIllegal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &enrollmentRepoStub{enrollments: map[int64]models.Enrollment{
		5: {ID: 5, StudentID: 10, CourseID: 7, Status: models.EnrollmentStatusCompleted},
	}}
	handler := newEnrollmentHandler(repo)

	payload, _ := json.Marshal(service.ChangeStatusRequest{Status: models.EnrollmentStatusActive})
	c, w := newGinContext(http.MethodPut, "/enrollments/5/status", payload)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.ChangeStatus(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEnrollmentHandlerGetInvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandler(&enrollmentRepoStub{})

	c, w := newGinContext(http.MethodGet, "/enrollments/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	handler.Get(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
