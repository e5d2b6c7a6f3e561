package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func enrollmentRows(id, studentID int64, status models.EnrollmentStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "enrollment_date", "current_semester", "created_at", "updated_at", "deleted_at"}).
		AddRow(id, studentID, int64(7), status, now, 1, now, now, nil)
}

func TestEnrollmentRepositoryCreateGuardedInsertsWhenNoLiveEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'active', 'contract')")).
		WithArgs(int64(10)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(int64(10), int64(7), models.EnrollmentStatusPending, sqlmock.AnyArg(), 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: 10, CourseID: 7, CurrentSemester: 1}
	err := repo.CreateGuarded(context.Background(), enrollment)
	require.NoError(t, err)
	assert.Equal(t, int64(42), enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
}

func TestEnrollmentRepositoryCreateGuardedRejectsSecondLiveEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'active', 'contract')")).
		WithArgs(int64(10)).
		WillReturnRows(enrollmentRows(5, 10, models.EnrollmentStatusActive))
	mock.ExpectRollback()

	err := repo.CreateGuarded(context.Background(), &models.Enrollment{StudentID: 10, CourseID: 7})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRepositoryCreateGuardedMissingStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.CreateGuarded(context.Background(), &models.Enrollment{StudentID: 99, CourseID: 7})
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestEnrollmentRepositoryUpdateStatusGuardedCompareAndSet(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs(models.EnrollmentStatusCancelled, now, int64(5), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatusGuarded(context.Background(), 5, 10, models.EnrollmentStatusPending, models.EnrollmentStatusCancelled, now)
	require.NoError(t, err)
}

func TestEnrollmentRepositoryUpdateStatusGuardedLostRace(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WithArgs(models.EnrollmentStatusCancelled, now, int64(5), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM enrollments WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.EnrollmentStatusActive))
	mock.ExpectRollback()

	err := repo.UpdateStatusGuarded(context.Background(), 5, 10, models.EnrollmentStatusPending, models.EnrollmentStatusCancelled, now)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRepositoryUpdateStatusGuardedLocksStudentForLiveTarget(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'active', 'contract')")).
		WithArgs(int64(10), int64(5)).
		WillReturnRows(enrollmentRows(6, 10, models.EnrollmentStatusPending))
	mock.ExpectRollback()

	err := repo.UpdateStatusGuarded(context.Background(), 5, 10, models.EnrollmentStatusPending, models.EnrollmentStatusActive, now)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRepositoryFindLiveByStudentNoConflict(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'active', 'contract')")).
		WithArgs(int64(10)).
		WillReturnError(sql.ErrNoRows)

	enrollment, err := repo.FindLiveByStudent(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Nil(t, enrollment)
}

func TestEnrollmentRepositorySoftDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET deleted_at")).
		WithArgs(int64(99), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), 99, now)
	assert.Equal(t, sql.ErrNoRows, err)
}
