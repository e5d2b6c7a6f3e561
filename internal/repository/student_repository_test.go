package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siga-edu/siga-api/internal/models"
)

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "user_id", "registration", "full_name", "phone", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow(int64(1), "user-1", "2026-0001", "Ana Souza", "555-0100", true, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM students s WHERE s.deleted_at IS NULL")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students s")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, students, 1)
	assert.Equal(t, "2026-0001", students[0].Registration)
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO students")).
		WithArgs("user-1", "2026-0001", "Ana Souza", "555-0100", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	student := &models.Student{UserID: "user-1", Registration: "2026-0001", FullName: "Ana Souza", Phone: "555-0100", Active: true}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.Equal(t, int64(11), student.ID)
}

func TestStudentRepositoryFindByUserID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "user_id", "registration", "full_name", "phone", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow(int64(1), "user-1", "2026-0001", "Ana Souza", "555-0100", true, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(rows)

	student, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), student.ID)
}

func TestStudentRepositoryExistsByRegistration(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE registration = $1")).
		WithArgs("2026-0001").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsByRegistration(context.Background(), "2026-0001", 0)
	require.NoError(t, err)
	assert.False(t, exists)
}
