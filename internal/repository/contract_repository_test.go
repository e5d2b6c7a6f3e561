package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siga-edu/siga-api/internal/models"
)

func TestContractRepositoryFindActiveTemplate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "name", "body", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow(int64(3), "2026 contract", "Dear {{student_name}}", true, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE active = true AND deleted_at IS NULL")).
		WillReturnRows(rows)

	template, err := repo.FindActiveTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), template.ID)
	assert.True(t, template.Active)
}

func TestContractRepositoryFindActiveTemplateNone(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE active = true AND deleted_at IS NULL")).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveTemplate(context.Background())
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestContractRepositoryCreateTemplateDemotesPrevious(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contract_templates SET active = false")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO contract_templates")).
		WithArgs("2027 contract", "body", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	template := &models.ContractTemplate{Name: "2027 contract", Body: "body", Active: true}
	err := repo.CreateTemplate(context.Background(), template)
	require.NoError(t, err)
	assert.Equal(t, int64(4), template.ID)
}

func TestContractRepositoryListByUser(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)
	now := time.Now().UTC()
	enrollmentID := int64(5)

	rows := sqlmock.NewRows([]string{"id", "user_id", "enrollment_id", "template_id", "file_path", "file_name", "accepted_at", "semester", "year", "created_at", "updated_at", "deleted_at"}).
		AddRow(int64(900), "user-1", enrollmentID, int64(3), nil, nil, now, 1, 2026, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM contracts WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(rows)

	contracts, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(900), contracts[0].ID)
	require.NotNil(t, contracts[0].EnrollmentID)
	assert.Equal(t, enrollmentID, *contracts[0].EnrollmentID)
}
