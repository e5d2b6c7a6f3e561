package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/pkg/database"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

// ReenrollmentRepository owns the period stamps and the two transactional
// choreographies of the reenrollment lifecycle: the global batch and the
// per-student acceptance.
type ReenrollmentRepository struct {
	db *sqlx.DB
}

// NewReenrollmentRepository constructs the repository.
func NewReenrollmentRepository(db *sqlx.DB) *ReenrollmentRepository {
	return &ReenrollmentRepository{db: db}
}

// mapTxError translates engine-level concurrency failures into the
// retryable sentinel. Unique violations on the period stamp mean the batch
// already ran for that semester/year.
func mapTxError(err error) error {
	if database.IsRetryableTxError(err) {
		return appErrors.Wrap(err, appErrors.ErrTransactionAborted.Code, appErrors.ErrTransactionAborted.Status, appErrors.ErrTransactionAborted.Message)
	}
	if database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "reenrollment already processed for this period")
	}
	return err
}

// TransitionAllActiveToPending flips every active enrollment to pending and
// stamps each one with an open reenrollment record for the given period.
// The whole batch is a single statement inside one REPEATABLE READ
// transaction, so it either applies to all matching rows or to none.
// Returns the affected enrollment ids in ascending order.
func (r *ReenrollmentRepository) TransitionAllActiveToPending(ctx context.Context, semester, year int, now time.Time) (ids []int64, err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `WITH moved AS (
    UPDATE enrollments
    SET status = 'pending', updated_at = $3
    WHERE status = 'active' AND deleted_at IS NULL
    RETURNING id
)
INSERT INTO reenrollments (enrollment_id, semester, year, created_at, updated_at)
SELECT id, $1, $2, $3, $3 FROM moved
RETURNING enrollment_id`
	if err = tx.SelectContext(ctx, &ids, query, semester, year, now); err != nil {
		err = mapTxError(fmt.Errorf("process reenrollment batch: %w", err))
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = mapTxError(fmt.Errorf("commit reenrollment batch: %w", err))
		return nil, err
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type acceptRow struct {
	EnrollmentID    int64                   `db:"enrollment_id"`
	StudentID       int64                   `db:"student_id"`
	CourseID        int64                   `db:"course_id"`
	Status          models.EnrollmentStatus `db:"status"`
	EnrollmentDate  time.Time               `db:"enrollment_date"`
	CurrentSemester int                     `db:"current_semester"`
	CreatedAt       time.Time               `db:"created_at"`
	StampID         sql.NullInt64           `db:"stamp_id"`
	Semester        sql.NullInt64           `db:"semester"`
	Year            sql.NullInt64           `db:"year"`
}

// AcceptPending accepts one pending reenrollment on behalf of its student:
// the enrollment goes back to active, the open stamp is closed, and the
// contract row is created, all in one transaction. The enrollment row is
// locked first so two concurrent accepts serialize and the loser observes
// the closed stamp. Returns sql.ErrNoRows when the enrollment does not
// exist, ErrForbidden when it belongs to another student and
// ErrPreconditionFailed when it is not pending by reenrollment.
func (r *ReenrollmentRepository) AcceptPending(ctx context.Context, enrollmentID, studentID int64, userID string, templateID int64, now time.Time) (enrollment *models.Enrollment, contract *models.Contract, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT e.id AS enrollment_id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.created_at,
    r.id AS stamp_id, r.semester, r.year
    FROM enrollments e
    LEFT JOIN reenrollments r ON r.enrollment_id = e.id AND r.accepted_at IS NULL AND r.deleted_at IS NULL
    WHERE e.id = $1 AND e.deleted_at IS NULL
    FOR UPDATE OF e`
	var row acceptRow
	if err = tx.GetContext(ctx, &row, lockQuery, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, sql.ErrNoRows
		}
		err = mapTxError(fmt.Errorf("lock enrollment for acceptance: %w", err))
		return nil, nil, err
	}

	if studentID != 0 && row.StudentID != studentID {
		err = appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		return nil, nil, err
	}
	if row.Status != models.EnrollmentStatusPending {
		err = appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not pending")
		return nil, nil, err
	}
	if !row.StampID.Valid {
		err = appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment has no open reenrollment for this period")
		return nil, nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE enrollments SET status = 'active', updated_at = $2 WHERE id = $1`,
		enrollmentID, now); err != nil {
		err = mapTxError(fmt.Errorf("activate enrollment: %w", err))
		return nil, nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE reenrollments SET accepted_at = $2, updated_at = $2 WHERE id = $1`,
		row.StampID.Int64, now); err != nil {
		err = mapTxError(fmt.Errorf("close reenrollment stamp: %w", err))
		return nil, nil, err
	}

	contract = &models.Contract{
		UserID:       userID,
		EnrollmentID: &enrollmentID,
		TemplateID:   templateID,
		AcceptedAt:   &now,
		Semester:     int(row.Semester.Int64),
		Year:         int(row.Year.Int64),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	const contractQuery = `INSERT INTO contracts (user_id, enrollment_id, template_id, accepted_at, semester, year, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
	if err = tx.GetContext(ctx, &contract.ID, contractQuery,
		contract.UserID, contract.EnrollmentID, contract.TemplateID,
		contract.AcceptedAt, contract.Semester, contract.Year, now); err != nil {
		err = mapTxError(fmt.Errorf("create contract: %w", err))
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		err = mapTxError(fmt.Errorf("commit acceptance: %w", err))
		return nil, nil, err
	}

	enrollment = &models.Enrollment{
		ID:              row.EnrollmentID,
		StudentID:       row.StudentID,
		CourseID:        row.CourseID,
		Status:          models.EnrollmentStatusActive,
		EnrollmentDate:  row.EnrollmentDate,
		CurrentSemester: row.CurrentSemester,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       now,
	}
	return enrollment, contract, nil
}

// PreviewRow loads the read-only join used to render a contract preview.
// No locks are taken. The stamp side of the join is optional so callers can
// tell a missing enrollment (sql.ErrNoRows) apart from an enrollment with
// no open stamp (null stamp id), mirroring the acceptance lock query.
func (r *ReenrollmentRepository) PreviewRow(ctx context.Context, enrollmentID int64) (*models.ReenrollmentPreviewRow, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, s.user_id AS student_user_id,
    s.full_name AS student_name, s.registration AS student_registration,
    c.name AS course_name, e.status, e.enrollment_date,
    r.id AS stamp_id, COALESCE(r.semester, 0) AS semester, COALESCE(r.year, 0) AS year, r.accepted_at
    FROM enrollments e
    JOIN students s ON s.id = e.student_id
    JOIN courses c ON c.id = e.course_id
    LEFT JOIN reenrollments r ON r.enrollment_id = e.id AND r.accepted_at IS NULL AND r.deleted_at IS NULL
    WHERE e.id = $1 AND e.deleted_at IS NULL`
	var row models.ReenrollmentPreviewRow
	if err := r.db.GetContext(ctx, &row, query, enrollmentID); err != nil {
		return nil, err
	}
	return &row, nil
}

// PeriodCounts aggregates acceptance progress for one semester/year.
func (r *ReenrollmentRepository) PeriodCounts(ctx context.Context, semester, year int) (*models.ReenrollmentPeriodCounts, error) {
	const query = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE accepted_at IS NOT NULL) AS accepted
    FROM reenrollments
    WHERE semester = $1 AND year = $2 AND deleted_at IS NULL`
	var counts models.ReenrollmentPeriodCounts
	if err := r.db.GetContext(ctx, &counts, query, semester, year); err != nil {
		return nil, fmt.Errorf("aggregate reenrollment period: %w", err)
	}
	return &counts, nil
}

// ListForPeriod returns the per-enrollment stamps of one period with student
// and course context, used by roster exports.
func (r *ReenrollmentRepository) ListForPeriod(ctx context.Context, semester, year int) ([]models.ReenrollmentPreviewRow, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, s.user_id AS student_user_id,
    s.full_name AS student_name, s.registration AS student_registration,
    c.name AS course_name, e.status, e.enrollment_date, r.id AS stamp_id, r.semester, r.year, r.accepted_at
    FROM reenrollments r
    JOIN enrollments e ON e.id = r.enrollment_id
    JOIN students s ON s.id = e.student_id
    JOIN courses c ON c.id = e.course_id
    WHERE r.semester = $1 AND r.year = $2 AND r.deleted_at IS NULL
    ORDER BY s.full_name ASC, e.id ASC`
	var rows []models.ReenrollmentPreviewRow
	if err := r.db.SelectContext(ctx, &rows, query, semester, year); err != nil {
		return nil, fmt.Errorf("list reenrollment period: %w", err)
	}
	return rows, nil
}
