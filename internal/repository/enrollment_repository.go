package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

// EnrollmentRepository handles persistence of enrollments. Every guarded
// mutation acquires a row lock on the student before scanning for live
// enrollments, so two concurrent writers for the same student serialize
// instead of both observing "no conflict".
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, status, enrollment_date, current_semester, created_at, updated_at, deleted_at`

// List returns enrollments filtered by the provided criteria. Soft-deleted
// rows are always excluded.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	conditions := []string{"e.deleted_at IS NULL"}
	var args []interface{}

	if filter.StudentID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"enrollment_date": "e.enrollment_date",
		"status":          "e.status",
		"student_name":    "s.full_name",
		"course_name":     "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrollment_date"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrollment_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.created_at, e.updated_at, e.deleted_at,
        s.full_name AS student_name, s.registration AS student_registration, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns a non-deleted enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 AND deleted_at IS NULL`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.created_at, e.updated_at, e.deleted_at,
        s.full_name AS student_name, s.registration AS student_registration, c.name AS course_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1 AND e.deleted_at IS NULL`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByStudent returns all non-deleted enrollments for a student,
// including terminal history rows.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND deleted_at IS NULL ORDER BY enrollment_date DESC, id DESC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// FindLiveByStudent scans for a non-deleted enrollment of the student in a
// live status, optionally excluding one id (the row being mutated).
// Returns nil when no conflict exists.
func (r *EnrollmentRepository) FindLiveByStudent(ctx context.Context, studentID, excludeID int64) (*models.Enrollment, error) {
	return findLiveByStudent(ctx, r.db, studentID, excludeID)
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func findLiveByStudent(ctx context.Context, q queryer, studentID, excludeID int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND status IN ('pending', 'active', 'contract') AND deleted_at IS NULL`, enrollmentColumns)
	args := []interface{}{studentID}
	if excludeID != 0 {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var enrollment models.Enrollment
	if err := q.GetContext(ctx, &enrollment, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan live enrollments: %w", err)
	}
	return &enrollment, nil
}

// lockStudent takes a row lock on the student key so concurrent enrollment
// writers for the same student serialize. Missing rows map to sql.ErrNoRows.
func lockStudent(ctx context.Context, q queryer, studentID int64) error {
	const query = `SELECT id FROM students WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	var id int64
	if err := q.GetContext(ctx, &id, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock student: %w", err)
	}
	return nil
}

// CreateGuarded persists a new pending enrollment after verifying, inside
// the same transaction, that the student holds no other live enrollment.
// Returns sql.ErrNoRows when the student is missing and ErrConflict when a
// live enrollment exists; nothing is written in either case.
func (r *EnrollmentRepository) CreateGuarded(ctx context.Context, enrollment *models.Enrollment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockStudent(ctx, tx, enrollment.StudentID); err != nil {
		return err
	}

	conflict, err := findLiveByStudent(ctx, tx, enrollment.StudentID, 0)
	if err != nil {
		return err
	}
	if conflict != nil {
		err = appErrors.Clone(appErrors.ErrConflict, "student already has a live enrollment")
		return err
	}

	now := time.Now().UTC()
	if enrollment.EnrollmentDate.IsZero() {
		enrollment.EnrollmentDate = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now

	const insertQuery = `INSERT INTO enrollments (student_id, course_id, status, enrollment_date, current_semester, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err = tx.GetContext(ctx, &enrollment.ID, insertQuery,
		enrollment.StudentID, enrollment.CourseID, enrollment.Status,
		enrollment.EnrollmentDate, enrollment.CurrentSemester, enrollment.CreatedAt, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// UpdateStatusGuarded transitions an enrollment between statuses with a
// compare-and-set on the expected current status. When the target status is
// live, the student key is locked and re-scanned (excluding this row) inside
// the same transaction. Returns sql.ErrNoRows when the row is gone and
// ErrConflict when the row changed concurrently or another live enrollment
// exists.
func (r *EnrollmentRepository) UpdateStatusGuarded(ctx context.Context, id int64, studentID int64, from, to models.EnrollmentStatus, now time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if to.IsLive() {
		if err = lockStudent(ctx, tx, studentID); err != nil {
			return err
		}
		var conflict *models.Enrollment
		conflict, err = findLiveByStudent(ctx, tx, studentID, id)
		if err != nil {
			return err
		}
		if conflict != nil {
			err = appErrors.Clone(appErrors.ErrConflict, "student already has a live enrollment")
			return err
		}
	}

	const updateQuery = `UPDATE enrollments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND deleted_at IS NULL`
	result, err := tx.ExecContext(ctx, updateQuery, to, now, id, from)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if affected == 0 {
		var current models.EnrollmentStatus
		err = tx.GetContext(ctx, &current, `SELECT status FROM enrollments WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("reload enrollment status: %w", err)
		}
		err = appErrors.Clone(appErrors.ErrConflict, "enrollment was modified concurrently")
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment status: %w", err)
	}
	return nil
}

// Update mutates non-status fields of an enrollment.
func (r *EnrollmentRepository) Update(ctx context.Context, id int64, courseID int64, enrollmentDate time.Time, now time.Time) error {
	const query = `UPDATE enrollments SET course_id = $2, enrollment_date = $3, updated_at = $4 WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, courseID, enrollmentDate, now)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks an enrollment as logically removed.
func (r *EnrollmentRepository) SoftDelete(ctx context.Context, id int64, now time.Time) error {
	const query = `UPDATE enrollments SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("soft delete enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete enrollment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
