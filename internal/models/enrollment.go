package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Reenrollment and Contract are legacy
// transient markers: readers must recognise them (Contract counts as
// live), but no transition produces them anymore.
const (
	EnrollmentStatusPending      EnrollmentStatus = "pending"
	EnrollmentStatusActive       EnrollmentStatus = "active"
	EnrollmentStatusCancelled    EnrollmentStatus = "cancelled"
	EnrollmentStatusCompleted    EnrollmentStatus = "completed"
	EnrollmentStatusReenrollment EnrollmentStatus = "reenrollment"
	EnrollmentStatusContract     EnrollmentStatus = "contract"
)

// LiveEnrollmentStatuses are the statuses that count toward the
// one-live-enrollment-per-student rule.
var LiveEnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusPending,
	EnrollmentStatusActive,
	EnrollmentStatusContract,
}

// IsLive reports whether the status counts toward the per-student
// uniqueness rule.
func (s EnrollmentStatus) IsLive() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusActive, EnrollmentStatusContract:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition may leave the status.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCancelled || s == EnrollmentStatusCompleted
}

// Valid reports whether the value is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusActive, EnrollmentStatusCancelled,
		EnrollmentStatusCompleted, EnrollmentStatusReenrollment, EnrollmentStatusContract:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving an enrollment from one status to
// another is legal. Active to pending is legal only through the global
// reenrollment batch; callers outside the batch must reject it themselves.
func CanTransition(from, to EnrollmentStatus) bool {
	switch from {
	case EnrollmentStatusPending:
		return to == EnrollmentStatusActive || to == EnrollmentStatusCancelled
	case EnrollmentStatusActive:
		return to == EnrollmentStatusPending || to == EnrollmentStatusCancelled || to == EnrollmentStatusCompleted
	default:
		return false
	}
}

// Enrollment captures a student's registration to a course over time.
// Soft-deleted rows are excluded from every invariant check.
type Enrollment struct {
	ID              int64            `db:"id" json:"id"`
	StudentID       int64            `db:"student_id" json:"student_id"`
	CourseID        int64            `db:"course_id" json:"course_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	EnrollmentDate  time.Time        `db:"enrollment_date" json:"enrollment_date"`
	CurrentSemester int              `db:"current_semester" json:"current_semester"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time       `db:"deleted_at" json:"deleted_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName         string `db:"student_name" json:"student_name"`
	StudentRegistration string `db:"student_registration" json:"student_registration"`
	CourseName          string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID int64
	CourseID  int64
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
