package models

import (
	"database/sql"
	"time"
)

// Reenrollment is the period stamp written by the global batch when it
// moves an active enrollment back to pending. An open stamp (accepted_at
// null) is what distinguishes a reenrollment-originated pending enrollment
// from one created by initial signup.
type Reenrollment struct {
	ID           int64      `db:"id" json:"id"`
	EnrollmentID int64      `db:"enrollment_id" json:"enrollment_id"`
	Semester     int        `db:"semester" json:"semester"`
	Year         int        `db:"year" json:"year"`
	AcceptedAt   *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ReenrollmentPreviewRow joins an enrollment with its open period stamp
// (when one exists) and the student and course context needed to render a
// contract. StampID is null when the enrollment has no open stamp.
type ReenrollmentPreviewRow struct {
	EnrollmentID        int64            `db:"enrollment_id"`
	StudentID           int64            `db:"student_id"`
	StudentUserID       string           `db:"student_user_id"`
	StudentName         string           `db:"student_name"`
	StudentRegistration string           `db:"student_registration"`
	CourseName          string           `db:"course_name"`
	Status              EnrollmentStatus `db:"status"`
	EnrollmentDate      time.Time        `db:"enrollment_date"`
	StampID             sql.NullInt64    `db:"stamp_id"`
	Semester            int              `db:"semester"`
	Year                int              `db:"year"`
	AcceptedAt          *time.Time       `db:"accepted_at"`
}

// ReenrollmentPeriodCounts aggregates acceptance progress for one period.
type ReenrollmentPeriodCounts struct {
	Total    int `db:"total"`
	Accepted int `db:"accepted"`
}
