package models

import "time"

// Contract ties a contract document to a user and, once linkage exists, to
// a specific enrollment and academic period. A contract created by the
// reenrollment acceptance flow always carries enrollment_id and accepted_at
// and never a file; contracts created at initial enrollment may carry a
// rendered file and a null enrollment_id (legacy pre-linkage records).
type Contract struct {
	ID           int64      `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	EnrollmentID *int64     `db:"enrollment_id" json:"enrollment_id,omitempty"`
	TemplateID   int64      `db:"template_id" json:"template_id"`
	FilePath     *string    `db:"file_path" json:"file_path,omitempty"`
	FileName     *string    `db:"file_name" json:"file_name,omitempty"`
	AcceptedAt   *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	Semester     int        `db:"semester" json:"semester"`
	Year         int        `db:"year" json:"year"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ContractTemplate holds the body used for previews and acceptance records.
type ContractTemplate struct {
	ID        int64      `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Body      string     `db:"body" json:"body"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ContractFilter provides filters for listing contracts.
type ContractFilter struct {
	UserID       string
	EnrollmentID int64
	Semester     int
	Year         int
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
