package dto

import "github.com/siga-edu/siga-api/internal/models"

// ProcessAllRequest captures POST /reenrollments/process-all payload. The
// admin password is re-confirmed against the calling administrator account
// before any write happens.
type ProcessAllRequest struct {
	Semester      int    `json:"semester" validate:"required,oneof=1 2"`
	Year          int    `json:"year" validate:"required,min=2000,max=2100"`
	AdminPassword string `json:"adminPassword" validate:"required"`
	IP            string `json:"-"`
	UserAgent     string `json:"-"`
}

// ProcessAllResult reports the outcome of the global batch for the
// administrator's audit/confirmation display.
type ProcessAllResult struct {
	TotalStudents         int     `json:"totalStudents"`
	AffectedEnrollmentIDs []int64 `json:"affectedEnrollmentIds"`
	Semester              int     `json:"semester"`
	Year                  int     `json:"year"`
}

// AcceptResult returns the updated enrollment and the contract created in
// the same transaction.
type AcceptResult struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Contract   *models.Contract   `json:"contract"`
}

// ContractPreview is the rendered contract content for a pending
// reenrollment, before acceptance.
type ContractPreview struct {
	EnrollmentID int64  `json:"enrollmentId"`
	TemplateID   int64  `json:"templateId"`
	TemplateName string `json:"templateName"`
	Content      string `json:"content"`
	Semester     int    `json:"semester"`
	Year         int    `json:"year"`
}

// ReenrollmentSummary aggregates per-period acceptance progress. It is a
// derived read over the enrollments and reenrollments tables; the cached
// copy is never consulted by any guard or transition.
type ReenrollmentSummary struct {
	Semester    int `json:"semester"`
	Year        int `json:"year"`
	Total       int `json:"total"`
	Accepted    int `json:"accepted"`
	Outstanding int `json:"outstanding"`
}
