package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/siga-edu/siga-api/internal/dto"
	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

type reenrollmentRepository interface {
	TransitionAllActiveToPending(ctx context.Context, semester, year int, now time.Time) ([]int64, error)
	AcceptPending(ctx context.Context, enrollmentID, studentID int64, userID string, templateID int64, now time.Time) (*models.Enrollment, *models.Contract, error)
	PreviewRow(ctx context.Context, enrollmentID int64) (*models.ReenrollmentPreviewRow, error)
	PeriodCounts(ctx context.Context, semester, year int) (*models.ReenrollmentPeriodCounts, error)
}

type contractTemplateReader interface {
	FindActiveTemplate(ctx context.Context) (*models.ContractTemplate, error)
}

type adminReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
}

const summaryCacheKeyPattern = "reenrollments:*"

// ReenrollmentService drives the reenrollment lifecycle: the global batch
// that moves every active enrollment to pending, the contract preview, and
// the per-student acceptance that reactivates the enrollment and records the
// contract. All invariants are enforced by repository transactions; the
// cache below only memoizes the summary read.
type ReenrollmentService struct {
	repo        reenrollmentRepository
	enrollments enrollmentReader
	students    studentReader
	templates   contractTemplateReader
	users       adminReader
	audit       auditWriter
	cache       *CacheService
	summaryTTL  time.Duration
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReenrollmentService constructs ReenrollmentService.
func NewReenrollmentService(
	repo reenrollmentRepository,
	enrollments enrollmentReader,
	students studentReader,
	templates contractTemplateReader,
	users adminReader,
	audit auditWriter,
	cache *CacheService,
	summaryTTL time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReenrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if summaryTTL <= 0 {
		summaryTTL = 5 * time.Minute
	}
	return &ReenrollmentService{
		repo:        repo,
		enrollments: enrollments,
		students:    students,
		templates:   templates,
		users:       users,
		audit:       audit,
		cache:       cache,
		summaryTTL:  summaryTTL,
		validator:   validate,
		logger:      logger,
	}
}

// ProcessAll runs the global reenrollment batch for one period. The calling
// administrator must re-confirm their password; on mismatch nothing is
// written. The batch itself is atomic: every active enrollment moves to
// pending with an open period stamp, or none do.
func (s *ReenrollmentService) ProcessAll(ctx context.Context, claims *models.JWTClaims, req dto.ProcessAllRequest) (*dto.ProcessAllResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reenrollment payload")
	}

	admin, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "administrator account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load administrator")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.AdminPassword)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "admin password confirmation failed")
	}

	now := time.Now().UTC()
	ids, err := s.repo.TransitionAllActiveToPending(ctx, req.Semester, req.Year, now)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process reenrollments")
	}

	s.logger.Info("reenrollment batch processed",
		zap.Int("semester", req.Semester),
		zap.Int("year", req.Year),
		zap.Int("affected", len(ids)))

	if s.audit != nil {
		resourceID := fmt.Sprintf("%d-%d", req.Year, req.Semester)
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &admin.ID,
			Action:     models.AuditActionReenrollmentBatch,
			Resource:   "reenrollments",
			ResourceID: &resourceID,
			NewValues:  []byte(fmt.Sprintf(`{"semester":%d,"year":%d,"affected":%d}`, req.Semester, req.Year, len(ids))),
			IPAddress:  req.IP,
			UserAgent:  req.UserAgent,
		}); err != nil {
			s.logger.Warn("failed to record reenrollment batch audit log", zap.Error(err))
		}
	}
	s.invalidateSummaries(ctx)

	if ids == nil {
		ids = []int64{}
	}
	return &dto.ProcessAllResult{
		TotalStudents:         len(ids),
		AffectedEnrollmentIDs: ids,
		Semester:              req.Semester,
		Year:                  req.Year,
	}, nil
}

// Accept finalizes one pending reenrollment. Students accept their own
// enrollment; admins and secretaries may accept on a student's behalf;
// any other role is rejected. The enrollment activation, stamp closure and
// contract creation commit together.
func (s *ReenrollmentService) Accept(ctx context.Context, claims *models.JWTClaims, enrollmentID int64) (*dto.AcceptResult, error) {
	var ownerStudentID int64
	var contractUserID string

	if claims.Role == models.RoleStudent {
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no student record for this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
		}
		ownerStudentID = student.ID
		contractUserID = claims.UserID
	} else {
		if claims.Role != models.RoleAdmin && claims.Role != models.RoleSecretary {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may accept on a student's behalf")
		}
		enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		student, err := s.students.FindByID(ctx, enrollment.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
		}
		contractUserID = student.UserID
	}

	template, err := s.templates.FindActiveTemplate(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active contract template configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract template")
	}

	now := time.Now().UTC()
	enrollment, contract, err := s.repo.AcceptPending(ctx, enrollmentID, ownerStudentID, contractUserID, template.ID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept reenrollment")
	}

	if s.audit != nil {
		resourceID := strconv.FormatInt(enrollmentID, 10)
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &claims.UserID,
			Action:     models.AuditActionReenrollmentAccept,
			Resource:   "reenrollments",
			ResourceID: &resourceID,
			NewValues:  []byte(fmt.Sprintf(`{"contract_id":%d,"semester":%d,"year":%d}`, contract.ID, contract.Semester, contract.Year)),
		}); err != nil {
			s.logger.Warn("failed to record acceptance audit log", zap.Error(err))
		}
	}
	s.invalidateSummaries(ctx)

	return &dto.AcceptResult{Enrollment: enrollment, Contract: contract}, nil
}

// Preview renders the active contract template against a pending
// reenrollment without writing anything. The guard order matches Accept:
// existence, then ownership, then the pending-with-open-stamp precondition.
func (s *ReenrollmentService) Preview(ctx context.Context, claims *models.JWTClaims, enrollmentID int64) (*dto.ContractPreview, error) {
	if claims.Role != models.RoleStudent && claims.Role != models.RoleAdmin && claims.Role != models.RoleSecretary {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient role for contract preview")
	}
	row, err := s.repo.PreviewRow(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reenrollment")
	}
	if claims.Role == models.RoleStudent && row.StudentUserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
	}
	if row.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not pending")
	}
	if !row.StampID.Valid {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment has no open reenrollment for this period")
	}

	template, err := s.templates.FindActiveTemplate(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active contract template configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract template")
	}

	content := renderContractBody(template.Body, row)
	return &dto.ContractPreview{
		EnrollmentID: row.EnrollmentID,
		TemplateID:   template.ID,
		TemplateName: template.Name,
		Content:      content,
		Semester:     row.Semester,
		Year:         row.Year,
	}, nil
}

// Summary aggregates per-period acceptance progress. The result is cached;
// a stale cache affects only this read, never any guard.
func (s *ReenrollmentService) Summary(ctx context.Context, semester, year int) (*dto.ReenrollmentSummary, error) {
	if semester != 1 && semester != 2 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester must be 1 or 2")
	}
	if year < 2000 || year > 2100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year out of range")
	}

	key := fmt.Sprintf("reenrollments:summary:%d:%d", year, semester)
	var cached dto.ReenrollmentSummary
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	counts, err := s.repo.PeriodCounts(ctx, semester, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate reenrollments")
	}
	summary := &dto.ReenrollmentSummary{
		Semester:    semester,
		Year:        year,
		Total:       counts.Total,
		Accepted:    counts.Accepted,
		Outstanding: counts.Total - counts.Accepted,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.summaryTTL); err != nil {
			s.logger.Warn("failed to cache reenrollment summary", zap.Error(err))
		}
	}
	return summary, nil
}

func (s *ReenrollmentService) invalidateSummaries(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, summaryCacheKeyPattern); err != nil {
		s.logger.Warn("failed to invalidate reenrollment cache", zap.Error(err))
	}
}

func renderContractBody(body string, row *models.ReenrollmentPreviewRow) string {
	replacer := strings.NewReplacer(
		"{{student_name}}", row.StudentName,
		"{{registration}}", row.StudentRegistration,
		"{{course_name}}", row.CourseName,
		"{{semester}}", strconv.Itoa(row.Semester),
		"{{year}}", strconv.Itoa(row.Year),
		"{{enrollment_date}}", row.EnrollmentDate.Format("2006-01-02"),
	)
	return replacer.Replace(body)
}
