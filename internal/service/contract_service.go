package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
)

type contractRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Contract, error)
	List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, int, error)
	ListByUser(ctx context.Context, userID string) ([]models.Contract, error)
	FindActiveTemplate(ctx context.Context) (*models.ContractTemplate, error)
	ListTemplates(ctx context.Context) ([]models.ContractTemplate, error)
	CreateTemplate(ctx context.Context, template *models.ContractTemplate) error
}

// CreateTemplateRequest describes a new contract template.
type CreateTemplateRequest struct {
	Name   string `json:"name" validate:"required,min=3,max=120"`
	Body   string `json:"body" validate:"required,min=10"`
	Active bool   `json:"active"`
}

// ContractService serves contract documents and templates. Acceptance-flow
// contracts are created by the reenrollment transaction; this service only
// reads them and manages templates.
type ContractService struct {
	repo      contractRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContractService constructs ContractService.
func NewContractService(repo contractRepository, validate *validator.Validate, logger *zap.Logger) *ContractService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{repo: repo, validator: validate, logger: logger}
}

// List returns contracts with pagination metadata.
func (s *ContractService) List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, *models.Pagination, error) {
	contracts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contracts")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return contracts, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads one contract. Students may only read their own.
func (s *ContractService) Get(ctx context.Context, id int64, claims *models.JWTClaims) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract")
	}
	if claims != nil && claims.Role == models.RoleStudent && contract.UserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "contract belongs to another user")
	}
	return contract, nil
}

// ListMine returns the calling user's own contracts.
func (s *ContractService) ListMine(ctx context.Context, userID string) ([]models.Contract, error) {
	contracts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contracts")
	}
	return contracts, nil
}

// ListTemplates returns all contract templates.
func (s *ContractService) ListTemplates(ctx context.Context) ([]models.ContractTemplate, error) {
	templates, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contract templates")
	}
	return templates, nil
}

// CreateTemplate registers a new template, demoting the previous active one
// when the new template is marked active.
func (s *ContractService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*models.ContractTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	template := &models.ContractTemplate{Name: req.Name, Body: req.Body, Active: req.Active}
	if err := s.repo.CreateTemplate(ctx, template); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create contract template")
	}
	return template, nil
}
