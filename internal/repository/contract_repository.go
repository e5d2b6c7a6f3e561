package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siga-edu/siga-api/internal/models"
)

// ContractRepository manages contract documents and their templates.
// Acceptance-flow contracts are written by the reenrollment transaction;
// this repository serves reads plus standalone creation paths.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs a ContractRepository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

const contractColumns = `id, user_id, enrollment_id, template_id, file_path, file_name, accepted_at, semester, year, created_at, updated_at, deleted_at`

// Create inserts a contract row.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	now := time.Now().UTC()
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now
	const query = `INSERT INTO contracts (user_id, enrollment_id, template_id, file_path, file_name, accepted_at, semester, year, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.GetContext(ctx, &contract.ID, query,
		contract.UserID, contract.EnrollmentID, contract.TemplateID,
		contract.FilePath, contract.FileName, contract.AcceptedAt,
		contract.Semester, contract.Year, contract.CreatedAt, contract.UpdatedAt); err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// FindByID fetches a non-deleted contract by ID.
func (r *ContractRepository) FindByID(ctx context.Context, id int64) (*models.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE id = $1 AND deleted_at IS NULL`, contractColumns)
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		return nil, err
	}
	return &contract, nil
}

// List returns contracts matching the provided filters.
func (r *ContractRepository) List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, int, error) {
	base := "FROM contracts"
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.EnrollmentID != 0 {
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Semester != 0 {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Year != 0 {
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"created_at":  "created_at",
		"accepted_at": "accepted_at",
		"year":        "year",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, contractColumns, base, column, order, size, offset)

	var contracts []models.Contract
	if err := r.db.SelectContext(ctx, &contracts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list contracts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count contracts: %w", err)
	}
	return contracts, total, nil
}

// ListByUser returns all contracts owned by a user account.
func (r *ContractRepository) ListByUser(ctx context.Context, userID string) ([]models.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, contractColumns)
	var contracts []models.Contract
	if err := r.db.SelectContext(ctx, &contracts, query, userID); err != nil {
		return nil, fmt.Errorf("list user contracts: %w", err)
	}
	return contracts, nil
}

// FindActiveTemplate returns the current active contract template. Exactly
// one template is active at a time; sql.ErrNoRows means none is configured.
func (r *ContractRepository) FindActiveTemplate(ctx context.Context) (*models.ContractTemplate, error) {
	const query = `SELECT id, name, body, active, created_at, updated_at, deleted_at
        FROM contract_templates
        WHERE active = true AND deleted_at IS NULL
        ORDER BY updated_at DESC LIMIT 1`
	var template models.ContractTemplate
	if err := r.db.GetContext(ctx, &template, query); err != nil {
		return nil, err
	}
	return &template, nil
}

// ListTemplates returns all non-deleted templates, newest first.
func (r *ContractRepository) ListTemplates(ctx context.Context) ([]models.ContractTemplate, error) {
	const query = `SELECT id, name, body, active, created_at, updated_at, deleted_at
        FROM contract_templates WHERE deleted_at IS NULL ORDER BY created_at DESC`
	var templates []models.ContractTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list contract templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate inserts a template. When the new template is active, every
// other template is demoted in the same transaction so the single-active
// invariant holds.
func (r *ContractRepository) CreateTemplate(ctx context.Context, template *models.ContractTemplate) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	template.CreatedAt = now
	template.UpdatedAt = now

	if template.Active {
		if _, err = tx.ExecContext(ctx,
			`UPDATE contract_templates SET active = false, updated_at = $1 WHERE active = true AND deleted_at IS NULL`,
			now); err != nil {
			return fmt.Errorf("demote templates: %w", err)
		}
	}

	const query = `INSERT INTO contract_templates (name, body, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err = tx.GetContext(ctx, &template.ID, query,
		template.Name, template.Body, template.Active, template.CreatedAt, template.UpdatedAt); err != nil {
		return fmt.Errorf("create contract template: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit template: %w", err)
	}
	return nil
}
