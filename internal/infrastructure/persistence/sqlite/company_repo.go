package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{db: db, logger: logger}
}

// Create inserts a company
func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	query := `INSERT INTO companies (id, name, default_currency, created_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		company.ID,
		company.Name,
		company.DefaultCurrency,
		company.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create company", zap.String("company_id", company.ID), zap.Error(err))
		return fmt.Errorf("failed to create company: %w", translateErr(err))
	}
	return nil
}

// GetByID retrieves a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `SELECT id, name, default_currency, created_at FROM companies WHERE id = ?`

	var company entity.Company
	err := r.db.getExecutor(ctx).QueryRowContext(ctx, query, id).Scan(
		&company.ID,
		&company.Name,
		&company.DefaultCurrency,
		&company.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("company_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

var _ port.CompanyRepository = (*CompanyRepository)(nil)
