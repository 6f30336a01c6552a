package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	store  *Store
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(store *Store, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{store: store, logger: logger}
}

// Create inserts a company
func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	_, err := r.store.getExecutor(ctx).Exec(ctx,
		`INSERT INTO companies (id, name, default_currency, created_at) VALUES ($1, $2, $3, $4)`,
		company.ID, company.Name, company.DefaultCurrency, company.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create company", zap.String("company_id", company.ID), zap.Error(err))
		return fmt.Errorf("failed to create company: %w", translateErr(err))
	}
	return nil
}

// GetByID retrieves a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	var c entity.Company
	err := r.store.getExecutor(ctx).QueryRow(ctx,
		`SELECT id, name, default_currency, created_at FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.DefaultCurrency, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("company_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

const userColumns = `id, company_id, name, email, role, manager_id, lark_open_id, created_at`

// UserRepository implements port.UserRepository and port.OrgChart
type UserRepository struct {
	store  *Store
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(store *Store, logger *zap.Logger) *UserRepository {
	return &UserRepository{store: store, logger: logger}
}

// Create inserts a user
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	_, err := r.store.getExecutor(ctx).Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.CompanyID, user.Name, user.Email, string(user.Role),
		optional(user.ManagerID), user.LarkOpenID, user.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", translateErr(err))
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE company_id = $1 ORDER BY name, id`, companyID)
}

func (r *UserRepository) ListByRole(ctx context.Context, companyID string, role entity.Role) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE company_id = $1 AND role = $2 ORDER BY name, id`,
		companyID, string(role))
}

func (r *UserRepository) ListReports(ctx context.Context, managerID string) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE manager_id = $1 ORDER BY name, id`, managerID)
}

// IsManagerOf reports whether managerID is the direct manager of userID
func (r *UserRepository) IsManagerOf(ctx context.Context, managerID, userID string) (bool, error) {
	if managerID == "" || userID == "" {
		return false, nil
	}
	var ok bool
	err := r.store.getExecutor(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND manager_id = $2)`, userID, managerID,
	).Scan(&ok)
	if err != nil {
		r.logger.Error("Failed to check manager", zap.String("manager_id", managerID), zap.String("user_id", userID), zap.Error(err))
		return false, fmt.Errorf("failed to check manager: %w", err)
	}
	return ok, nil
}

// ManagerOf returns the direct manager of userID, or nil
func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (*entity.User, error) {
	return r.getOne(ctx, `
		SELECT m.id, m.company_id, m.name, m.email, m.role, m.manager_id, m.lark_open_id, m.created_at
		FROM users u JOIN users m ON m.id = u.manager_id
		WHERE u.id = $1`, userID)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*entity.User, error) {
	user, err := scanUser(r.store.getExecutor(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]*entity.User, error) {
	rows, err := r.store.getExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*entity.User, error) {
	var u entity.User
	var role string
	var managerID *string
	if err := row.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &role, &managerID, &u.LarkOpenID, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = entity.Role(role)
	u.ManagerID = deref(managerID)
	return &u, nil
}

var (
	_ port.CompanyRepository = (*CompanyRepository)(nil)
	_ port.UserRepository    = (*UserRepository)(nil)
	_ port.OrgChart          = (*UserRepository)(nil)
)
