package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"go.uber.org/zap"
)

const userColumns = `id, company_id, name, email, role, manager_id, lark_open_id, created_at`

// UserRepository implements port.UserRepository and port.OrgChart
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a user. Duplicate emails return port.ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		user.ID,
		user.CompanyID,
		user.Name,
		user.Email,
		user.Role,
		nullString(user.ManagerID),
		user.LarkOpenID,
		user.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", translateErr(err))
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// ListByCompany lists a company's users by name
func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE company_id = ? ORDER BY name, id`, companyID)
}

// ListByRole lists a company's users holding role
func (r *UserRepository) ListByRole(ctx context.Context, companyID string, role entity.Role) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE company_id = ? AND role = ? ORDER BY name, id`, companyID, role)
}

// ListReports lists the direct reports of a manager
func (r *UserRepository) ListReports(ctx context.Context, managerID string) ([]*entity.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE manager_id = ? ORDER BY name, id`, managerID)
}

// IsManagerOf reports whether managerID is the direct manager of userID
func (r *UserRepository) IsManagerOf(ctx context.Context, managerID, userID string) (bool, error) {
	if managerID == "" || userID == "" {
		return false, nil
	}
	var n int
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE id = ? AND manager_id = ?`, userID, managerID,
	).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to check manager", zap.String("manager_id", managerID), zap.String("user_id", userID), zap.Error(err))
		return false, fmt.Errorf("failed to check manager: %w", err)
	}
	return n > 0, nil
}

// ManagerOf returns the direct manager of userID, or nil
func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (*entity.User, error) {
	return r.getOne(ctx, `
		SELECT m.id, m.company_id, m.name, m.email, m.role, m.manager_id, m.lark_open_id, m.created_at
		FROM users u JOIN users m ON m.id = u.manager_id
		WHERE u.id = ?
	`, userID)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.User, error) {
	user, err := scanUser(r.db.getExecutor(ctx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.User, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*entity.User, error) {
	var user entity.User
	var managerID sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.CompanyID,
		&user.Name,
		&user.Email,
		&user.Role,
		&managerID,
		&user.LarkOpenID,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	user.ManagerID = managerID.String
	return &user, nil
}

var (
	_ port.UserRepository = (*UserRepository)(nil)
	_ port.OrgChart       = (*UserRepository)(nil)
)
