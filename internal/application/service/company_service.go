package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// BootstrapInput creates a company together with its first administrator
type BootstrapInput struct {
	CompanyName     string `json:"company_name"`
	DefaultCurrency string `json:"default_currency"`
	AdminName       string `json:"admin_name"`
	AdminEmail      string `json:"admin_email"`
}

// CreateUserInput describes a new company member
type CreateUserInput struct {
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Role       entity.Role `json:"role"`
	ManagerID  string      `json:"manager_id"`
	LarkOpenID string      `json:"lark_open_id"`
}

// CompanyService manages companies and their users
type CompanyService interface {
	Bootstrap(ctx context.Context, input BootstrapInput) (*entity.Company, *entity.User, error)
	CreateUser(ctx context.Context, admin *entity.User, input CreateUserInput) (*entity.User, error)
	GetUser(ctx context.Context, id string) (*entity.User, error)
	ListUsers(ctx context.Context, caller *entity.User) ([]*entity.User, error)
	GetCompany(ctx context.Context, id string) (*entity.Company, error)
}

type companyServiceImpl struct {
	companyRepo port.CompanyRepository
	userRepo    port.UserRepository
	txManager   port.TransactionManager
	logger      Logger
	now         func() time.Time
}

// NewCompanyService creates a new CompanyService
func NewCompanyService(
	companyRepo port.CompanyRepository,
	userRepo port.UserRepository,
	txManager port.TransactionManager,
	logger Logger,
) CompanyService {
	return &companyServiceImpl{
		companyRepo: companyRepo,
		userRepo:    userRepo,
		txManager:   txManager,
		logger:      loggerOrNop(logger),
		now:         time.Now,
	}
}

// Bootstrap creates a company and its first ADMIN in one transaction
func (s *companyServiceImpl) Bootstrap(ctx context.Context, input BootstrapInput) (*entity.Company, *entity.User, error) {
	name := strings.TrimSpace(input.CompanyName)
	if name == "" {
		return nil, nil, invalidInput("company name is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, nil, invalidInput("default currency must be a 3-letter ISO code, got %q", input.DefaultCurrency)
	}

	now := s.now()
	company := &entity.Company{
		ID:              uuid.NewString(),
		Name:            name,
		DefaultCurrency: currency,
		CreatedAt:       now,
	}

	admin, err := s.newUser(company.ID, CreateUserInput{
		Name:  input.AdminName,
		Email: input.AdminEmail,
		Role:  entity.RoleAdmin,
	})
	if err != nil {
		return nil, nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ensureEmailFree(txCtx, admin.Email); err != nil {
			return err
		}
		if err := s.companyRepo.Create(txCtx, company); err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		if err := s.userRepo.Create(txCtx, admin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to bootstrap company", "error", err, "company", name)
		return nil, nil, err
	}

	s.logger.Info("Company created", "company_id", company.ID, "admin_id", admin.ID)
	return company, admin, nil
}

// CreateUser adds a member to the admin's company
func (s *companyServiceImpl) CreateUser(ctx context.Context, admin *entity.User, input CreateUserInput) (*entity.User, error) {
	if err := requireAdmin(admin, "create users"); err != nil {
		return nil, err
	}

	user, err := s.newUser(admin.CompanyID, input)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ensureEmailFree(txCtx, user.Email); err != nil {
			return err
		}
		if user.ManagerID != "" {
			manager, err := s.userRepo.GetByID(txCtx, user.ManagerID)
			if err != nil {
				return fmt.Errorf("get manager: %w", err)
			}
			if manager == nil || manager.CompanyID != admin.CompanyID {
				return invalidInput("manager %s is not a member of this company", user.ManagerID)
			}
		}
		if err := s.userRepo.Create(txCtx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create user", "error", err, "email", user.Email)
		return nil, err
	}

	s.logger.Info("User created", "user_id", user.ID, "role", user.Role, "company_id", user.CompanyID)
	return user, nil
}

func (s *companyServiceImpl) GetUser(ctx context.Context, id string) (*entity.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, port.ErrUserNotFound
	}
	return user, nil
}

func (s *companyServiceImpl) ListUsers(ctx context.Context, caller *entity.User) ([]*entity.User, error) {
	users, err := s.userRepo.ListByCompany(ctx, caller.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *companyServiceImpl) GetCompany(ctx context.Context, id string) (*entity.Company, error) {
	company, err := s.companyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if company == nil {
		return nil, port.ErrCompanyNotFound
	}
	return company, nil
}

func (s *companyServiceImpl) newUser(companyID string, input CreateUserInput) (*entity.User, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalidInput("user name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(input.Email))
	if err != nil {
		return nil, invalidInput("invalid email %q", input.Email)
	}
	role := entity.Role(strings.ToUpper(string(input.Role)))
	if role == "" {
		role = entity.RoleEmployee
	}
	if !role.IsValid() {
		return nil, invalidInput("unknown role %q", input.Role)
	}

	return &entity.User{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		Name:       name,
		Email:      strings.ToLower(addr.Address),
		Role:       role,
		ManagerID:  strings.TrimSpace(input.ManagerID),
		LarkOpenID: strings.TrimSpace(input.LarkOpenID),
		CreatedAt:  s.now(),
	}, nil
}

func (s *companyServiceImpl) ensureEmailFree(ctx context.Context, email string) error {
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user by email: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: user with email %s", port.ErrDuplicate, email)
	}
	return nil
}
