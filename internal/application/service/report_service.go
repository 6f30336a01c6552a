package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ReportService exports approval trails and serves archived exports
type ReportService interface {
	ContentType() string

	// ExportApprovals writes the company's expenses and approval records to
	// w. It returns the archived file name when an archive is configured.
	ExportApprovals(ctx context.Context, admin *entity.User, status entity.ExpenseStatus, w io.Writer) (string, error)

	ListArchive(ctx context.Context, admin *entity.User) ([]port.ArchivedFile, error)
	ReadArchive(ctx context.Context, admin *entity.User, name string) ([]byte, error)
}

type reportServiceImpl struct {
	expenseRepo port.ExpenseRepository
	userRepo    port.UserRepository
	exporter    port.ReportExporter
	archive     port.ReportArchive
	logger      Logger
	now         func() time.Time
}

// NewReportService creates a new ReportService. archive may be nil.
func NewReportService(
	expenseRepo port.ExpenseRepository,
	userRepo port.UserRepository,
	exporter port.ReportExporter,
	archive port.ReportArchive,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		expenseRepo: expenseRepo,
		userRepo:    userRepo,
		exporter:    exporter,
		archive:     archive,
		logger:      loggerOrNop(logger),
		now:         time.Now,
	}
}

func (s *reportServiceImpl) ContentType() string {
	return s.exporter.ContentType()
}

func (s *reportServiceImpl) ExportApprovals(ctx context.Context, admin *entity.User, status entity.ExpenseStatus, w io.Writer) (string, error) {
	if err := requireAdmin(admin, "export reports"); err != nil {
		return "", err
	}

	expenses, err := s.expenseRepo.List(ctx, port.ExpenseFilter{
		CompanyID: admin.CompanyID,
		Status:    status,
	})
	if err != nil {
		return "", fmt.Errorf("list expenses: %w", err)
	}

	members, err := s.userRepo.ListByCompany(ctx, admin.CompanyID)
	if err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	users := make(map[string]*entity.User, len(members))
	for _, u := range members {
		users[u.ID] = u
	}

	if s.archive == nil {
		if err := s.exporter.Export(ctx, w, expenses, users); err != nil {
			return "", fmt.Errorf("export report: %w", err)
		}
		return "", nil
	}

	var buf bytes.Buffer
	if err := s.exporter.Export(ctx, &buf, expenses, users); err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}

	name := s.now().UTC().Format("20060102-150405") + "-approvals.xlsx"
	archived, err := s.archive.Save(ctx, admin.CompanyID, name, buf.Bytes())
	if err != nil {
		// the download still goes out
		s.logger.Error("Failed to archive report", "error", err, "company_id", admin.CompanyID)
		archived = ""
	} else {
		s.logger.Info("Report archived", "company_id", admin.CompanyID, "name", archived, "expenses", len(expenses))
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return archived, fmt.Errorf("write report: %w", err)
	}
	return archived, nil
}

func (s *reportServiceImpl) ListArchive(ctx context.Context, admin *entity.User) ([]port.ArchivedFile, error) {
	if err := requireAdmin(admin, "view reports"); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []port.ArchivedFile{}, nil
	}
	files, err := s.archive.List(ctx, admin.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return files, nil
}

func (s *reportServiceImpl) ReadArchive(ctx context.Context, admin *entity.User, name string) ([]byte, error) {
	if err := requireAdmin(admin, "view reports"); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, port.ErrReportNotFound
	}
	content, err := s.archive.Read(ctx, admin.CompanyID, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrInvalidInput, err)
	}
	if content == nil {
		return nil, port.ErrReportNotFound
	}
	return content, nil
}
