// Package report renders approval trail exports
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	// ContentTypeXLSX is the MIME type of generated workbooks
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	SheetExpenses  = "Expenses"
	SheetApprovals = "Approvals"

	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05"
)

var (
	expenseHeaders = []interface{}{
		"Expense ID", "Submitter", "Email", "Description", "Category",
		"Original Amount", "Original Currency", "Amount", "Exchange Rate",
		"Expense Date", "Status", "Workflow", "Current Step", "Submitted At",
		"Rejection Reason", "Cancel Reason",
	}
	approvalHeaders = []interface{}{
		"Expense ID", "Step", "Step Name", "Approver", "Role", "Decision",
		"Approval Level", "Comment", "Timestamp",
	}
)

// XLSXExporter writes expenses and their approval records as a workbook
// with one sheet for each
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates a new XLSXExporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

func (x *XLSXExporter) ContentType() string { return ContentTypeXLSX }

// Export writes the workbook to w. users resolves submitter names; a
// missing user leaves the name blank.
func (x *XLSXExporter) Export(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error {
	file := excelize.NewFile()
	defer func() {
		if err := file.Close(); err != nil {
			x.logger.Error("Failed to close workbook", zap.Error(err))
		}
	}()

	// the default sheet becomes Expenses
	if err := file.SetSheetName("Sheet1", SheetExpenses); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := file.NewSheet(SheetApprovals); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(file, SheetExpenses, 1, expenseHeaders); err != nil {
		return err
	}
	if err := writeRow(file, SheetApprovals, 1, approvalHeaders); err != nil {
		return err
	}
	for _, sheet := range []struct {
		name string
		cols int
	}{{SheetExpenses, len(expenseHeaders)}, {SheetApprovals, len(approvalHeaders)}} {
		last, _ := excelize.CoordinatesToCellName(sheet.cols, 1)
		if err := file.SetCellStyle(sheet.name, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
		if err := file.SetPanes(sheet.name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}

	approvalRow := 2
	for i, e := range expenses {
		if err := ctx.Err(); err != nil {
			return err
		}

		var name, email string
		if u := users[e.SubmitterID]; u != nil {
			name, email = u.Name, u.Email
		}
		submittedAt := ""
		if e.SubmittedAt != nil {
			submittedAt = e.SubmittedAt.UTC().Format(timeLayout)
		}

		if err := writeRow(file, SheetExpenses, i+2, []interface{}{
			e.ID, name, email, e.Description, e.Category,
			e.OriginalAmount, e.OriginalCurrency, e.Amount, e.ExchangeRate,
			e.ExpenseDate.UTC().Format(dateLayout), string(e.Status), e.WorkflowID,
			e.CurrentStepIndex, submittedAt, e.RejectionReason, e.CancelReason,
		}); err != nil {
			return err
		}

		for _, r := range e.Approvals {
			if err := writeRow(file, SheetApprovals, approvalRow, []interface{}{
				e.ID, stepCell(r.StepIndex), r.StepName, r.ActorName, string(r.ActorRole), string(r.Decision),
				r.ApprovalLevel, r.Comment, r.Timestamp.UTC().Format(timeLayout),
			}); err != nil {
				return err
			}
			approvalRow++
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	x.logger.Info("Approval report generated",
		zap.Int("expenses", len(expenses)),
		zap.Int("approvals", approvalRow-2))
	return nil
}

func writeRow(file *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

var _ port.ReportExporter = (*XLSXExporter)(nil)

// stepCell leaves the step blank for votes that signed off no step
func stepCell(index int) interface{} {
	if index == entity.NoStepIndex {
		return ""
	}
	return index
}
