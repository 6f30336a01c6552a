package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
	"go.uber.org/zap"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// LocalReportArchive implements port.ReportArchive on the local filesystem
// as <baseDir>/<companyID>/<name>
type LocalReportArchive struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalReportArchive creates a new LocalReportArchive
func NewLocalReportArchive(baseDir string, logger *zap.Logger) *LocalReportArchive {
	return &LocalReportArchive{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content and returns the stored (sanitized) file name
func (a *LocalReportArchive) Save(ctx context.Context, companyID, name string, content []byte) (string, error) {
	fullPath, safeName, err := a.path(companyID, name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		a.logger.Error("Failed to create company folder",
			zap.String("company_id", companyID),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		a.logger.Error("Failed to write report",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	a.logger.Debug("Report archived",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))

	return safeName, nil
}

// Read returns the content of an archived report
func (a *LocalReportArchive) Read(ctx context.Context, companyID, name string) ([]byte, error) {
	fullPath, _, err := a.path(companyID, name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// List returns the company's archived reports, newest first
func (a *LocalReportArchive) List(ctx context.Context, companyID string) ([]port.ArchivedFile, error) {
	dir := filepath.Join(a.baseDir, sanitize(companyID))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []port.ArchivedFile{}, nil
		}
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	files := make([]port.ArchivedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, port.ArchivedFile{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ModifiedAt.Equal(files[j].ModifiedAt) {
			return files[i].Name > files[j].Name
		}
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

func (a *LocalReportArchive) path(companyID, name string) (string, string, error) {
	company := sanitize(companyID)
	safeName := sanitize(name)
	if company == "" || safeName == "" {
		return "", "", fmt.Errorf("invalid archive path %q/%q", companyID, name)
	}

	fullPath := filepath.Join(a.baseDir, company, safeName)
	if err := a.validatePath(fullPath); err != nil {
		return "", "", err
	}
	return fullPath, safeName, nil
}

// validatePath checks that the path stays within baseDir
func (a *LocalReportArchive) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(a.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}

// sanitize drops separators and parent references, keeping only
// alphanumerics, dots, hyphens and underscores
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return unsafeChars.ReplaceAllString(name, "")
}

var _ port.ReportArchive = (*LocalReportArchive)(nil)
