package port

import (
	"context"
	"time"
)

// ArchivedFile describes one stored report
type ArchivedFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ReportArchive keeps generated report files in one folder per company.
// Names are sanitized; a name can never escape its company folder.
type ReportArchive interface {
	Save(ctx context.Context, companyID, name string, content []byte) (string, error)
	Read(ctx context.Context, companyID, name string) ([]byte, error)
	List(ctx context.Context, companyID string) ([]ArchivedFile, error)
}
