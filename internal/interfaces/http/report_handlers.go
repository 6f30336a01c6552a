package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ArchiveNameHeader names the archived copy of a generated export
const ArchiveNameHeader = "X-Archive-Name"

// ExportApprovals handles GET /api/reports/approvals.xlsx
func (h *Handlers) ExportApprovals(c *gin.Context) {
	status, valid := queryStatus(c)
	if !valid {
		return
	}

	var buf bytes.Buffer
	archived, err := h.services.Reports.ExportApprovals(c.Request.Context(), caller(c), status, &buf)
	if err != nil {
		h.fail(c, "export approvals", err)
		return
	}

	filename := fmt.Sprintf("approvals-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	if archived != "" {
		filename = archived
		c.Header(ArchiveNameHeader, archived)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, h.services.Reports.ContentType(), buf.Bytes())
}

// ListArchivedReports handles GET /api/reports/archive
func (h *Handlers) ListArchivedReports(c *gin.Context) {
	files, err := h.services.Reports.ListArchive(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, "list archived reports", err)
		return
	}
	ok(c, files)
}

// DownloadArchivedReport handles GET /api/reports/archive/:name
func (h *Handlers) DownloadArchivedReport(c *gin.Context) {
	name := c.Param("name")
	content, err := h.services.Reports.ReadArchive(c.Request.Context(), caller(c), name)
	if err != nil {
		h.fail(c, "download archived report", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, h.services.Reports.ContentType(), content)
}
