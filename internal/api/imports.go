package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/ingest"
)

// importFileField is the multipart form field name for POST /imports'
// uploaded CSV file. doc_type selects which ingest.DocumentType the rows are
// parsed as; mapping, when present, is a JSON object of canonical field ->
// CSV header that replaces ingest.StandardInvoiceMapping for this upload.
const importFileField = "file"

// handleStartImport implements POST /imports: accepts a CSV upload and
// starts an asynchronous import run (spec §4.3, §6 "background job with
// polling"), returning a token the caller polls via GET /imports/:token.
func (h *APIHandler) handleStartImport(c *gin.Context) {
	docType := ingest.DocumentType(c.DefaultPostForm("doc_type", string(ingest.DocInvoice)))
	source := c.DefaultPostForm("source", "api-upload")

	fileHeader, err := c.FormFile(importFileField)
	if err != nil {
		h.fail(c, apperrors.Validation(importFileField, "required", "a CSV file upload is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		h.fail(c, apperrors.Internal(err))
		return
	}
	defer f.Close()
	// The run outlives this request: it reads its own copy of the upload
	// under a context that is not canceled when the response is written.
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, apperrors.Internal(err))
		return
	}

	mapping := ingest.StandardInvoiceMapping
	if raw := c.PostForm("mapping"); raw != "" {
		var custom ingest.ColumnMapping
		if err := json.Unmarshal([]byte(raw), &custom); err != nil {
			h.fail(c, apperrors.Validation("mapping", "invalid_json", "mapping must be a JSON object of canonical field to CSV header"))
			return
		}
		mapping = custom
	}

	token := h.ingest.StartImport(context.WithoutCancel(c.Request.Context()), mustTenantID(c), docType, mapping, source, bytes.NewReader(data))

	h.respond(c, http.StatusAccepted, gin.H{"token": token})
}

// handleImportStatus implements GET /imports/:token: polls the progress and,
// once finished, the terminal Result of a background import run.
func (h *APIHandler) handleImportStatus(c *gin.Context) {
	token := c.Param("token")

	progress, result, err, done, found := ingest.RunStatus(token)
	if !found {
		c.Error(apperrors.NotFound("import_run", token))
		return
	}

	resp := gin.H{
		"token":          token,
		"done":           done,
		"rows_read":      progress.RowsRead,
		"rows_committed": progress.RowsCommitted,
		"rows_failed":    progress.RowsFailed,
	}
	if done {
		if err != nil {
			resp["error"] = err.Error()
		} else {
			resp["result"] = result
			h.hub.Publish(EventImportCompleted, string(mustTenantID(c)), gin.H{"token": token, "rows_committed": result.RowsCommitted})
		}
	}
	c.JSON(http.StatusOK, resp)
}
