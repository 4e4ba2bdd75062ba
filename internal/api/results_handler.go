package api

import (
	"net/http"
	"strconv"

	"covbench/domain/core"
	"covbench/internal"
	apperrors "covbench/internal/errors"
	"covbench/internal/report"
	"covbench/ports"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

// ResultsHandler handles run listing and retrieval requests
type ResultsHandler struct {
	reader ports.ResultsReader
	logger *internal.Logger
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(reader ports.ResultsReader, logger *internal.Logger) *ResultsHandler {
	return &ResultsHandler{reader: reader, logger: logger}
}

// ListRuns returns run manifests, newest first. ?limit= caps the list.
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.reader.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun returns the full results record of a run
func (h *ResultsHandler) GetRun(c *gin.Context) {
	runID, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	rec, err := h.reader.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetReport renders the ranked results table; HTML by default, markdown with
// ?format=md.
func (h *ResultsHandler) GetReport(c *gin.Context) {
	runID, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	rec, err := h.reader.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch c.DefaultQuery("format", "html") {
	case "md", "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown(rec)))
	case "html":
		c.Data(http.StatusOK, "text/html; charset=utf-8", report.HTML(rec))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be html or md"})
	}
}

// fail writes the error response. Server-side causes are logged, not echoed.
func (h *ResultsHandler) fail(c *gin.Context, err error) {
	code := apperrors.Classify(err)
	status := apperrors.HTTPStatus(code)
	if status < http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": err.Error(), "code": code})
		return
	}
	h.logger.Error("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(status, gin.H{"error": http.StatusText(status), "code": code})
}
