package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/reviewfactory/internal/finding"
	"github.com/lucasnoah/reviewfactory/internal/orchestrator"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
)

// AnalyzeRequest is the body of POST /api/v1/review/analyze.
type AnalyzeRequest struct {
	RepoURL string `json:"repo_url" binding:"required,max=2048"`
	Ref     string `json:"ref" binding:"omitempty,max=255,gitref"`
	ScanID  string `json:"scan_id" binding:"omitempty,max=128,printascii"`
}

// AnalyzeResponse acknowledges an accepted run.
type AnalyzeResponse struct {
	RunID   string          `json:"run_id"`
	Status  pipeline.Status `json:"status"`
	Message string          `json:"message"`
}

// ReportResponse is a completed run's report.
type ReportResponse struct {
	RunID    string             `json:"run_id"`
	Status   pipeline.Status    `json:"status"`
	Summary  *pipeline.Summary  `json:"summary,omitempty"`
	Markdown string             `json:"markdown"`
	Findings []finding.Finding  `json:"findings"`
	Run      *pipeline.RunState `json:"run"`
}

// ErrorResponse is returned for every non-2xx answer.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Code   string          `json:"code,omitempty"`
	RunID  string          `json:"run_id,omitempty"`
	Status pipeline.Status `json:"status,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	rs, err := s.svc.Submit(c.Request.Context(), orchestrator.Request{
		RepoURL: req.RepoURL,
		Ref:     req.Ref,
		ScanID:  req.ScanID,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		case errors.Is(err, orchestrator.ErrUnreachable):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "REPO_UNREACHABLE"})
		case errors.Is(err, orchestrator.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SHUTTING_DOWN"})
		default:
			s.logger.Errorw("submit failed", "repo_url", req.RepoURL, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
		}
		return
	}

	c.JSON(http.StatusAccepted, AnalyzeResponse{
		RunID:   rs.ID,
		Status:  rs.Status,
		Message: "analysis queued",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	rs, err := s.svc.Status(c.Param("run_id"))
	if err != nil {
		s.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (s *Server) handleReport(c *gin.Context) {
	id := c.Param("run_id")
	rr, err := s.svc.Report(id)
	switch {
	case err == nil:
		resp := ReportResponse{
			RunID:    rr.Run.ID,
			Status:   rr.Run.Status,
			Summary:  rr.Run.Summary,
			Markdown: rr.Markdown,
			Findings: []finding.Finding{},
			Run:      rr.Run,
		}
		if rr.Document != nil && rr.Document.Findings != nil {
			resp.Findings = rr.Document.Findings
		}
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, orchestrator.ErrNotReady):
		c.JSON(http.StatusAccepted, AnalyzeResponse{
			RunID:   id,
			Status:  rr.Run.Status,
			Message: "report not ready",
		})
	case errors.Is(err, orchestrator.ErrRunFailed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:  rr.Run.Reason,
			Code:   "RUN_FAILED",
			RunID:  id,
			Status: rr.Run.Status,
		})
	default:
		s.lookupError(c, err)
	}
}

func (s *Server) handleRuns(c *gin.Context) {
	status := pipeline.Status(c.Query("status"))
	switch status {
	case "", pipeline.StatusQueued, pipeline.StatusRunning, pipeline.StatusCompleted, pipeline.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status " + string(status), Code: "INVALID_REQUEST"})
		return
	}
	runs, err := s.svc.List(status)
	if err != nil {
		s.logger.Errorw("list runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
		return
	}
	if runs == nil {
		runs = []pipeline.RunState{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) lookupError(c *gin.Context, err error) {
	if errors.Is(err, orchestrator.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "NOT_FOUND", RunID: c.Param("run_id")})
		return
	}
	s.logger.Errorw("run lookup failed", "run_id", c.Param("run_id"), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
}
