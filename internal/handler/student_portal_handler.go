package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/middleware"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/response"
	"github.com/luminedu/examgate-backend/internal/service"
	"github.com/luminedu/examgate-backend/internal/validator"
)

// StudentPortalHandler handles the student-facing attempt lifecycle: paper
// delivery, autosave, resume, heartbeat, and final submission.
type StudentPortalHandler struct {
	paperService      *service.PaperService
	autosaveService   *service.AutosaveService
	progressService   *service.ProgressService
	heartbeatService  *service.HeartbeatService
	submissionService *service.SubmissionService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	paperService *service.PaperService,
	autosaveService *service.AutosaveService,
	progressService *service.ProgressService,
	heartbeatService *service.HeartbeatService,
	submissionService *service.SubmissionService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		paperService:      paperService,
		autosaveService:   autosaveService,
		progressService:   progressService,
		heartbeatService:  heartbeatService,
		submissionService: submissionService,
	}
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the student's pinned shuffled paper, generating it on first access.
func (h *StudentPortalHandler) GetPaper(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	paper, err := h.paperService.GetPaper(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// Autosave godoc
// POST /api/v1/student/exams/:exam_id/autosave
// Persists a full progress snapshot (idempotent overwrite, counter bumps by 1).
func (h *StudentPortalHandler) Autosave(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.autosaveService.Save(c.Request.Context(), examID, claims.UserID, &req)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetProgress godoc
// GET /api/v1/student/exams/:exam_id/progress
// Returns the saved draft in resume form, or has_progress=false.
func (h *StudentPortalHandler) GetProgress(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	result, err := h.progressService.LoadProgress(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ResumeTest godoc
// POST /api/v1/student/exams/:exam_id/resume
// Records that the student resumed a previously saved attempt.
func (h *StudentPortalHandler) ResumeTest(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	count, err := h.progressService.Resume(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resume_count": count})
}

// Heartbeat godoc
// POST /api/v1/student/exams/:exam_id/heartbeat
// Liveness ping; clears any crash flag on the draft.
func (h *StudentPortalHandler) Heartbeat(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	at, err := h.heartbeatService.Record(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"last_heartbeat": at})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Finalizes the attempt. Exactly one submission per (exam, student) wins.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.submissionService.Submit(c.Request.Context(), examID, claims.UserID, &req)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *StudentPortalHandler) authExam(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}

	return claims, examID, true
}

// failDomain maps service sentinels to stable API error codes.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrExamNotOpen):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotOpen)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	case errors.Is(err, service.ErrSubmissionWindowClosed):
		response.Fail(c, http.StatusForbidden, response.ErrWindowClosed)
	case errors.Is(err, service.ErrProgressTooStale):
		response.Fail(c, http.StatusConflict, response.ErrProgressTooStale)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
