package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/feedback"
	"insiderwatch/internal/investigation"
	"insiderwatch/internal/jobs"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps a service error onto a status code. Known sentinels carry their
// machine-readable code in meta.error; data, when given, is returned as well
// (e.g. the existing candidate on candidate_exists).
func Fail(c *gin.Context, err error, data any) {
	FailWithMeta(c, err, data, nil)
}

// FailWithMeta is Fail with extra meta fields next to meta.error.
func FailWithMeta(c *gin.Context, err error, data any, extra map[string]any) {
	status, code := classify(err)
	meta := map[string]any{"error": code}
	for k, v := range extra {
		meta[k] = v
	}
	c.JSON(status, apiResponse{
		Code:    status,
		Message: err.Error(),
		Data:    data,
		Meta:    meta,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, feedback.ErrRunNotFound), errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, investigation.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, investigation.ErrCandidateExists):
		return http.StatusConflict, "candidate_exists"
	case errors.Is(err, investigation.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, feedback.ErrAlreadyApplied):
		return http.StatusConflict, "already_applied"
	case errors.Is(err, investigation.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, feedback.ErrNoRecommendation):
		return http.StatusBadRequest, "no_recommendation"
	default:
		return http.StatusBadGateway, "upstream"
	}
}
