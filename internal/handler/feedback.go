package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/feedback"
	"insiderwatch/internal/repository"
)

type FeedbackHandler struct {
	Repo repository.Repository
	Loop *feedback.Loop
}

type feedbackRunRequest struct {
	AsOf *time.Time `json:"as_of"`
}

func (h *FeedbackHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v2/feedback/runs")
	g.GET("", h.list)
	g.POST("", h.run)
	g.GET("/:run_id", h.get)
	g.POST("/:run_id/apply", h.apply)
}

func (h *FeedbackHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListFeedbackRuns(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}

// @Summary Feedback report of one run
// @Tags feedback
// @Param run_id path string true "run id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v2/feedback/runs/{run_id} [get]
func (h *FeedbackHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	run, err := h.Repo.GetFeedbackRun(c.Request.Context(), runID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Fail(c, feedback.ErrRunNotFound, nil)
		return
	}
	report, err := feedback.DecodeReport(*run)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, report, map[string]any{"applied": run.Applied})
}

// @Summary Evaluate detection against confirmed insiders
// @Tags feedback
// @Param body body feedbackRunRequest false "snapshot time, defaults to now"
// @Success 200 {object} apiResponse
// @Router /api/v2/feedback/runs [post]
func (h *FeedbackHandler) run(c *gin.Context) {
	if h.Loop == nil {
		Error(c, http.StatusInternalServerError, "feedback unavailable", nil)
		return
	}
	var req feedbackRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	report, err := h.Loop.Run(c.Request.Context(), asOf)
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Apply a run's recommended thresholds
// @Tags feedback
// @Param run_id path string true "run id"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse "no_recommendation"
// @Failure 409 {object} apiResponse "already_applied"
// @Router /api/v2/feedback/runs/{run_id}/apply [post]
func (h *FeedbackHandler) apply(c *gin.Context) {
	if h.Loop == nil {
		Error(c, http.StatusInternalServerError, "feedback unavailable", nil)
		return
	}
	thresholds, err := h.Loop.ApplyRun(c.Request.Context(), strings.TrimSpace(c.Param("run_id")))
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, thresholds, nil)
}
