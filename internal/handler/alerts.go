package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/investigation"
	"insiderwatch/internal/repository"
)

type AlertsHandler struct {
	Repo     repository.Repository
	Workflow *investigation.Workflow
}

type transitionRequest struct {
	To    string `json:"to" binding:"required"`
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

type promoteRequest struct {
	Actor string `json:"actor"`
}

var alertOrder = map[string]string{
	"created_at":     "created_at",
	"ensemble_score": "ensemble_score",
	"severity":       "severity",
	"updated_at":     "updated_at",
}

func (h *AlertsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v2/alerts")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/transition", h.transition)
	g.POST("/:id/promote", h.promote)
}

// @Summary List alerts
// @Tags alerts
// @Param status query string false "new|acknowledged|investigating|resolved|dismissed"
// @Param severity query string false "critical|high|medium|low"
// @Param wallet query string false "wallet address"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Param order_by query string false "created_at|ensemble_score|severity|updated_at"
// @Param asc query bool false "ascending order"
// @Success 200 {object} apiResponse
// @Router /api/v2/alerts [get]
func (h *AlertsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAlertsParams{
		Limit:         limit,
		Offset:        offset,
		Status:        strQueryPtr(c, "status"),
		Severity:      strQueryPtr(c, "severity"),
		WalletAddress: strQueryPtr(c, "wallet"),
		OrderBy:       parseOrder(c.Query("order_by"), alertOrder),
		Asc:           boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListAlerts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountAlerts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get alert
// @Tags alerts
// @Param id path int true "alert id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v2/alerts/{id} [get]
func (h *AlertsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetAlert(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Fail(c, investigation.ErrNotFound, nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Change alert status
// @Tags alerts
// @Param id path int true "alert id"
// @Param body body transitionRequest true "target status"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v2/alerts/{id}/transition [post]
func (h *AlertsHandler) transition(c *gin.Context) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Workflow.TransitionAlert(c.Request.Context(), id, req.To, req.Actor, req.Note)
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Promote alert to an investigation candidate
// @Tags alerts
// @Param id path int true "alert id"
// @Param body body promoteRequest false "actor"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse "candidate_exists carries the existing candidate; meta.terminal marks one that cannot be reopened"
// @Router /api/v2/alerts/{id}/promote [post]
func (h *AlertsHandler) promote(c *gin.Context) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req promoteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	cand, err := h.Workflow.Promote(c.Request.Context(), id, req.Actor)
	if err != nil {
		if errors.Is(err, investigation.ErrCandidateExists) && cand != nil {
			FailWithMeta(c, err, cand, map[string]any{
				"candidate_status": cand.Status,
				"terminal":         investigation.CandidateTerminal(cand.Status),
			})
			return
		}
		Fail(c, err, nil)
		return
	}
	Ok(c, cand, nil)
}
