package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/pattern"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
)

type SettingsHandler struct {
	Repo     repository.Repository
	Settings *settings.Service
	// Registry, when set, is reloaded so new trinity thresholds apply to the
	// next scoring batch.
	Registry *pattern.Registry
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	r.GET("/api/v2/settings/thresholds", h.getThresholds)
	r.PUT("/api/v2/settings/thresholds", h.putThresholds)
	r.GET("/api/v2/patterns", h.patterns)
}

// @Summary Active detection thresholds
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v2/settings/thresholds [get]
func (h *SettingsHandler) getThresholds(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	Ok(c, h.Settings.Thresholds(c.Request.Context()), nil)
}

// @Summary Replace detection thresholds
// @Tags settings
// @Param body body settings.Thresholds true "thresholds"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v2/settings/thresholds [put]
func (h *SettingsHandler) putThresholds(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	var req settings.Thresholds
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := req.Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = "api"
	}
	ctx := c.Request.Context()
	if err := h.Settings.SetThresholds(ctx, req, "detection thresholds (api)"); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if h.Registry != nil {
		if err := h.Registry.Reload(ctx, req.Trinity); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}
	Ok(c, h.Settings.Thresholds(ctx), nil)
}

// @Summary Insider patterns with their measured precision
// @Tags settings
// @Param enabled query bool false "only enabled patterns"
// @Success 200 {object} apiResponse
// @Router /api/v2/patterns [get]
func (h *SettingsHandler) patterns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	enabledOnly := false
	if v := boolQueryPtr(c, "enabled"); v != nil {
		enabledOnly = *v
	}
	items, err := h.Repo.ListInsiderPatterns(c.Request.Context(), enabledOnly)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
