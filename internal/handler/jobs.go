package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/jobs"
)

type JobsHandler struct {
	Queue jobs.Queue
}

func (h *JobsHandler) Register(r *gin.Engine) {
	r.POST("/api/v2/jobs/:name/trigger", h.trigger)
}

// trigger runs a registered job synchronously and reports its outcome.
//
// @Summary Run a background job now
// @Tags jobs
// @Param name path string true "job name"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v2/jobs/{name}/trigger [post]
func (h *JobsHandler) trigger(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "job queue unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	started := time.Now()
	if err := h.Queue.Trigger(c.Request.Context(), name); err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, gin.H{"job": name, "duration_ms": time.Since(started).Milliseconds()}, nil)
}
