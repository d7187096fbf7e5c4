package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/investigation"
	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
)

type CandidatesHandler struct {
	Repo     repository.Repository
	Workflow *investigation.Workflow
	// QueueLimit is the default queue length; 50 when unset.
	QueueLimit int
}

type noteRequest struct {
	Author string `json:"author"`
	Body   string `json:"body" binding:"required"`
}

type candidateDetail struct {
	Candidate *models.InvestigationCandidate `json:"candidate"`
	Notes     []models.CandidateNote         `json:"notes"`
}

var candidateOrder = map[string]string{
	"peak_score": "peak_score",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"alerts":     "alert_count",
}

func (h *CandidatesHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v2/candidates")
	g.GET("", h.list)
	g.GET("/queue", h.queue)
	g.GET("/:id", h.get)
	g.POST("/:id/transition", h.transition)
	g.GET("/:id/notes", h.notes)
	g.POST("/:id/notes", h.addNote)
}

// @Summary List investigation candidates
// @Tags candidates
// @Param status query string false "comma separated statuses"
// @Param priority query string false "critical|high|medium|low"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Param order_by query string false "peak_score|created_at|updated_at|alerts"
// @Param asc query bool false "ascending order"
// @Success 200 {object} apiResponse
// @Router /api/v2/candidates [get]
func (h *CandidatesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListCandidatesParams{
		Limit:    limit,
		Offset:   offset,
		Statuses: csvQuery(c, "status"),
		Priority: strQueryPtr(c, "priority"),
		OrderBy:  parseOrder(c.Query("order_by"), candidateOrder),
		Asc:      boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListCandidates(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountCandidates(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Ranked queue of open candidates
// @Tags candidates
// @Param limit query int false "max items"
// @Success 200 {object} apiResponse
// @Router /api/v2/candidates/queue [get]
func (h *CandidatesHandler) queue(c *gin.Context) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	def := h.QueueLimit
	if def <= 0 {
		def = 50
	}
	limit := intQuery(c, "limit", def)
	items, err := h.Workflow.Queue(c.Request.Context(), limit)
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Get candidate with its audit trail
// @Tags candidates
// @Param id path int true "candidate id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v2/candidates/{id} [get]
func (h *CandidatesHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	ctx := c.Request.Context()
	item, err := h.Repo.GetCandidate(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Fail(c, investigation.ErrNotFound, nil)
		return
	}
	notes, err := h.Repo.ListCandidateNotes(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, candidateDetail{Candidate: item, Notes: notes}, nil)
}

// @Summary Change candidate status
// @Tags candidates
// @Param id path int true "candidate id"
// @Param body body transitionRequest true "target status"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v2/candidates/{id}/transition [post]
func (h *CandidatesHandler) transition(c *gin.Context) {
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
	item, err := h.Workflow.TransitionCandidate(c.Request.Context(), id, req.To, req.Actor, req.Note)
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CandidatesHandler) notes(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListCandidateNotes(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Append a note to a candidate
// @Tags candidates
// @Param id path int true "candidate id"
// @Param body body noteRequest true "note"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v2/candidates/{id}/notes [post]
func (h *CandidatesHandler) addNote(c *gin.Context) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	note, err := h.Workflow.AddNote(c.Request.Context(), id, req.Author, req.Body)
	if err != nil {
		Fail(c, err, nil)
		return
	}
	Ok(c, note, nil)
}
