package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insiderwatch/internal/investigation"
	"insiderwatch/internal/repository"
)

type ScoresHandler struct {
	Repo repository.Repository
}

var scoreOrder = map[string]string{
	"ensemble_score": "ensemble_score",
	"anomaly_score":  "anomaly_score",
	"scored_at":      "scored_at",
	"trade_id":       "trade_id",
}

func (h *ScoresHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v2/scores")
	g.GET("", h.list)
	g.GET("/trades/:trade_id", h.byTrade)
}

// @Summary List trade scores
// @Tags scores
// @Param wallet query string false "wallet address"
// @Param market_id query string false "market id"
// @Param severity query string false "critical|high|medium|low"
// @Param min_score query number false "minimum ensemble score"
// @Param trinity query bool false "only trinity matches"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Param order_by query string false "ensemble_score|anomaly_score|scored_at|trade_id"
// @Param asc query bool false "ascending order"
// @Success 200 {object} apiResponse
// @Router /api/v2/scores [get]
func (h *ScoresHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTradeScoresParams{
		Limit:         limit,
		Offset:        offset,
		WalletAddress: strQueryPtr(c, "wallet"),
		MarketID:      strQueryPtr(c, "market_id"),
		Severity:      strQueryPtr(c, "severity"),
		MinEnsemble:   floatQueryPtr(c, "min_score"),
		Trinity:       boolQueryPtr(c, "trinity"),
		OrderBy:       parseOrder(c.Query("order_by"), scoreOrder),
		Asc:           boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListTradeScores(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTradeScores(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Score of one trade
// @Tags scores
// @Param trade_id path int true "trade id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v2/scores/trades/{trade_id} [get]
func (h *ScoresHandler) byTrade(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "trade_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid trade_id", nil)
		return
	}
	item, err := h.Repo.GetTradeScoreByTradeID(c.Request.Context(), id)
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
