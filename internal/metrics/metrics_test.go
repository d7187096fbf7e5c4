package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/items/:id", "204"))
	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/items/:id", "204")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	AlertsRaised.Inc()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "insiderwatch_investigation_alerts_raised_total"))
}
