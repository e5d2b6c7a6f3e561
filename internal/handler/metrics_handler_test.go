package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/siga-edu/siga-api/internal/service"
)

func TestMetricsHandlerSystemSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.ObserveDBQuery("enrollments", 5*time.Millisecond)
	h := NewMetricsHandler(metrics)

	c, w := newGinContext(http.MethodGet, "/metrics/system", nil)
	h.System(c)
	require.Equal(t, http.StatusOK, w.Code)

	envelope := decodeEnvelope(t, w.Body.Bytes())
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(1), data["db_query_count"])
}

func TestMetricsHandlerHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil)

	c, w := newGinContext(http.MethodGet, "/health", nil)
	h.Health(c)
	require.Equal(t, http.StatusOK, w.Code)
}
