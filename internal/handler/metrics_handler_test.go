package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegs-platform/aegs-api/internal/service"
)

func TestMetricsHandlerHealth(t *testing.T) {
	h := NewMetricsHandler(nil)
	c, w := testContext(t, http.MethodGet, "/health", nil)

	h.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetricsHandlerUnavailableWithoutService(t *testing.T) {
	h := NewMetricsHandler(nil)

	c, w := testContext(t, http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = testContext(t, http.MethodGet, "/metrics/summary", nil)
	h.Snapshot(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsHandlerSnapshot(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.ObserveCertificateIssued()
	h := NewMetricsHandler(metrics)

	c, w := testContext(t, http.MethodGet, "/metrics/summary", nil)
	h.Snapshot(c)

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.NotNil(t, envelope.Data)
}
