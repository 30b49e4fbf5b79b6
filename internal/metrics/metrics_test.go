package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	m := New()

	m.Converted("png", 2048)
	m.Converted("png", 4096)
	m.Converted("jpg", 100)
	m.Downloaded("image/png", 10)
	m.Rejected("rate_limited")
	m.Rejected("rate_limited")
	m.Swept(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Conversions.WithLabelValues("png")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversions.WithLabelValues("jpg")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues("image/png")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rejections.WithLabelValues("rate_limited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ArtifactsSwept))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Rejected("not_found")
	m.ObserveRequest("/download", http.StatusNotFound, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `grayavatar_requests_rejected_total{reason="not_found"} 1`)
	assert.Contains(t, rr.Body.String(), "grayavatar_http_request_duration_seconds")
}
