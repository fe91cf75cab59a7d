package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordersIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordCheckout("created")
	m.RecordCheckout("created")
	m.RecordPaymentEvent("stripe", "checkout.session.completed", "applied")
	m.RecordDownload("")
	m.RecordExpiredPending(3)
	m.RecordExpiredPending(0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("created")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.paymentEvents.WithLabelValues("stripe", "checkout.session.completed", "applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues("unknown")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.expiredPending))
}

func TestNewWithRegistererReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewWithRegisterer(reg)
	second := NewWithRegisterer(reg)

	first.RecordCheckout("created")
	require.Equal(t, 1.0, testutil.ToFloat64(second.checkouts.WithLabelValues("created")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordCheckout("created")
		m.RecordFulfillmentFailure("email")
		m.RecordRateLimited("checkout")
	})
}

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/api/downloads/:token/:book_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/downloads/abc/42", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/downloads/:token/:book_id", "204")))
}
