package metrics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes storefront Prometheus instruments.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	checkouts        *prometheus.CounterVec
	paymentEvents    *prometheus.CounterVec
	fulfillmentFails *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	expiredPending   prometheus.Counter
}

// New registers the instruments on the default Prometheus registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the instruments on reg, reusing collectors that
// are already registered under the same name.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		httpRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})),
		httpDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
		checkouts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"})),
		paymentEvents: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_payment_events_total",
			Help: "Payment webhook events by provider, type and outcome.",
		}, []string{"provider", "event_type", "outcome"})),
		fulfillmentFails: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_fulfillment_failures_total",
			Help: "Post-payment side effects that failed, by step.",
		}, []string{"step"})),
		downloads: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_downloads_total",
			Help: "Download attempts by outcome.",
		}, []string{"outcome"})),
		rateLimited: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by endpoint.",
		}, []string{"endpoint"})),
		expiredPending: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_expired_pending_purchases_total",
			Help: "Pending purchases marked failed by the expiry job.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveHTTPRequest records an HTTP request and its latency.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = sanitizeLabel(strings.ToUpper(method))
	route = sanitizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

func (m *Metrics) RecordPaymentEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(eventType), sanitizeLabel(outcome)).Inc()
}

func (m *Metrics) RecordFulfillmentFailure(step string) {
	if m == nil {
		return
	}
	m.fulfillmentFails.WithLabelValues(sanitizeLabel(step)).Inc()
}

func (m *Metrics) RecordDownload(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(sanitizeLabel(endpoint)).Inc()
}

func (m *Metrics) RecordExpiredPending(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expiredPending.Add(float64(count))
}

// GinMiddleware observes every request using the matched route template.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func sanitizeLabel(val string) string {
	if strings.TrimSpace(val) == "" {
		return "unknown"
	}
	return val
}
