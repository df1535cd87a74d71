package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the invoice engine on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	conflicts   prometheus.Counter

	ocrDuration *prometheus.HistogramVec
	ocrFailures *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_status_transitions_total",
			Help: "Applied status transitions by from/to status and origin.",
		}, []string{"from", "to", "origin"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_status_rejections_total",
			Help: "Rejected status change requests by origin.",
		}, []string{"origin"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoice_status_conflicts_total",
			Help: "Optimistic concurrency conflicts seen while changing status.",
		}),
		ocrDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_ocr_duration_seconds",
			Help:    "End-to-end OCR duration by outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		ocrFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_ocr_failures_total",
			Help: "OCR failures by kind (configuration, provider, content).",
		}, []string{"kind"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_jobs_total",
			Help: "Background job executions by job name and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_job_duration_seconds",
			Help:    "Background job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.transitions, m.rejections, m.conflicts,
		m.ocrDuration, m.ocrFailures,
		m.jobRuns, m.jobDuration,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per echo route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveTransition counts one applied status change.
func (m *Metrics) ObserveTransition(from, to, origin string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, origin).Inc()
}

func (m *Metrics) ObserveRejection(origin string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(origin).Inc()
}

func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveOCR records one OCR run; failure is empty on success.
func (m *Metrics) ObserveOCR(d time.Duration, failure string) {
	if m == nil {
		return
	}
	outcome := "success"
	if failure != "" {
		outcome = "failure"
		m.ocrFailures.WithLabelValues(failure).Inc()
	}
	m.ocrDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.jobRuns.WithLabelValues(t.job, status).Inc()
	t.metrics.jobDuration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}
