package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hospital-radius/internal/models"
)

// Metrics holds the service's Prometheus collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pipelineRuns        *prometheus.CounterVec
	pipelineDuration    prometheus.Histogram
	rowsRead            prometheus.Counter
	rowsDropped         *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	jobsActive          prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hospital_radius_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hospital_radius_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	m.pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hospital_radius_pipeline_runs_total",
			Help: "Validate and distance runs by outcome",
		},
		[]string{"outcome"},
	)
	m.pipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hospital_radius_pipeline_duration_seconds",
			Help:    "Time spent validating and measuring an upload",
			Buckets: prometheus.DefBuckets,
		},
	)
	m.rowsRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hospital_radius_rows_read_total",
			Help: "Data rows read from uploads",
		},
	)
	m.rowsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hospital_radius_rows_dropped_total",
			Help: "Rows excluded by the validator, by reason",
		},
		[]string{"reason"},
	)
	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hospital_radius_cache_lookups_total",
			Help: "Prepared-set cache lookups by result",
		},
		[]string{"result"},
	)
	m.jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hospital_radius_jobs",
			Help: "Jobs currently held in memory",
		},
	)

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.pipelineRuns,
		m.pipelineDuration,
		m.rowsRead,
		m.rowsDropped,
		m.cacheLookups,
		m.jobsActive,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObservePipeline(outcome string, d time.Duration) {
	m.pipelineRuns.WithLabelValues(outcome).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRows(read int, dropped models.DropReport) {
	m.rowsRead.Add(float64(read))
	m.rowsDropped.WithLabelValues("missing_name").Add(float64(dropped.MissingName))
	m.rowsDropped.WithLabelValues("unparseable_coordinate").Add(float64(dropped.UnparseableCoordinate))
	m.rowsDropped.WithLabelValues("out_of_range_coordinate").Add(float64(dropped.OutOfRangeCoordinate))
}

func (m *Metrics) CacheHit()  { m.cacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.cacheLookups.WithLabelValues("miss").Inc() }

func (m *Metrics) SetJobs(n int) { m.jobsActive.Set(float64(n)) }
