package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 应用的 Prometheus 指标
// 所有 Observe* 方法对 nil 接收者安全，未启用指标时可直接传 nil
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	storeMutations    *prometheus.CounterVec
	validations       *prometheus.CounterVec
	sessions          prometheus.Gauge
	strategiesSaved   prometheus.Counter
	integrationChecks *prometheus.CounterVec
}

// NewCollector 创建独立 registry 的指标集合
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_mutations_total",
			Help:      "Strategy store mutations by event type",
		}, []string{"event"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_validations_total",
			Help:      "Strategy validations by outcome",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builder_sessions",
			Help:      "Number of live builder sessions",
		}),
		strategiesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategies_saved_total",
			Help:      "Strategies persisted to the repository",
		}),
		integrationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_checks_total",
			Help:      "Upstream integration checks by provider and status",
		}, []string{"provider", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests,
		c.httpDuration,
		c.storeMutations,
		c.validations,
		c.sessions,
		c.strategiesSaved,
		c.integrationChecks,
	)
	return c
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware 记录 HTTP 请求数与耗时，route 取 chi 路由模式以避免高基数
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (c *Collector) ObserveMutation(eventType string) {
	if c == nil {
		return
	}
	c.storeMutations.WithLabelValues(eventType).Inc()
}

func (c *Collector) ObserveValidation(valid bool) {
	if c == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.validations.WithLabelValues(result).Inc()
}

func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(n))
}

func (c *Collector) ObserveSave() {
	if c == nil {
		return
	}
	c.strategiesSaved.Inc()
}

func (c *Collector) ObserveIntegration(provider, status string) {
	if c == nil {
		return
	}
	c.integrationChecks.WithLabelValues(provider, status).Inc()
}
