package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	imageTasks     *prometheus.CounterVec
	sseClients     prometheus.Gauge
	sseDropped     prometheus.Counter

	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rg_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rg_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rg_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rg_gateway_calls_total",
			Help: "Generative gateway calls by provider/op/outcome.",
		}, []string{"provider", "op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rg_gateway_call_duration_seconds",
			Help:    "Generative gateway latency in seconds by provider/op.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 90},
		}, []string{"provider", "op"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rg_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
		imageTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rg_image_tasks_total",
			Help: "Per-step image tasks by outcome.",
		}, []string{"outcome"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rg_sse_clients",
			Help: "Connected SSE clients.",
		}),
		sseDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rg_sse_dropped_frames_total",
			Help: "SSE frames dropped because a client buffer was full.",
		}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rg_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rg_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.gatewayCalls, m.gatewayLatency,
		m.activeSessions, m.imageTasks, m.sseClients, m.sseDropped,
		m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveGatewayCall records one upstream call. outcome is "ok" or a failure reason.
func (m *Metrics) ObserveGatewayCall(provider, op, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(provider, op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(provider, op).Observe(dur.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) IncImageTask(outcome string) {
	if m == nil {
		return
	}
	m.imageTasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SSEClientDelta(delta int) {
	if m == nil {
		return
	}
	m.sseClients.Add(float64(delta))
}

func (m *Metrics) IncSSEDropped() {
	if m == nil {
		return
	}
	m.sseDropped.Inc()
}

// StartRedisCollector pings rdb every interval until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil && ctx.Err() == nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
