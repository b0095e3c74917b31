package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"order-relay/internal/broker"
)

const namespace = "order_relay"

// Metrics 汇总中继服务的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	ChildOrders      *prometheus.CounterVec   // result=accepted|failed
	SliceRequests    *prometheus.CounterVec   // outcome=single|sliced|partial|failed
	ChildrenPerSlice prometheus.Histogram
	GatewayLatency   *prometheus.HistogramVec // operation, result
	QuoteFallbacks   prometheus.Counter
	SessionActive    prometheus.Gauge
	Logins           *prometheus.CounterVec // result=success|failure
}

// New 创建并注册全部指标，使用独立 Registry 以便测试重复创建。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ChildOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_orders_total",
			Help:      "Child orders submitted to the broker, by call result.",
		}, []string{"result"}),
		SliceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_requests_total",
			Help:      "Order requests executed, by outcome.",
		}, []string{"outcome"}),
		ChildrenPerSlice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "children_per_request",
			Help:      "Number of child orders submitted per order request.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_seconds",
			Help:      "Broker gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		QuoteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_fallbacks_total",
			Help:      "Position reconciliations where the LTP batch failed and degraded to zero.",
		}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 when an authenticated broker session is held.",
		}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ChildOrders,
		m.SliceRequests,
		m.ChildrenPerSlice,
		m.GatewayLatency,
		m.QuoteFallbacks,
		m.SessionActive,
		m.Logins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ChildSubmitted 实现 execution.Recorder。
func (m *Metrics) ChildSubmitted(err error) {
	if err != nil {
		m.ChildOrders.WithLabelValues("failed").Inc()
		return
	}
	m.ChildOrders.WithLabelValues("accepted").Inc()
}

// SliceFinished 实现 execution.Recorder。
func (m *Metrics) SliceFinished(children int, sliced bool, err error) {
	m.ChildrenPerSlice.Observe(float64(children))
	switch {
	case err != nil && children > 0:
		m.SliceRequests.WithLabelValues("partial").Inc()
	case err != nil:
		m.SliceRequests.WithLabelValues("failed").Inc()
	case sliced:
		m.SliceRequests.WithLabelValues("sliced").Inc()
	default:
		m.SliceRequests.WithLabelValues("single").Inc()
	}
}

// QuoteFallback 实现 position.FallbackRecorder。
func (m *Metrics) QuoteFallback() {
	m.QuoteFallbacks.Inc()
}

// ObserveGatewayCall 记录一次券商调用，签名与 neo.CallObserver 一致。
func (m *Metrics) ObserveGatewayCall(operation string, latency time.Duration, err error) {
	result := "ok"
	var apiErr *broker.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		result = "api_error"
	default:
		result = "transport_error"
	}
	m.GatewayLatency.WithLabelValues(operation, result).Observe(latency.Seconds())
}

// SetSession 更新会话状态。
func (m *Metrics) SetSession(active bool) {
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}

// LoginAttempt 记录登录结果。
func (m *Metrics) LoginAttempt(err error) {
	if err != nil {
		m.Logins.WithLabelValues("failure").Inc()
		return
	}
	m.Logins.WithLabelValues("success").Inc()
}
