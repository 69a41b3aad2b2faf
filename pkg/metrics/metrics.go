package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	wsConns     *prometheus.GaugeVec
	wsConnTotal *prometheus.CounterVec
	wsMsgCnt    *prometheus.CounterVec
	wsMsgBytes  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	bridgePub   *prometheus.CounterVec
	bridgeQueue prometheus.Gauge
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	wsConns := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "ws_connections"}, []string{"app_id"})
	wsConnTotal := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_connections_total"}, []string{"app_id"})
	wsMsgCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_messages_total"}, []string{"app_id", "direction"})
	wsMsgBytes := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_message_bytes_total"}, []string{"app_id", "direction"})
	r.MustRegister(wsConns, wsConnTotal, wsMsgCnt, wsMsgBytes)

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "rate_limit_rejections_total"}, []string{"app_id", "bucket"})
	bridgePub := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "bridge_publish_total"}, []string{"status"})
	bridgeQueue := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "bridge_queued_publishes"})
	r.MustRegister(rateLimited, bridgePub, bridgeQueue)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		httpInfl:    httpInfl,
		wsConns:     wsConns,
		wsConnTotal: wsConnTotal,
		wsMsgCnt:    wsMsgCnt,
		wsMsgBytes:  wsMsgBytes,
		rateLimited: rateLimited,
		bridgePub:   bridgePub,
		bridgeQueue: bridgeQueue,
	}
}

func (m *Metrics) ConnectionOpened(appID string) {
	m.wsConns.WithLabelValues(appID).Inc()
	m.wsConnTotal.WithLabelValues(appID).Inc()
}

func (m *Metrics) ConnectionClosed(appID string) {
	m.wsConns.WithLabelValues(appID).Dec()
}

func (m *Metrics) MessageReceived(appID string, size int) {
	m.wsMsgCnt.WithLabelValues(appID, "in").Inc()
	m.wsMsgBytes.WithLabelValues(appID, "in").Add(float64(size))
}

func (m *Metrics) MessageSent(appID string, size int) {
	m.wsMsgCnt.WithLabelValues(appID, "out").Inc()
	m.wsMsgBytes.WithLabelValues(appID, "out").Add(float64(size))
}

// RateLimited counts a rejected action. bucket is one of backend, frontend, read.
func (m *Metrics) RateLimited(appID, bucket string) {
	m.rateLimited.WithLabelValues(appID, bucket).Inc()
}

func (m *Metrics) BridgePublished(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.bridgePub.WithLabelValues(status).Inc()
}

func (m *Metrics) BridgeQueueSize(n int) {
	m.bridgeQueue.Set(float64(n))
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = routeFromURL(c.Request.URL.Path)
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// routeFromURL collapses unmatched paths so that 404 probes cannot blow up
// label cardinality.
func routeFromURL(path string) string {
	if strings.HasPrefix(path, "/app/") {
		return "/app/:key"
	}
	if strings.HasPrefix(path, "/apps/") {
		return "/apps/unknown"
	}
	return "unmatched"
}

func httpStatus(code int) string { return strconv.Itoa(code) }
