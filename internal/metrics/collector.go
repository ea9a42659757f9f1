// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有记录方法对 nil 接收者安全，组件未注入收集器时直接跳过。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 注册表指标
	registryManifests *prometheus.GaugeVec
	registryQueries   *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec

	// 准入指标
	admissionDecisions  *prometheus.CounterVec
	admissionConfidence *prometheus.HistogramVec
	firebreakTriggers   *prometheus.CounterVec

	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionRetries  *prometheus.CounterVec
	executionsRunning prometheus.Gauge

	// 遥测指标
	eventsRecorded *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	eventsFlushed  prometheus.Counter
	flushDuration  prometheus.Histogram
	sinkFailures   *prometheus.CounterVec
	anomalies      *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到 Prometheus 默认注册表
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，注册到指定注册表
func NewCollectorWithRegisterer(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 注册表指标
	c.registryManifests = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_manifests",
			Help:      "Number of registered capability manifests by availability",
		},
		[]string{"availability"},
	)

	c.registryQueries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_queries_total",
			Help:      "Total number of capability queries",
		},
		[]string{"result"}, // result: matched, empty
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 准入指标
	c.admissionDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Total number of admission decisions",
		},
		[]string{"agent_id", "outcome", "gate"},
	)

	c.admissionConfidence = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_confidence",
			Help:      "Confidence of accepted contracts",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"agent_id"},
	)

	c.firebreakTriggers = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firebreak_triggers_total",
			Help:      "Total number of triggered firebreaks",
		},
		[]string{"type", "action"},
	)

	// 执行指标
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of contract executions",
		},
		[]string{"agent_id", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Contract execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_id"},
	)

	c.executionRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_retries_total",
			Help:      "Total number of execution retries",
		},
		[]string{"agent_id", "condition"},
	)

	c.executionsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Number of executions currently in flight",
		},
	)

	// 遥测指标
	c.eventsRecorded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_recorded_total",
			Help:      "Total number of recorded telemetry events",
		},
		[]string{"event_type"},
	)

	c.eventsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_dropped_total",
			Help:      "Total number of telemetry events filtered before buffering",
		},
		[]string{"reason"}, // reason: severity, sampling
	)

	c.eventsFlushed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_flushed_total",
			Help:      "Total number of telemetry events flushed to sinks",
		},
	)

	c.flushDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telemetry_flush_duration_seconds",
			Help:      "Telemetry flush duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.sinkFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sink_failures_total",
			Help:      "Total number of failed sink writes",
		},
		[]string{"sink"},
	)

	c.anomalies = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_anomalies_total",
			Help:      "Total number of detected delegation chain anomalies",
		},
		[]string{"type", "severity"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📇 注册表指标记录
// =============================================================================

// SetManifestCount 设置某可用状态下的清单数量
func (c *Collector) SetManifestCount(availability string, count int) {
	if c == nil {
		return
	}
	c.registryManifests.WithLabelValues(availability).Set(float64(count))
}

// RecordRegistryQuery 记录能力查询
func (c *Collector) RecordRegistryQuery(matches int) {
	if c == nil {
		return
	}
	result := "matched"
	if matches == 0 {
		result = "empty"
	}
	c.registryQueries.WithLabelValues(result).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🛂 准入指标记录
// =============================================================================

// RecordAdmission 记录一次准入决策，gate 为拒绝所在的关卡，接受时为空
func (c *Collector) RecordAdmission(agentID string, accepted bool, gate string, confidence float64) {
	if c == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
		gate = "none"
		c.admissionConfidence.WithLabelValues(agentID).Observe(confidence)
	}
	c.admissionDecisions.WithLabelValues(agentID, outcome, gate).Inc()
}

// RecordFirebreak 记录熔断触发
func (c *Collector) RecordFirebreak(firebreakType, action string) {
	if c == nil {
		return
	}
	c.firebreakTriggers.WithLabelValues(firebreakType, action).Inc()
}

// =============================================================================
// ⚙️ 执行指标记录
// =============================================================================

// ExecutionStarted 标记执行开始
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.executionsRunning.Inc()
}

// RecordExecution 记录执行结束
func (c *Collector) RecordExecution(agentID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsRunning.Dec()
	c.executionsTotal.WithLabelValues(agentID, status).Inc()
	c.executionDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(agentID, condition string) {
	if c == nil {
		return
	}
	c.executionRetries.WithLabelValues(agentID, condition).Inc()
}

// =============================================================================
// 📡 遥测指标记录
// =============================================================================

// RecordEvent 记录已缓冲的事件
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordEventDropped 记录被过滤的事件
func (c *Collector) RecordEventDropped(reason string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordFlush 记录一次刷新
func (c *Collector) RecordFlush(events int, duration time.Duration) {
	if c == nil {
		return
	}
	c.eventsFlushed.Add(float64(events))
	c.flushDuration.Observe(duration.Seconds())
}

// RecordSinkFailure 记录输出端写入失败
func (c *Collector) RecordSinkFailure(sink string) {
	if c == nil {
		return
	}
	c.sinkFailures.WithLabelValues(sink).Inc()
}

// RecordAnomaly 记录检测到的链路异常
func (c *Collector) RecordAnomaly(anomalyType, severity string) {
	if c == nil {
		return
	}
	c.anomalies.WithLabelValues(anomalyType, severity).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
