package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/types"
)

// =============================================================================
// 📡 遥测查询 Handler
// =============================================================================

// TelemetryStore 遥测 API 依赖的收集器能力
type TelemetryStore interface {
	Query(filter observability.EventFilter) []observability.TelemetryEvent
	Stats() observability.CollectorStats
	Chain(rootID string) (*observability.ChainCorrelation, bool)
	Chains() []*observability.ChainCorrelation
	CancelChain(rootID string) (*observability.ChainCorrelation, error)
	AnalyzeChain(rootID string) (*observability.ChainAnalysis, error)
	Anomalies(th observability.AnomalyThresholds) []observability.Anomaly
	AgentPerformance(agentID string) (*observability.AgentPerformance, bool)
	AllAgentPerformance() map[string]*observability.AgentPerformance
}

// TelemetryHandler 事件、委托链、异常与 Agent 性能查询
type TelemetryHandler struct {
	store      TelemetryStore
	thresholds observability.AnomalyThresholds
	logger     *zap.Logger
}

// EventListResponse 事件列表
type EventListResponse struct {
	Events []observability.TelemetryEvent `json:"events"`
	Total  int                            `json:"total"`
}

// ChainListResponse 委托链列表
type ChainListResponse struct {
	Chains []*observability.ChainCorrelation `json:"chains"`
	Total  int                               `json:"total"`
}

// ChainDetailResponse 单条委托链及其分析；链上事件已被淘汰时 Analysis 为空
type ChainDetailResponse struct {
	Chain    *observability.ChainCorrelation `json:"chain"`
	Analysis *observability.ChainAnalysis    `json:"analysis,omitempty"`
}

// AnomalyListResponse 异常列表及所用阈值
type AnomalyListResponse struct {
	Anomalies  []observability.Anomaly         `json:"anomalies"`
	Thresholds observability.AnomalyThresholds `json:"thresholds"`
	Total      int                             `json:"total"`
}

// NewTelemetryHandler 创建遥测处理器，thresholds 为异常检测的默认阈值
func NewTelemetryHandler(store TelemetryStore, thresholds observability.AnomalyThresholds, logger *zap.Logger) *TelemetryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelemetryHandler{
		store:      store,
		thresholds: thresholds,
		logger:     logger.With(zap.String("handler", "telemetry")),
	}
}

// Register 挂载遥测路由
func (h *TelemetryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/events", h.HandleEvents)
	mux.HandleFunc("GET /api/v1/telemetry/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/chains", h.HandleChains)
	mux.HandleFunc("GET /api/v1/chains/{root}", h.HandleChain)
	mux.HandleFunc("POST /api/v1/chains/{root}/cancel", h.HandleCancelChain)
	mux.HandleFunc("GET /api/v1/anomalies", h.HandleAnomalies)
	mux.HandleFunc("GET /api/v1/agents/performance", h.HandleAllPerformance)
	mux.HandleFunc("GET /api/v1/agents/{id}/performance", h.HandlePerformance)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleEvents 按条件查询事件历史
// @Summary 查询遥测事件
// @Tags telemetry
// @Produce json
// @Param agent_id query string false "Agent ID"
// @Param contract_id query string false "合约 ID"
// @Param event_type query string false "事件类型，逗号分隔"
// @Param severity query string false "严重级别，逗号分隔"
// @Param since query string false "起始时间 RFC3339"
// @Param until query string false "结束时间 RFC3339"
// @Param chain_root query string false "链根合约 ID"
// @Param min_depth query int false "最小链深度"
// @Param max_depth query int false "最大链深度"
// @Param limit query int false "返回最新的 N 条"
// @Success 200 {object} Response{data=EventListResponse}
// @Failure 400 {object} Response "查询参数无效"
// @Router /api/v1/events [get]
func (h *TelemetryHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseEventFilter(r.URL.Query())
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	events := h.store.Query(filter)
	if events == nil {
		events = []observability.TelemetryEvent{}
	}
	WriteSuccess(w, EventListResponse{Events: events, Total: len(events)})
}

// HandleStats 返回收集器统计
// @Summary 收集器统计
// @Tags telemetry
// @Produce json
// @Success 200 {object} Response{data=observability.CollectorStats}
// @Router /api/v1/telemetry/stats [get]
func (h *TelemetryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.store.Stats())
}

// HandleChains 列出委托链，可按 status 过滤
// @Summary 委托链列表
// @Tags telemetry
// @Produce json
// @Param status query string false "active/completed/failed/cancelled"
// @Success 200 {object} Response{data=ChainListResponse}
// @Router /api/v1/chains [get]
func (h *TelemetryHandler) HandleChains(w http.ResponseWriter, r *http.Request) {
	status := observability.ChainStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	chains := make([]*observability.ChainCorrelation, 0)
	for _, c := range h.store.Chains() {
		if status == "" || c.ChainStatus == status {
			chains = append(chains, c)
		}
	}
	WriteSuccess(w, ChainListResponse{Chains: chains, Total: len(chains)})
}

// HandleChain 返回单条委托链及分析
// @Summary 委托链详情
// @Tags telemetry
// @Produce json
// @Param root path string true "链根合约 ID"
// @Success 200 {object} Response{data=ChainDetailResponse}
// @Failure 404 {object} Response "链不存在"
// @Router /api/v1/chains/{root} [get]
func (h *TelemetryHandler) HandleChain(w http.ResponseWriter, r *http.Request) {
	root, ok := pathID(w, r, "root", h.logger)
	if !ok {
		return
	}

	chain, found := h.store.Chain(root)
	analysis, err := h.store.AnalyzeChain(root)
	if err != nil && !types.IsCode(err, types.ErrChainNotFound) {
		handleError(w, err, h.logger)
		return
	}
	if !found && analysis == nil {
		WriteError(w, types.NewError(types.ErrChainNotFound, "chain not found: "+root), h.logger)
		return
	}
	WriteSuccess(w, ChainDetailResponse{Chain: chain, Analysis: analysis})
}

// HandleCancelChain 将活跃链标记为 cancelled
// @Summary 取消委托链
// @Tags telemetry
// @Produce json
// @Param root path string true "链根合约 ID"
// @Success 200 {object} Response{data=observability.ChainCorrelation}
// @Failure 404 {object} Response "链不存在"
// @Router /api/v1/chains/{root}/cancel [post]
func (h *TelemetryHandler) HandleCancelChain(w http.ResponseWriter, r *http.Request) {
	root, ok := pathID(w, r, "root", h.logger)
	if !ok {
		return
	}
	chain, err := h.store.CancelChain(root)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	h.logger.Info("chain cancelled",
		zap.String("root_delegation_id", root),
		zap.String("status", string(chain.ChainStatus)),
	)
	WriteSuccess(w, chain)
}

// HandleAnomalies 检测异常链；查询参数可覆盖默认阈值
// @Summary 异常检测
// @Tags telemetry
// @Produce json
// @Param max_depth query int false "最大链深度"
// @Param max_duration_ms query int false "最长链耗时（毫秒）"
// @Param min_success_rate query number false "最低成功率"
// @Param max_retries query int false "最多重试次数"
// @Success 200 {object} Response{data=AnomalyListResponse}
// @Failure 400 {object} Response "阈值无效"
// @Router /api/v1/anomalies [get]
func (h *TelemetryHandler) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	th, err := parseThresholds(r.URL.Query(), h.thresholds)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	anomalies := h.store.Anomalies(th)
	if anomalies == nil {
		anomalies = []observability.Anomaly{}
	}
	WriteSuccess(w, AnomalyListResponse{Anomalies: anomalies, Thresholds: th, Total: len(anomalies)})
}

// HandlePerformance 返回单个 Agent 的聚合指标
// @Summary Agent 性能
// @Tags telemetry
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=observability.AgentPerformance}
// @Failure 404 {object} Response "无该 Agent 的遥测"
// @Router /api/v1/agents/{id}/performance [get]
func (h *TelemetryHandler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	perf, found := h.store.AgentPerformance(agentID)
	if !found {
		WriteError(w, types.NewError(types.ErrAgentNotFound, "no telemetry for agent "+agentID), h.logger)
		return
	}
	WriteSuccess(w, perf)
}

// HandleAllPerformance 返回所有 Agent 的聚合指标
// @Summary 全部 Agent 性能
// @Tags telemetry
// @Produce json
// @Success 200 {object} Response{data=map[string]observability.AgentPerformance}
// @Router /api/v1/agents/performance [get]
func (h *TelemetryHandler) HandleAllPerformance(w http.ResponseWriter, r *http.Request) {
	perf := h.store.AllAgentPerformance()
	if perf == nil {
		perf = map[string]*observability.AgentPerformance{}
	}
	WriteSuccess(w, perf)
}

// =============================================================================
// 🔧 查询参数解析
// =============================================================================

// ParseEventFilter 从查询参数构造事件过滤条件。
// event_type 与 severity 支持逗号分隔或重复参数。
func ParseEventFilter(q url.Values) (observability.EventFilter, error) {
	f := observability.EventFilter{
		AgentID:    strings.TrimSpace(q.Get("agent_id")),
		ContractID: strings.TrimSpace(q.Get("contract_id")),
		ChainRoot:  strings.TrimSpace(q.Get("chain_root")),
	}

	for _, t := range splitList(q["event_type"]) {
		f.EventTypes = append(f.EventTypes, lifecycle.EventType(t))
	}
	for _, s := range splitList(q["severity"]) {
		sev, err := lifecycle.ParseSeverity(s)
		if err != nil {
			return f, types.NewValidationError("severity", "unknown severity %q", s)
		}
		f.Severities = append(f.Severities, sev)
	}

	var err error
	if f.Since, err = parseTime(q, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		return f, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, types.NewValidationError("until", "until must not be before since")
	}

	if f.MinDepth, err = parseOptionalInt(q, "min_depth"); err != nil {
		return f, err
	}
	if f.MaxDepth, err = parseOptionalInt(q, "max_depth"); err != nil {
		return f, err
	}
	limit, err := parseOptionalInt(q, "limit")
	if err != nil {
		return f, err
	}
	if limit != nil {
		f.Limit = *limit
	}
	return f, nil
}

func parseThresholds(q url.Values, defaults observability.AnomalyThresholds) (observability.AnomalyThresholds, error) {
	th := defaults
	if v, err := parseOptionalInt(q, "max_depth"); err != nil {
		return th, err
	} else if v != nil {
		th.MaxDepth = *v
	}
	if v, err := parseOptionalInt(q, "max_retries"); err != nil {
		return th, err
	} else if v != nil {
		th.MaxRetries = *v
	}
	if raw := strings.TrimSpace(q.Get("max_duration_ms")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return th, types.NewValidationError("max_duration_ms", "max_duration_ms must be a non-negative integer")
		}
		th.MaxDurationMs = v
	}
	if raw := strings.TrimSpace(q.Get("min_success_rate")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return th, types.NewValidationError("min_success_rate", "min_success_rate must be within [0,1]")
		}
		th.MinSuccessRate = v
	}
	return th, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, types.NewValidationError(key, "%s must be an RFC3339 timestamp", key)
	}
	return t, nil
}

func parseOptionalInt(q url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, types.NewValidationError(key, "%s must be a non-negative integer", key)
	}
	return &v, nil
}
