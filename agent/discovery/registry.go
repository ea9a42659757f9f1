package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/types"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// CapabilityRegistry stores capability manifests in memory and answers
// ranked capability queries.
type CapabilityRegistry struct {
	mu sync.RWMutex

	// manifests stores registered manifests by agent ID.
	manifests map[string]*CapabilityManifest

	// eventHandlers stores subscribed event handlers.
	eventHandlers map[string]RegistryEventHandler
	handlerMu     sync.RWMutex
	handlerSeq    atomic.Int64

	// matcher decides task-pattern matches in queries.
	matcher TaskMatcher

	// queryCache holds recent query results. Flushed on every mutation.
	queryCache *cache.Cache

	config  *RegistryConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// RegistryConfig holds configuration for the capability registry.
type RegistryConfig struct {
	// QueryCacheTTL enables caching of query results when positive.
	QueryCacheTTL time.Duration `json:"query_cache_ttl" yaml:"query_cache_ttl"`

	// SuccessRateSmoothing is the EMA factor applied by RecordCompletion.
	SuccessRateSmoothing float64 `json:"success_rate_smoothing" yaml:"success_rate_smoothing"`

	// Matcher overrides the task matcher used for TaskPatterns.
	Matcher TaskMatcher `json:"-" yaml:"-"`

	// Metrics receives query, cache and manifest gauges. Optional.
	Metrics *metrics.Collector `json:"-" yaml:"-"`
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		QueryCacheTTL:        0,
		SuccessRateSmoothing: 0.1,
	}
}

// NewCapabilityRegistry creates a new capability registry.
func NewCapabilityRegistry(config *RegistryConfig, logger *zap.Logger) *CapabilityRegistry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &CapabilityRegistry{
		manifests:     make(map[string]*CapabilityManifest),
		eventHandlers: make(map[string]RegistryEventHandler),
		matcher:       config.Matcher,
		config:        config,
		metrics:       config.Metrics,
		logger:        logger.With(zap.String("component", "capability_registry")),
		now:           time.Now,
	}
	if r.matcher == nil {
		r.matcher = ExactMatcher{}
	}
	if config.QueryCacheTTL > 0 {
		r.queryCache = cache.New(config.QueryCacheTTL, 2*config.QueryCacheTTL)
	}
	return r
}

// RegisterManifest validates and stores a manifest. Nothing is stored if any
// field is invalid.
func (r *CapabilityRegistry) RegisterManifest(ctx context.Context, manifest *CapabilityManifest) error {
	if manifest == nil {
		return types.NewValidationError("manifest", "manifest is nil")
	}
	if err := ValidateManifest(manifest); err != nil {
		return err
	}

	stored := manifest.Clone()
	if stored.Availability == "" {
		stored.Availability = AvailabilityAvailable
	}
	stored.recomputeConfidence()

	r.mu.Lock()
	if _, exists := r.manifests[stored.AgentID]; exists {
		r.mu.Unlock()
		return types.NewError(types.ErrAgentExists, fmt.Sprintf("agent %s already registered", stored.AgentID))
	}
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.manifests[stored.AgentID] = stored
	r.invalidateLocked()
	r.mu.Unlock()

	r.logger.Info("manifest registered",
		zap.String("agent_id", stored.AgentID),
		zap.Int("capabilities", len(stored.Capabilities)),
		zap.Float64("overall_confidence", stored.OverallConfidence),
	)

	r.emitEvent(&RegistryEvent{
		Type:      RegistryEventRegistered,
		AgentID:   stored.AgentID,
		NewValue:  stored.OverallConfidence,
		Timestamp: now,
	})
	return nil
}

// UpdateManifest merges a partial update into an existing manifest.
func (r *CapabilityRegistry) UpdateManifest(ctx context.Context, agentID string, update *ManifestUpdate) error {
	if update == nil {
		return types.NewValidationError("update", "manifest update is nil")
	}

	r.mu.Lock()
	existing, ok := r.manifests[agentID]
	if !ok {
		r.mu.Unlock()
		return notFound(agentID)
	}

	merged := existing.Clone()
	capsChanged := update.Capabilities != nil
	if capsChanged {
		merged.Capabilities = make([]Capability, len(update.Capabilities))
		for i := range update.Capabilities {
			merged.Capabilities[i] = cloneCapability(update.Capabilities[i])
		}
	}
	if update.Availability != nil {
		merged.Availability = *update.Availability
	}
	if update.CurrentWorkload != nil {
		merged.CurrentWorkload = *update.CurrentWorkload
	}
	if update.MaxConcurrentTasks != nil {
		merged.MaxConcurrentTasks = *update.MaxConcurrentTasks
	}
	if update.Specializations != nil {
		merged.Specializations = cloneStrings(update.Specializations)
	}
	if update.SecurityClearance != nil {
		merged.SecurityClearance = *update.SecurityClearance
	}
	if len(update.Metadata) > 0 {
		if merged.Metadata == nil {
			merged.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			merged.Metadata[k] = v
		}
	}

	if err := ValidateManifest(merged); err != nil {
		r.mu.Unlock()
		return err
	}
	if capsChanged {
		merged.recomputeConfidence()
	}
	now := r.now()
	merged.UpdatedAt = now
	r.manifests[agentID] = merged
	r.invalidateLocked()
	r.mu.Unlock()

	r.logger.Debug("manifest updated",
		zap.String("agent_id", agentID),
		zap.Bool("capabilities_changed", capsChanged),
	)

	r.emitEvent(&RegistryEvent{
		Type:      RegistryEventUpdated,
		AgentID:   agentID,
		NewValue:  merged.OverallConfidence,
		Timestamp: now,
	})
	return nil
}

// UnregisterManifest removes an agent's manifest.
func (r *CapabilityRegistry) UnregisterManifest(ctx context.Context, agentID string) error {
	r.mu.Lock()
	if _, ok := r.manifests[agentID]; !ok {
		r.mu.Unlock()
		return notFound(agentID)
	}
	delete(r.manifests, agentID)
	r.invalidateLocked()
	r.mu.Unlock()

	r.logger.Info("manifest unregistered", zap.String("agent_id", agentID))

	r.emitEvent(&RegistryEvent{
		Type:      RegistryEventUnregistered,
		AgentID:   agentID,
		Timestamp: r.now(),
	})
	return nil
}

// GetManifest returns a copy of an agent's manifest.
func (r *CapabilityRegistry) GetManifest(ctx context.Context, agentID string) (*CapabilityManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manifests[agentID]
	if !ok {
		return nil, notFound(agentID)
	}
	return m.Clone(), nil
}

// ListManifests returns copies of all manifests ordered by agent ID.
func (r *CapabilityRegistry) ListManifests(ctx context.Context) ([]*CapabilityManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*CapabilityManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// QueryCapabilities filters, scores and ranks capabilities across all agents.
func (r *CapabilityRegistry) QueryCapabilities(ctx context.Context, query *CapabilityQuery) ([]CapabilityMatch, error) {
	if query == nil {
		query = &CapabilityQuery{}
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key := ""
	if r.queryCache != nil {
		if data, err := json.Marshal(query); err == nil {
			key = string(data)
			if cached, ok := r.queryCache.Get(key); ok {
				r.metrics.RecordCacheHit("capability_query")
				hits := cloneMatches(cached.([]CapabilityMatch))
				r.metrics.RecordRegistryQuery(len(hits))
				return hits, nil
			}
			r.metrics.RecordCacheMiss("capability_query")
		}
	}

	excluded := make(map[string]struct{}, len(query.ExcludeAgents))
	for _, id := range query.ExcludeAgents {
		excluded[id] = struct{}{}
	}
	required := make(map[string]struct{}, len(query.RequiredCapabilities))
	for _, id := range query.RequiredCapabilities {
		required[id] = struct{}{}
	}

	var matches []CapabilityMatch
	for agentID, m := range r.manifests {
		if _, skip := excluded[agentID]; skip {
			continue
		}
		if query.OnlyAvailable && m.Availability != AvailabilityAvailable {
			continue
		}
		matches = append(matches, r.matchManifest(m, query, required)...)
	}

	sortMatches(matches)
	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}

	if key != "" {
		r.queryCache.Set(key, cloneMatches(matches), cache.DefaultExpiration)
	}
	r.metrics.RecordRegistryQuery(len(matches))
	return matches, nil
}

// matchManifest returns the matches contributed by one manifest. When
// capabilities are required, every required id must be present and pass the
// filters or the manifest contributes nothing.
func (r *CapabilityRegistry) matchManifest(m *CapabilityManifest, q *CapabilityQuery, required map[string]struct{}) []CapabilityMatch {
	ratio := m.WorkloadRatio()
	var out []CapabilityMatch
	passed := make(map[string]struct{}, len(required))

	for i := range m.Capabilities {
		c := &m.Capabilities[i]
		_, exact := required[c.CapabilityID]
		if len(required) > 0 && !exact {
			continue
		}
		if !r.passesFilters(m, c, q) {
			continue
		}
		if exact {
			passed[c.CapabilityID] = struct{}{}
		}
		out = append(out, CapabilityMatch{
			AgentID:       m.AgentID,
			Capability:    cloneCapability(*c),
			Score:         CapabilityScore(c, ratio, m.Availability),
			Priority:      CapabilityPriority(c, ratio, m.Availability, exact),
			Availability:  m.Availability,
			WorkloadRatio: ratio,
			ExactMatch:    exact,
		})
	}

	if len(required) > 0 && len(passed) < len(required) {
		return nil
	}
	return out
}

func (r *CapabilityRegistry) passesFilters(m *CapabilityManifest, c *Capability, q *CapabilityQuery) bool {
	if c.ConfidenceLevel < q.MinConfidence {
		return false
	}
	if q.MaxCompletionTimeMs > 0 && c.CompletionTimeEstimateMs > q.MaxCompletionTimeMs {
		return false
	}
	if q.RequiredClearance != "" &&
		!ClearanceSatisfies(m.SecurityClearance, q.RequiredClearance) &&
		!c.HasTag(q.RequiredClearance) {
		return false
	}
	if c.SuccessRate < q.MinSuccessRate {
		return false
	}
	if c.SuccessfulCompletions < q.MinCompletions {
		return false
	}
	for _, tag := range q.RequiredTags {
		if !c.HasTag(tag) {
			return false
		}
	}
	if len(q.TaskPatterns) > 0 {
		matched := false
		for _, task := range q.TaskPatterns {
			if r.matcher.Match(task, c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// UpdateWorkload sets an agent's workload counter.
func (r *CapabilityRegistry) UpdateWorkload(ctx context.Context, agentID string, workload int) error {
	if workload < 0 {
		return types.NewValidationError("current_workload", "workload %d must not be negative", workload)
	}
	_, err := r.adjustWorkload(agentID, func(int) int { return workload })
	return err
}

// IncrementWorkload adds one to an agent's workload and returns the new value.
func (r *CapabilityRegistry) IncrementWorkload(ctx context.Context, agentID string) (int, error) {
	return r.adjustWorkload(agentID, func(w int) int { return w + 1 })
}

// DecrementWorkload subtracts one from an agent's workload, never going below
// zero, and returns the new value.
func (r *CapabilityRegistry) DecrementWorkload(ctx context.Context, agentID string) (int, error) {
	return r.adjustWorkload(agentID, func(w int) int {
		if w <= 0 {
			return 0
		}
		return w - 1
	})
}

func (r *CapabilityRegistry) adjustWorkload(agentID string, fn func(int) int) (int, error) {
	r.mu.Lock()
	m, ok := r.manifests[agentID]
	if !ok {
		r.mu.Unlock()
		return 0, notFound(agentID)
	}
	old := m.CurrentWorkload
	m.CurrentWorkload = fn(old)
	current := m.CurrentWorkload
	now := r.now()
	m.UpdatedAt = now
	r.invalidateLocked()
	r.mu.Unlock()

	if old != current {
		r.emitEvent(&RegistryEvent{
			Type:      RegistryEventWorkloadChanged,
			AgentID:   agentID,
			OldValue:  float64(old),
			NewValue:  float64(current),
			Timestamp: now,
		})
	}
	return current, nil
}

// UpdateConfidence sets one capability's confidence and recomputes the
// manifest's overall confidence.
func (r *CapabilityRegistry) UpdateConfidence(ctx context.Context, agentID, capabilityID string, confidence float64) error {
	old, err := r.setConfidence(agentID, capabilityID, confidence, false)
	if err != nil {
		return err
	}

	r.logger.Debug("confidence updated",
		zap.String("agent_id", agentID),
		zap.String("capability_id", capabilityID),
		zap.Float64("old", old),
		zap.Float64("new", confidence),
	)

	r.emitEvent(&RegistryEvent{
		Type:         RegistryEventConfidenceUpdated,
		AgentID:      agentID,
		CapabilityID: capabilityID,
		OldValue:     old,
		NewValue:     confidence,
		Timestamp:    r.now(),
	})
	return nil
}

// setConfidence applies a confidence value and returns the previous one.
func (r *CapabilityRegistry) setConfidence(agentID, capabilityID string, confidence float64, assessed bool) (float64, error) {
	if err := checkUnit("confidence_level", confidence); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.manifests[agentID]
	if !ok {
		return 0, notFound(agentID)
	}
	c, ok := m.Capability(capabilityID)
	if !ok {
		return 0, types.NewError(types.ErrCapabilityNotFound,
			fmt.Sprintf("capability %s not found for agent %s", capabilityID, agentID))
	}

	old := c.ConfidenceLevel
	c.ConfidenceLevel = confidence
	now := r.now()
	if assessed {
		c.LastAssessedAt = now
	}
	m.recomputeConfidence()
	m.UpdatedAt = now
	r.invalidateLocked()
	return old, nil
}

// RecordCompletion feeds one task outcome into a capability's statistics:
// successes increment the completion counter, and the success rate follows
// an exponential moving average.
func (r *CapabilityRegistry) RecordCompletion(ctx context.Context, agentID, capabilityID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.manifests[agentID]
	if !ok {
		return notFound(agentID)
	}
	c, ok := m.Capability(capabilityID)
	if !ok {
		return types.NewError(types.ErrCapabilityNotFound,
			fmt.Sprintf("capability %s not found for agent %s", capabilityID, agentID))
	}

	alpha := r.config.SuccessRateSmoothing
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	observed := 0.0
	if success {
		observed = 1
		c.SuccessfulCompletions++
	}
	c.SuccessRate = clamp01(c.SuccessRate*(1-alpha) + observed*alpha)
	m.UpdatedAt = r.now()
	r.invalidateLocked()
	return nil
}

// Subscribe registers an event handler and returns its subscription ID.
func (r *CapabilityRegistry) Subscribe(handler RegistryEventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := fmt.Sprintf("registry-sub-%d", r.handlerSeq.Add(1))
	r.eventHandlers[id] = handler
	return id
}

// Unsubscribe removes an event handler.
func (r *CapabilityRegistry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	delete(r.eventHandlers, subscriptionID)
}

// emitEvent delivers an event to all handlers. It is always called without
// the registry lock held so handlers may query the registry.
func (r *CapabilityRegistry) emitEvent(event *RegistryEvent) {
	r.handlerMu.RLock()
	handlers := make([]RegistryEventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("registry event handler panicked", zap.Any("recover", rec))
				}
			}()
			h(event)
		}()
	}
}

func (r *CapabilityRegistry) invalidateLocked() {
	if r.queryCache != nil {
		r.queryCache.Flush()
	}
	if r.metrics == nil {
		return
	}
	counts := map[Availability]int{
		AvailabilityAvailable:   0,
		AvailabilityBusy:        0,
		AvailabilityOffline:     0,
		AvailabilityMaintenance: 0,
	}
	for _, m := range r.manifests {
		counts[m.Availability]++
	}
	for a, n := range counts {
		r.metrics.SetManifestCount(string(a), n)
	}
}

// ValidateManifest checks identifiers, ranges and uniqueness.
func ValidateManifest(m *CapabilityManifest) error {
	if m.AgentID == "" {
		return types.NewValidationError("agent_id", "agent_id is required")
	}
	if m.Availability != "" && !m.Availability.Valid() {
		return types.NewValidationError("availability", "unknown availability %q", m.Availability)
	}
	if m.CurrentWorkload < 0 {
		return types.NewValidationError("current_workload", "current_workload must not be negative")
	}
	if m.MaxConcurrentTasks < 0 {
		return types.NewValidationError("max_concurrent_tasks", "max_concurrent_tasks must not be negative")
	}

	seen := make(map[string]struct{}, len(m.Capabilities))
	for i := range m.Capabilities {
		c := &m.Capabilities[i]
		if c.CapabilityID == "" {
			return types.NewValidationError("capability_id", "capability %d has no capability_id", i)
		}
		if _, dup := seen[c.CapabilityID]; dup {
			return types.NewValidationError("capability_id", "duplicate capability %s", c.CapabilityID)
		}
		seen[c.CapabilityID] = struct{}{}

		if err := checkUnit("confidence_level", c.ConfidenceLevel); err != nil {
			err.Message = fmt.Sprintf("capability %s: %s", c.CapabilityID, err.Message)
			return err
		}
		if err := checkUnit("success_rate", c.SuccessRate); err != nil {
			err.Message = fmt.Sprintf("capability %s: %s", c.CapabilityID, err.Message)
			return err
		}
		if c.SuccessfulCompletions < 0 {
			return types.NewValidationError("successful_completions",
				"capability %s: successful_completions must not be negative", c.CapabilityID)
		}
		if c.CompletionTimeEstimateMs < 0 {
			return types.NewValidationError("completion_time_estimate_ms",
				"capability %s: completion_time_estimate_ms must not be negative", c.CapabilityID)
		}
	}
	return nil
}

func validateQuery(q *CapabilityQuery) error {
	if err := checkUnit("min_confidence", q.MinConfidence); err != nil {
		return err
	}
	if err := checkUnit("min_success_rate", q.MinSuccessRate); err != nil {
		return err
	}
	if q.Limit < 0 {
		return types.NewValidationError("limit", "limit must not be negative")
	}
	return nil
}

func checkUnit(field string, v float64) *types.Error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return types.NewValidationError(field, "%s %v outside [0,1]", field, v)
	}
	return nil
}

func notFound(agentID string) error {
	return types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %s not found", agentID))
}

func sortMatches(matches []CapabilityMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AgentID != b.AgentID {
			return a.AgentID < b.AgentID
		}
		return a.Capability.CapabilityID < b.Capability.CapabilityID
	})
}

func cloneMatches(in []CapabilityMatch) []CapabilityMatch {
	if in == nil {
		return nil
	}
	out := make([]CapabilityMatch, len(in))
	for i, m := range in {
		m.Capability = cloneCapability(m.Capability)
		out[i] = m
	}
	return out
}
