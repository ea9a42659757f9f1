package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/types"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func chainEvent(root, contractID, agentID string, depth int, t lifecycle.EventType, offset time.Duration, pm *lifecycle.PerformanceMetrics) TelemetryEvent {
	return TelemetryEvent{
		EventID:         fmt.Sprintf("%s-%s-%d", contractID, t, offset),
		EventType:       t,
		Timestamp:       baseTime.Add(offset),
		AgentID:         agentID,
		ContractID:      contractID,
		DelegationDepth: depth,
		Chain: &ChainCorrelation{
			RootDelegationID: root,
			ChainDepth:       depth,
			ChainStatus:      ChainActive,
		},
		Severity:           lifecycle.SeverityInfo,
		PerformanceMetrics: pm,
	}
}

// uniformTree 生成分支因子为 branching、深度为 depth 的委托树的事件
func uniformTree(root string, branching, depth int) ([]TelemetryEvent, int) {
	var events []TelemetryEvent
	type node struct {
		id    string
		depth int
	}
	queue := []node{{id: root}}
	contracts := 0
	offset := time.Duration(0)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		contracts++
		agent := fmt.Sprintf("agent-%d", n.depth)
		events = append(events,
			chainEvent(root, n.id, agent, n.depth, lifecycle.EventContractCreated, offset, nil),
			chainEvent(root, n.id, agent, n.depth, lifecycle.EventContractCompleted, offset+time.Millisecond, nil),
		)
		offset += 2 * time.Millisecond
		if n.depth < depth {
			for i := 0; i < branching; i++ {
				queue = append(queue, node{id: fmt.Sprintf("%s.%d", n.id, i), depth: n.depth + 1})
			}
		}
	}
	return events, contracts
}

func TestProperty_UniformChainAnalysis(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("max depth and contract count match a uniform tree", prop.ForAll(
		func(branching, depth int) bool {
			events, contracts := uniformTree("root", branching, depth)
			a, err := AnalyzeChain(events, "root")
			if err != nil {
				t.Logf("analyze: %v", err)
				return false
			}
			if a.MaxDepth != depth {
				t.Logf("max depth %d, want %d", a.MaxDepth, depth)
				return false
			}
			if a.TotalContracts != contracts {
				t.Logf("total contracts %d, want %d", a.TotalContracts, contracts)
				return false
			}
			return a.SuccessRate == 1 && len(a.Timeline) == len(events)
		},
		gen.IntRange(1, 3),
		gen.IntRange(0, 4),
	))

	properties.Property("collector correlation preserves uniform tree shape", prop.ForAll(
		func(branching, depth int) bool {
			c := NewCollector(nil, nil, zap.NewNop())
			tree, contracts := uniformTree("root", branching, depth)
			for _, e := range tree {
				parent := ""
				if e.Chain.ChainDepth > 0 {
					parent = "root"
				}
				c.OnEvent(lifecycle.Event{
					Type:             e.EventType,
					AgentID:          e.AgentID,
					ContractID:       e.ContractID,
					RootContractID:   "root",
					ParentContractID: parent,
					Depth:            e.Chain.ChainDepth,
					Severity:         e.Severity,
					Timestamp:        e.Timestamp,
				})
			}
			a, err := c.AnalyzeChain("root")
			if err != nil {
				return false
			}
			chain, ok := c.Chain("root")
			return ok && a.MaxDepth == depth && a.TotalContracts == contracts &&
				chain.ChainDepth == depth && chain.TotalChainContracts == contracts
		},
		gen.IntRange(1, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestAnalyzeChain_NotFound(t *testing.T) {
	_, err := AnalyzeChain([]TelemetryEvent{chainEvent("a", "a", "x", 0, lifecycle.EventContractCreated, 0, nil)}, "b")
	require.Error(t, err)
	assert.Equal(t, types.ErrChainNotFound, types.GetErrorCode(err))
}

func TestAnalyzeChain_Aggregates(t *testing.T) {
	events := []TelemetryEvent{
		chainEvent("r", "r", "boss", 0, lifecycle.EventContractAccepted, 0,
			&lifecycle.PerformanceMetrics{NegotiationTimeMs: lifecycle.Float(10), Confidence: lifecycle.Float(0.9)}),
		chainEvent("r", "c1", "worker", 1, lifecycle.EventContractAccepted, time.Second,
			&lifecycle.PerformanceMetrics{NegotiationTimeMs: lifecycle.Float(30), Confidence: lifecycle.Float(0.7)}),
		chainEvent("r", "c1", "worker", 1, lifecycle.EventContractFailed, 3*time.Second,
			&lifecycle.PerformanceMetrics{ExecutionTimeMs: lifecycle.Float(200), RetryCount: 2}),
		chainEvent("r", "r", "boss", 0, lifecycle.EventContractCompleted, 4*time.Second,
			&lifecycle.PerformanceMetrics{ExecutionTimeMs: lifecycle.Float(400), RetryCount: 1}),
		chainEvent("other", "other", "x", 0, lifecycle.EventContractCompleted, 10*time.Second, nil),
	}

	a, err := AnalyzeChain(events, "r")
	require.NoError(t, err)

	assert.Equal(t, 2, a.TotalContracts)
	assert.Equal(t, 1, a.MaxDepth)
	assert.Equal(t, []string{"boss", "worker"}, a.Participants)
	assert.Equal(t, int64(4000), a.DurationMs)
	assert.Equal(t, 2, a.CompletionEvents)
	assert.InDelta(t, 0.5, a.SuccessRate, 1e-9)
	assert.InDelta(t, 300, a.AvgExecutionTimeMs, 1e-9)
	assert.InDelta(t, 20, a.AvgNegotiationTimeMs, 1e-9)
	assert.InDelta(t, 0.8, a.AvgConfidence, 1e-9)
	assert.Equal(t, 3, a.TotalRetries)
	assert.Equal(t, map[string]int{"completed": 1, "failed": 1}, a.StatusCounts)
	assert.Equal(t, 2, a.EventCounts[lifecycle.EventContractAccepted])
	require.Len(t, a.Timeline, 4)
	assert.Equal(t, lifecycle.EventContractCompleted, a.Timeline[3].EventType)
}

func TestAnalyzeChain_PrefersChainLifecycleTimestamps(t *testing.T) {
	events := []TelemetryEvent{
		chainEvent("r", "r", "a", 0, lifecycle.EventChainStarted, time.Second, nil),
		chainEvent("r", "r", "a", 0, lifecycle.EventContractCreated, 0, nil),
		chainEvent("r", "r", "a", 0, lifecycle.EventChainCompleted, 3*time.Second, nil),
		chainEvent("r", "r", "a", 0, lifecycle.EventProgress, 10*time.Second, nil),
	}

	a, err := AnalyzeChain(events, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), a.DurationMs)
	assert.Equal(t, map[string]int{"active": 1}, a.StatusCounts)
}

func TestFindAnomalies_Severities(t *testing.T) {
	th := DefaultAnomalyThresholds()

	tests := []struct {
		name     string
		events   []TelemetryEvent
		typ      AnomalyType
		severity lifecycle.Severity
	}{
		{
			name:     "depth warning",
			events:   []TelemetryEvent{chainEvent("r", "c", "a", 11, lifecycle.EventContractCreated, 0, nil)},
			typ:      AnomalyExcessiveDepth,
			severity: lifecycle.SeverityWarning,
		},
		{
			name:     "depth critical at 1.5x",
			events:   []TelemetryEvent{chainEvent("r", "c", "a", 15, lifecycle.EventContractCreated, 0, nil)},
			typ:      AnomalyExcessiveDepth,
			severity: lifecycle.SeverityCritical,
		},
		{
			name: "duration warning",
			events: []TelemetryEvent{
				chainEvent("r", "r", "a", 0, lifecycle.EventContractCreated, 0, nil),
				chainEvent("r", "r", "a", 0, lifecycle.EventProgress, 400*time.Second, nil),
			},
			typ:      AnomalyExcessiveDuration,
			severity: lifecycle.SeverityWarning,
		},
		{
			name: "duration critical at 2x",
			events: []TelemetryEvent{
				chainEvent("r", "r", "a", 0, lifecycle.EventContractCreated, 0, nil),
				chainEvent("r", "r", "a", 0, lifecycle.EventProgress, 600*time.Second, nil),
			},
			typ:      AnomalyExcessiveDuration,
			severity: lifecycle.SeverityCritical,
		},
		{
			name: "success rate warning",
			events: []TelemetryEvent{
				chainEvent("r", "a", "a", 0, lifecycle.EventContractCompleted, 0, nil),
				chainEvent("r", "b", "a", 1, lifecycle.EventContractCompleted, 0, nil),
				chainEvent("r", "c", "a", 1, lifecycle.EventContractFailed, 0, nil),
			},
			typ:      AnomalyLowSuccessRate,
			severity: lifecycle.SeverityWarning,
		},
		{
			name: "success rate critical at half the floor",
			events: []TelemetryEvent{
				chainEvent("r", "a", "a", 0, lifecycle.EventContractFailed, 0, nil),
				chainEvent("r", "b", "a", 1, lifecycle.EventExecutionTimeout, 0, nil),
			},
			typ:      AnomalyLowSuccessRate,
			severity: lifecycle.SeverityCritical,
		},
		{
			name: "retries warning",
			events: []TelemetryEvent{
				chainEvent("r", "a", "a", 0, lifecycle.EventContractCompleted, 0, &lifecycle.PerformanceMetrics{RetryCount: 6}),
			},
			typ:      AnomalyExcessiveRetries,
			severity: lifecycle.SeverityWarning,
		},
		{
			name: "retries critical at 2x",
			events: []TelemetryEvent{
				chainEvent("r", "a", "a", 0, lifecycle.EventContractCompleted, 0, &lifecycle.PerformanceMetrics{RetryCount: 10}),
			},
			typ:      AnomalyExcessiveRetries,
			severity: lifecycle.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalies := FindAnomalies(tt.events, th)
			require.Len(t, anomalies, 1)
			assert.Equal(t, tt.typ, anomalies[0].Type)
			assert.Equal(t, tt.severity, anomalies[0].Severity)
			assert.Equal(t, "r", anomalies[0].RootDelegationID)
		})
	}
}

func TestFindAnomalies_SkipsChainsWithoutCompletions(t *testing.T) {
	events := []TelemetryEvent{
		chainEvent("r", "r", "a", 0, lifecycle.EventContractCreated, 0, nil),
		chainEvent("r", "r", "a", 0, lifecycle.EventExecutionStarted, time.Second, nil),
	}
	assert.Empty(t, FindAnomalies(events, DefaultAnomalyThresholds()))
}

func TestFindAnomalies_OrderedByRoot(t *testing.T) {
	events := []TelemetryEvent{
		chainEvent("z", "z", "a", 12, lifecycle.EventContractCreated, 0, nil),
		chainEvent("a", "a", "a", 12, lifecycle.EventContractCreated, 0, nil),
	}
	anomalies := FindAnomalies(events, DefaultAnomalyThresholds())
	require.Len(t, anomalies, 2)
	assert.Equal(t, "a", anomalies[0].RootDelegationID)
	assert.Equal(t, "z", anomalies[1].RootDelegationID)
}

func TestAnalyzeChain_TimelineUsesContractDepth(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())
	c.OnEvent(lifecycleEvent(lifecycle.EventContractCreated, "r", "r", 0))
	c.OnEvent(lifecycleEvent(lifecycle.EventContractCreated, "c1", "r", 1))
	c.OnEvent(lifecycleEvent(lifecycle.EventContractCreated, "c2", "r", 2))
	c.OnEvent(lifecycleEvent(lifecycle.EventContractCompleted, "r", "r", 0))

	a, err := c.AnalyzeChain("r")
	require.NoError(t, err)
	require.Len(t, a.Timeline, 4)
	assert.Equal(t, 2, a.MaxDepth)

	last := a.Timeline[3]
	assert.Equal(t, "r", last.ContractID)
	assert.Equal(t, 0, last.Depth, "root events keep the root's depth")
	assert.Equal(t, 2, last.ChainDepth)

	depths := make(map[string]int)
	for _, entry := range a.Timeline {
		depths[entry.ContractID] = entry.Depth
	}
	assert.Equal(t, map[string]int{"r": 0, "c1": 1, "c2": 2}, depths)
}

func TestAnalyzeChain_RecordedEventWithoutChain(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())
	require.True(t, c.Record(TelemetryEvent{
		EventType:       lifecycle.EventContractCreated,
		AgentID:         "worker",
		ContractID:      "solo",
		DelegationDepth: 3,
		Severity:        lifecycle.SeverityInfo,
	}))

	a, err := c.AnalyzeChain("solo")
	require.NoError(t, err)
	require.Len(t, a.Timeline, 1)
	assert.Equal(t, 3, a.Timeline[0].Depth)
	assert.Equal(t, 3, a.Timeline[0].ChainDepth)
	assert.Equal(t, 3, a.MaxDepth)
}
