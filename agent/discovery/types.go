package discovery

import (
	"time"

	"github.com/BaSui01/agentdelegation/types"
)

// Availability represents an agent's willingness to take new work.
type Availability string

const (
	// AvailabilityAvailable indicates the agent accepts new work.
	AvailabilityAvailable Availability = "available"

	// AvailabilityBusy indicates the agent is working but may queue more.
	AvailabilityBusy Availability = "busy"

	// AvailabilityOffline indicates the agent is not reachable.
	AvailabilityOffline Availability = "offline"

	// AvailabilityMaintenance indicates the agent is temporarily withdrawn.
	AvailabilityMaintenance Availability = "maintenance"
)

// Valid reports whether a is a known availability state.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityOffline, AvailabilityMaintenance:
		return true
	}
	return false
}

// Capability describes one confidence-scored ability of an agent.
type Capability struct {
	// CapabilityID uniquely identifies the capability within a manifest.
	CapabilityID string `json:"capability_id"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty"`

	// Description describes what the capability does.
	Description string `json:"description,omitempty"`

	// ConfidenceLevel is the agent's self-assessed confidence in [0,1].
	ConfidenceLevel float64 `json:"confidence_level"`

	// SuccessRate is the observed success rate in [0,1].
	SuccessRate float64 `json:"success_rate"`

	// SuccessfulCompletions counts successful completions. It only grows.
	SuccessfulCompletions int `json:"successful_completions"`

	// CompletionTimeEstimateMs is the typical completion time.
	CompletionTimeEstimateMs int64 `json:"completion_time_estimate_ms,omitempty"`

	// ResourceRequirements are the resources a typical task consumes.
	ResourceRequirements types.ResourceRequirements `json:"resource_requirements,omitempty"`

	// SupportedPatterns identify task texts this capability handles.
	SupportedPatterns []string `json:"supported_patterns,omitempty"`

	// Tags are free-form labels, also consulted for clearance matching.
	Tags []string `json:"tags,omitempty"`

	// Limitations lists known limitations.
	Limitations []string `json:"limitations,omitempty"`

	// LastAssessedAt is when self-assessment last touched the capability.
	LastAssessedAt time.Time `json:"last_assessed_at,omitempty"`
}

// HasTag reports whether the capability carries tag.
func (c *Capability) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CapabilityManifest is an agent's advertised set of capabilities.
type CapabilityManifest struct {
	AgentID            string            `json:"agent_id"`
	Capabilities       []Capability      `json:"capabilities"`
	OverallConfidence  float64           `json:"overall_confidence"`
	Availability       Availability      `json:"availability"`
	CurrentWorkload    int               `json:"current_workload"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks"`
	Specializations    []string          `json:"specializations,omitempty"`
	SecurityClearance  string            `json:"security_clearance,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Capability returns the capability with the given id.
func (m *CapabilityManifest) Capability(id string) (*Capability, bool) {
	for i := range m.Capabilities {
		if m.Capabilities[i].CapabilityID == id {
			return &m.Capabilities[i], true
		}
	}
	return nil, false
}

// WorkloadRatio returns current/max workload. An agent without a positive
// concurrency limit is treated as fully loaded.
func (m *CapabilityManifest) WorkloadRatio() float64 {
	if m.MaxConcurrentTasks <= 0 {
		return 1
	}
	return float64(m.CurrentWorkload) / float64(m.MaxConcurrentTasks)
}

// HasSpecialization reports whether the manifest lists s.
func (m *CapabilityManifest) HasSpecialization(s string) bool {
	for _, sp := range m.Specializations {
		if sp == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m *CapabilityManifest) Clone() *CapabilityManifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Capabilities = make([]Capability, len(m.Capabilities))
	for i := range m.Capabilities {
		out.Capabilities[i] = cloneCapability(m.Capabilities[i])
	}
	out.Specializations = cloneStrings(m.Specializations)
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// recomputeConfidence sets OverallConfidence to the mean capability confidence.
func (m *CapabilityManifest) recomputeConfidence() {
	if len(m.Capabilities) == 0 {
		m.OverallConfidence = 0
		return
	}
	var sum float64
	for _, c := range m.Capabilities {
		sum += c.ConfidenceLevel
	}
	m.OverallConfidence = clamp01(sum / float64(len(m.Capabilities)))
}

// ManifestUpdate is a partial manifest. Nil fields are left unchanged.
type ManifestUpdate struct {
	Capabilities       []Capability      `json:"capabilities,omitempty"`
	Availability       *Availability     `json:"availability,omitempty"`
	CurrentWorkload    *int              `json:"current_workload,omitempty"`
	MaxConcurrentTasks *int              `json:"max_concurrent_tasks,omitempty"`
	Specializations    []string          `json:"specializations,omitempty"`
	SecurityClearance  *string           `json:"security_clearance,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// CapabilityQuery selects and ranks capabilities across registered agents.
type CapabilityQuery struct {
	// RequiredCapabilities must all be present (and pass the filters) on an agent.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	// MinConfidence is the minimum capability confidence.
	MinConfidence float64 `json:"min_confidence,omitempty"`

	// MaxCompletionTimeMs bounds the capability's completion estimate.
	MaxCompletionTimeMs int64 `json:"max_completion_time_ms,omitempty"`

	// RequiredClearance must be met by the manifest clearance or a capability tag.
	RequiredClearance string `json:"required_clearance,omitempty"`

	// MinSuccessRate is the minimum observed success rate.
	MinSuccessRate float64 `json:"min_success_rate,omitempty"`

	// MinCompletions is the minimum number of successful completions.
	MinCompletions int `json:"min_completions,omitempty"`

	// TaskPatterns are task texts; a capability must match at least one.
	TaskPatterns []string `json:"task_patterns,omitempty"`

	// RequiredTags must all be carried by the capability.
	RequiredTags []string `json:"required_tags,omitempty"`

	// OnlyAvailable restricts results to available agents.
	OnlyAvailable bool `json:"only_available,omitempty"`

	// ExcludeAgents lists agent ids to skip.
	ExcludeAgents []string `json:"exclude_agents,omitempty"`

	// Limit caps the number of results. Zero means unlimited.
	Limit int `json:"limit,omitempty"`
}

// CapabilityMatch is one ranked query result.
type CapabilityMatch struct {
	AgentID       string       `json:"agent_id"`
	Capability    Capability   `json:"capability"`
	Score         float64      `json:"score"`
	Priority      float64      `json:"priority"`
	Availability  Availability `json:"availability"`
	WorkloadRatio float64      `json:"workload_ratio"`
	ExactMatch    bool         `json:"exact_match"`
}

// RegistryEventType identifies a registry notification.
type RegistryEventType string

const (
	RegistryEventRegistered        RegistryEventType = "manifest_registered"
	RegistryEventUpdated           RegistryEventType = "manifest_updated"
	RegistryEventUnregistered      RegistryEventType = "manifest_unregistered"
	RegistryEventWorkloadChanged   RegistryEventType = "workload_changed"
	RegistryEventConfidenceUpdated RegistryEventType = "confidence_updated"
)

// RegistryEvent is delivered to registry subscribers after a mutation.
type RegistryEvent struct {
	Type         RegistryEventType `json:"type"`
	AgentID      string            `json:"agent_id"`
	CapabilityID string            `json:"capability_id,omitempty"`
	OldValue     float64           `json:"old_value,omitempty"`
	NewValue     float64           `json:"new_value,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// RegistryEventHandler handles registry events.
type RegistryEventHandler func(event *RegistryEvent)

func cloneCapability(c Capability) Capability {
	c.SupportedPatterns = cloneStrings(c.SupportedPatterns)
	c.Tags = cloneStrings(c.Tags)
	c.Limitations = cloneStrings(c.Limitations)
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
