package runtime

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/agentdelegation/agent/admission"
	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/execution"
)

// Hooks are optional per-agent lifecycle callbacks. They run synchronously
// on the calling goroutine after the corresponding lifecycle event.
type Hooks struct {
	OnAccepted  func(ctx context.Context, c *contract.DelegationContract, d *admission.Decision)
	OnRejected  func(ctx context.Context, c *contract.DelegationContract, d *admission.Decision)
	OnCompleted func(ctx context.Context, c *contract.DelegationContract, result *execution.ExecutionResult)
}

// AgentDefinition is what an AgentLookup resolves a name to.
type AgentDefinition struct {
	Name     string
	Manifest *discovery.CapabilityManifest
	Hooks    *Hooks
}

// AgentLookup resolves agent names to definitions. Implementations are
// read-only from the runtime's point of view.
type AgentLookup interface {
	Lookup(name string) (*AgentDefinition, bool)
}

// ResultFormatter renders a finished execution for display. Formats are
// implementation defined ("json", "markdown", ...).
type ResultFormatter interface {
	Format(result *execution.ExecutionResult, c *contract.DelegationContract, format string) (string, error)
}

// TieredLookup is a priority-ordered dictionary: the first tier holding a
// name wins. Names are matched case-insensitively.
type TieredLookup struct {
	mu    sync.RWMutex
	tiers []map[string]*AgentDefinition
}

// NewTieredLookup creates a lookup with n empty tiers, highest priority
// first.
func NewTieredLookup(n int) *TieredLookup {
	if n <= 0 {
		n = 1
	}
	tiers := make([]map[string]*AgentDefinition, n)
	for i := range tiers {
		tiers[i] = make(map[string]*AgentDefinition)
	}
	return &TieredLookup{tiers: tiers}
}

// Add stores def in tier. Out of range tiers are clamped.
func (l *TieredLookup) Add(tier int, def *AgentDefinition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tier = min(max(tier, 0), len(l.tiers)-1)
	l.tiers[tier][strings.ToLower(def.Name)] = def
}

// Lookup implements AgentLookup.
func (l *TieredLookup) Lookup(name string) (*AgentDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := strings.ToLower(name)
	for _, tier := range l.tiers {
		if def, ok := tier[key]; ok {
			return def, true
		}
	}
	return nil, false
}

var _ AgentLookup = (*TieredLookup)(nil)
