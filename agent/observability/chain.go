package observability

import (
	"sync"
	"time"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/types"
)

// chainUpdate 一次观测对链产生的变化
type chainUpdate struct {
	snapshot *ChainCorrelation
	created  bool
	closed   bool
}

// ChainTracker 维护合约到委托链的关联。
// 链在首次引用时创建，之后只更新不重建；深度与参与者只增不减，
// 状态仅从 active 迁移到终态一次。
type ChainTracker struct {
	mu        sync.RWMutex
	chains    map[string]*ChainCorrelation
	contracts map[string]string
	members   map[string]map[string]struct{}
}

// NewChainTracker 创建链追踪器
func NewChainTracker() *ChainTracker {
	return &ChainTracker{
		chains:    make(map[string]*ChainCorrelation),
		contracts: make(map[string]string),
		members:   make(map[string]map[string]struct{}),
	}
}

// observe 根据事件更新链并返回快照；无合约 ID 的事件不属于任何链
func (t *ChainTracker) observe(contractID, agentID string, eventType lifecycle.EventType, link chainLink, at time.Time) chainUpdate {
	if contractID == "" {
		return chainUpdate{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.resolveRoot(contractID, link)

	var upd chainUpdate
	chain, ok := t.chains[root]
	if !ok {
		chain = &ChainCorrelation{
			RootDelegationID:   root,
			ParentDelegationID: link.parent,
			ChainStartedAt:     at,
			ChainStatus:        ChainActive,
		}
		t.chains[root] = chain
		t.members[root] = make(map[string]struct{})
		upd.created = true
	}

	if _, known := t.contracts[contractID]; !known {
		t.contracts[contractID] = root
		chain.TotalChainContracts++
	}
	if link.depth > chain.ChainDepth {
		chain.ChainDepth = link.depth
	}
	t.addParticipant(root, chain, agentID)
	for _, p := range link.participants {
		t.addParticipant(root, chain, p)
	}

	if contractID == root && chain.ChainStatus == ChainActive {
		if next, terminal := rootOutcome(eventType); terminal {
			chain.ChainStatus = next
			completed := at
			chain.ChainCompletedAt = &completed
			upd.closed = true
		}
	}

	upd.snapshot = chain.Clone()
	return upd
}

// resolveRoot 确定合约所属链根：显式根优先，其次已知合约、父合约的根，最后为自身
func (t *ChainTracker) resolveRoot(contractID string, link chainLink) string {
	if link.root != "" {
		return link.root
	}
	if root, ok := t.contracts[contractID]; ok {
		return root
	}
	if link.parent != "" {
		if root, ok := t.contracts[link.parent]; ok {
			return root
		}
		return link.parent
	}
	return contractID
}

func (t *ChainTracker) addParticipant(root string, chain *ChainCorrelation, agentID string) {
	if agentID == "" {
		return
	}
	set := t.members[root]
	if _, ok := set[agentID]; ok {
		return
	}
	set[agentID] = struct{}{}
	chain.ChainParticipants = append(chain.ChainParticipants, agentID)
}

// rootOutcome 根合约的完成类事件对应的链终态。中断不推进链状态。
func rootOutcome(t lifecycle.EventType) (ChainStatus, bool) {
	switch t {
	case lifecycle.EventContractCompleted:
		return ChainCompleted, true
	case lifecycle.EventContractFailed, lifecycle.EventExecutionTimeout:
		return ChainFailed, true
	}
	return "", false
}

// Cancel 将活跃链标记为 cancelled；已处于终态的链保持不变
func (t *ChainTracker) Cancel(rootID string, at time.Time) (*ChainCorrelation, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chain, ok := t.chains[rootID]
	if !ok {
		return nil, false, types.NewError(types.ErrChainNotFound, "chain not found: "+rootID).WithHTTPStatus(404)
	}
	if chain.ChainStatus.IsTerminal() {
		return chain.Clone(), false, nil
	}
	chain.ChainStatus = ChainCancelled
	completed := at
	chain.ChainCompletedAt = &completed
	return chain.Clone(), true, nil
}

// Get 返回链快照
func (t *ChainTracker) Get(rootID string) (*ChainCorrelation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	chain, ok := t.chains[rootID]
	if !ok {
		return nil, false
	}
	return chain.Clone(), true
}

// RootOf 返回合约所属链根
func (t *ChainTracker) RootOf(contractID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	root, ok := t.contracts[contractID]
	return root, ok
}

// List 返回所有链快照
func (t *ChainTracker) List() []*ChainCorrelation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*ChainCorrelation, 0, len(t.chains))
	for _, c := range t.chains {
		out = append(out, c.Clone())
	}
	return out
}
