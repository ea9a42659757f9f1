package contract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdelegation/internal/retry"
	"github.com/BaSui01/agentdelegation/types"
)

func TestNew_Defaults(t *testing.T) {
	c := New("delegator", "delegatee", "summarize the quarterly report")

	assert.NotEmpty(t, c.ContractID)
	assert.NotEmpty(t, c.TaskID)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, DefaultTimeoutMs, c.TimeoutMs)
	assert.Equal(t, DefaultPriority, c.Priority)
	assert.Equal(t, VerificationNone, c.VerificationPolicy)
	assert.Equal(t, TLPClear, c.TLPClassification)
	assert.Equal(t, c.ContractID, c.Metadata.RootContractID)
	assert.Equal(t, 0, c.Metadata.DelegationDepth)
	assert.True(t, c.IsRoot())
	require.NoError(t, c.Validate())
}

func TestNewChild_DepthAndRoot(t *testing.T) {
	root := New("a", "b", "root task")
	root.TLPClassification = TLPAmber
	root.Firebreaks = Firebreaks{MaxDepthFirebreak{FirebreakBase: FirebreakBase{Action: ActionHalt}, Threshold: 3}}

	child := NewChild(root, "c", "child task")
	grandchild := NewChild(child, "d", "grandchild task")

	assert.Equal(t, 1, child.Metadata.DelegationDepth)
	assert.Equal(t, 2, grandchild.Metadata.DelegationDepth)
	assert.Equal(t, root.ContractID, child.Metadata.RootContractID)
	assert.Equal(t, root.ContractID, grandchild.Metadata.RootContractID)
	assert.Equal(t, child.ContractID, grandchild.Metadata.ParentContractID)
	assert.Equal(t, "b", child.DelegatorAgentID)
	assert.Equal(t, "c", grandchild.DelegatorAgentID)
	assert.Equal(t, TLPAmber, grandchild.TLPClassification)
	assert.Len(t, grandchild.Firebreaks, 1)
	assert.False(t, child.IsRoot())
	assert.Equal(t, root.ContractID, grandchild.RootID())
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"accept then run then complete", []Status{StatusAccepted, StatusActive, StatusCompleted}, true},
		{"reject", []Status{StatusRejected}, true},
		{"run then timeout", []Status{StatusAccepted, StatusActive, StatusTimeout}, true},
		{"skip acceptance", []Status{StatusActive}, false},
		{"reopen rejected", []Status{StatusRejected, StatusAccepted}, false},
		{"complete twice", []Status{StatusAccepted, StatusActive, StatusCompleted, StatusFailed}, false},
		{"back to pending", []Status{StatusAccepted, StatusPending}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("a", "b", "task")
			var err error
			for _, s := range tt.path {
				if err = c.Transition(s); err != nil {
					break
				}
			}
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], c.Status)
			} else {
				require.Error(t, err)
				assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusCompleted, StatusFailed, StatusTimeout} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusAccepted, StatusActive} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *DelegationContract)
		field  string
	}{
		{"missing delegator", func(c *DelegationContract) { c.DelegatorAgentID = "" }, "delegator_agent_id"},
		{"missing delegatee", func(c *DelegationContract) { c.DelegateeAgentID = " " }, "delegatee_agent_id"},
		{"missing description", func(c *DelegationContract) { c.TaskDescription = "" }, "task_description"},
		{"zero timeout", func(c *DelegationContract) { c.TimeoutMs = 0 }, "timeout_ms"},
		{"priority too high", func(c *DelegationContract) { c.Priority = 11 }, "priority"},
		{"unknown verification", func(c *DelegationContract) { c.VerificationPolicy = "vibes" }, "verification_policy"},
		{"unknown tlp", func(c *DelegationContract) { c.TLPClassification = "purple" }, "tlp_classification"},
		{"complexity out of range", func(c *DelegationContract) { c.Metadata.EstimatedComplexity = 12 }, "metadata.estimated_complexity"},
		{"negative resource", func(c *DelegationContract) { c.ResourceRequirements.MemoryMB = -1 }, "resource_requirements.memory_mb"},
		{"bad min confidence", func(c *DelegationContract) {
			c.RequiredCapabilities = []RequiredCapability{{CapabilityID: "x", MinConfidence: 1.5}}
		}, "required_capabilities"},
		{"duplicate capability", func(c *DelegationContract) {
			c.RequiredCapabilities = []RequiredCapability{{CapabilityID: "x"}, {CapabilityID: "x"}}
		}, "required_capabilities"},
		{"bad strategy", func(c *DelegationContract) {
			c.RetryPolicy = &RetryPolicy{Strategy: "fibonacci"}
		}, "retry_policy.backoff_strategy"},
		{"bad condition", func(c *DelegationContract) {
			c.RetryPolicy = &RetryPolicy{RetryConditions: []retry.Condition{"always"}}
		}, "retry_policy.retry_conditions"},
		{"bad firebreak", func(c *DelegationContract) {
			c.Firebreaks = Firebreaks{TimeoutFirebreak{ThresholdMs: 0}}
		}, "firebreaks.threshold_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("a", "b", "task")
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrValidation, e.Code)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestRetryPolicy_ToPolicy(t *testing.T) {
	var nilPolicy *RetryPolicy
	def := nilPolicy.ToPolicy()
	assert.Equal(t, retry.DefaultPolicy().MaxRetries, def.MaxRetries)

	p := (&RetryPolicy{
		MaxRetries:      2,
		Strategy:        retry.StrategyLinear,
		InitialDelayMs:  100,
		MaxDelayMs:      250,
		RetryConditions: []retry.Condition{retry.ConditionResourceUnavailable},
	}).ToPolicy()

	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 250*time.Millisecond, p.Delay(3))
	assert.Equal(t, []retry.Condition{retry.ConditionResourceUnavailable}, p.Conditions)

	bare := (&RetryPolicy{MaxRetries: 1}).ToPolicy()
	assert.Equal(t, retry.StrategyExponential, bare.Strategy)
	assert.Equal(t, retry.DefaultConditions, bare.Conditions)
}

func TestPermissionToken_Expired(t *testing.T) {
	now := time.Now()
	tok := &PermissionToken{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, tok.Expired(now))
	assert.True(t, tok.Expired(now.Add(time.Minute)))
	assert.False(t, (&PermissionToken{}).Expired(now))
}

func TestDecode(t *testing.T) {
	doc := `{
		"delegator_agent_id": "planner",
		"delegatee_agent_id": "coder",
		"task_description": "write a parser",
		"timeout_ms": 60000,
		"tlp_classification": "TLP:AMBER",
		"required_capabilities": [{"capability_id": "code_generation", "min_confidence": 0.7}],
		"retry_policy": {"max_retries": 2, "backoff_strategy": "linear", "initial_delay_ms": 10, "max_delay_ms": 100},
		"firebreaks": [
			{"type": "max_depth", "action": "halt", "threshold": 3},
			{"type": "human_review", "action": "notify"}
		],
		"metadata": {"delegation_depth": 1, "parent_contract_id": "p-1", "root_contract_id": "r-1"}
	}`

	c, err := Decode([]byte(doc))
	require.NoError(t, err)

	assert.NotEmpty(t, c.ContractID)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, DefaultPriority, c.Priority)
	assert.Equal(t, TLPAmber, c.TLPClassification)
	assert.Equal(t, "r-1", c.RootID())
	assert.Equal(t, 1, c.Metadata.DelegationDepth)
	require.Len(t, c.Firebreaks, 2)
	assert.Equal(t, MaxDepthFirebreak{FirebreakBase: FirebreakBase{Action: ActionHalt}, Threshold: 3}, c.Firebreaks[0])
	assert.Equal(t, FirebreakHumanReview, c.Firebreaks[1].Type())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"delegator_agent_id": "a"`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = Decode([]byte(`{"delegator_agent_id":"a","delegatee_agent_id":"b","task_description":"t","priority":0,"timeout_ms":-5}`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = Decode([]byte(`{"delegator_agent_id":"a","delegatee_agent_id":"b","task_description":"t","firebreaks":[{"type":"quantum"}]}`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestClone_IsDeep(t *testing.T) {
	c := New("a", "b", "task")
	c.RequiredCapabilities = []RequiredCapability{{CapabilityID: "x"}}
	c.PermissionToken = &PermissionToken{Scopes: []string{"read"}}
	c.Metadata.Tags = []string{"t"}

	cp := c.Clone()
	cp.RequiredCapabilities[0].CapabilityID = "y"
	cp.PermissionToken.Scopes[0] = "write"
	cp.Metadata.Tags[0] = "u"

	assert.Equal(t, "x", c.RequiredCapabilities[0].CapabilityID)
	assert.Equal(t, "read", c.PermissionToken.Scopes[0])
	assert.Equal(t, "t", c.Metadata.Tags[0])
}

func TestContract_JSONRoundTripKeepsFirebreaks(t *testing.T) {
	c := New("a", "b", "task")
	c.Firebreaks = Firebreaks{
		TLPEscalationFirebreak{FirebreakBase: FirebreakBase{Action: ActionHalt}, AllowedLevel: TLPGreen},
		ResourceLimitFirebreak{FirebreakBase: FirebreakBase{Action: ActionNotify}, Resource: types.ResourceMemoryMB, Threshold: 512},
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, c.Firebreaks, got.Firebreaks)
	assert.Equal(t, c.ContractID, got.ContractID)
}
