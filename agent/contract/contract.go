package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentdelegation/internal/retry"
	"github.com/BaSui01/agentdelegation/types"
)

// Defaults applied by New.
const (
	DefaultTimeoutMs  int64 = 300000
	DefaultPriority         = 5
	DefaultComplexity       = 5
)

// VerificationPolicy selects how the delegator checks the result.
type VerificationPolicy string

const (
	VerificationNone               VerificationPolicy = "none"
	VerificationDirectInspection   VerificationPolicy = "direct_inspection"
	VerificationThirdPartyAudit    VerificationPolicy = "third_party_audit"
	VerificationCryptographicProof VerificationPolicy = "cryptographic_proof"
	VerificationHumanRequired      VerificationPolicy = "human_required"
)

// Valid reports whether v is a known policy.
func (v VerificationPolicy) Valid() bool {
	switch v {
	case VerificationNone, VerificationDirectInspection, VerificationThirdPartyAudit,
		VerificationCryptographicProof, VerificationHumanRequired:
		return true
	}
	return false
}

// SuccessCriteria describes what a successful result looks like.
type SuccessCriteria struct {
	Description      string   `json:"description,omitempty"`
	RequiredOutputs  []string `json:"required_outputs,omitempty"`
	QualityThreshold float64  `json:"quality_threshold,omitempty"`
}

// RetryPolicy is the wire form of a retry policy.
type RetryPolicy struct {
	MaxRetries      int               `json:"max_retries"`
	Strategy        retry.Strategy    `json:"backoff_strategy"`
	InitialDelayMs  int64             `json:"initial_delay_ms"`
	MaxDelayMs      int64             `json:"max_delay_ms"`
	RetryConditions []retry.Condition `json:"retry_conditions,omitempty"`
}

// ToPolicy converts the wire form to an executable retry policy. A nil
// receiver yields the default policy.
func (p *RetryPolicy) ToPolicy() *retry.Policy {
	if p == nil {
		return retry.DefaultPolicy()
	}
	strategy := p.Strategy
	if strategy == "" {
		strategy = retry.StrategyExponential
	}
	conds := p.RetryConditions
	if len(conds) == 0 {
		conds = retry.DefaultConditions
	}
	return &retry.Policy{
		MaxRetries:   p.MaxRetries,
		Strategy:     strategy,
		InitialDelay: time.Duration(p.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(p.MaxDelayMs) * time.Millisecond,
		Conditions:   conds,
	}
}

// ReputationRequirements are optional minimums the delegatee must meet.
// Nil fields are not checked.
type ReputationRequirements struct {
	MinSecurityScore        *float64 `json:"min_security_score,omitempty"`
	MinTasksCompleted       *int     `json:"min_tasks_completed,omitempty"`
	MinConfidenceScore      *float64 `json:"min_confidence_score,omitempty"`
	MaxConsecutiveFailures  *int     `json:"max_consecutive_failures,omitempty"`
	RequiredSpecializations []string `json:"required_specializations,omitempty"`
}

// PermissionToken grants the delegatee scoped access for the task.
type PermissionToken struct {
	TokenID   string    `json:"token_id"`
	Scopes    []string  `json:"scopes"`
	Actions   []string  `json:"actions"`
	Resources []string  `json:"resources"`
	Issuer    string    `json:"issuer,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *PermissionToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// RequiredCapability names a capability the delegatee must advertise.
type RequiredCapability struct {
	CapabilityID  string  `json:"capability_id"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// Metadata places the contract in its delegation chain.
type Metadata struct {
	DelegationDepth     int      `json:"delegation_depth"`
	RootContractID      string   `json:"root_contract_id,omitempty"`
	ParentContractID    string   `json:"parent_contract_id,omitempty"`
	EstimatedComplexity int      `json:"estimated_complexity,omitempty"`
	Tags                []string `json:"tags,omitempty"`
}

// DelegationContract is the unit of negotiation between two agents.
type DelegationContract struct {
	ContractID       string `json:"contract_id"`
	TaskID           string `json:"task_id"`
	DelegatorAgentID string `json:"delegator_agent_id"`
	DelegateeAgentID string `json:"delegatee_agent_id"`
	TaskDescription  string `json:"task_description"`

	VerificationPolicy VerificationPolicy `json:"verification_policy"`
	SuccessCriteria    SuccessCriteria    `json:"success_criteria"`
	TimeoutMs          int64              `json:"timeout_ms"`
	Priority           int                `json:"priority"`
	RetryPolicy        *RetryPolicy       `json:"retry_policy,omitempty"`
	Firebreaks         Firebreaks         `json:"firebreaks,omitempty"`

	ReputationRequirements *ReputationRequirements    `json:"reputation_requirements,omitempty"`
	PermissionToken        *PermissionToken           `json:"permission_token,omitempty"`
	ResourceRequirements   types.ResourceRequirements `json:"resource_requirements"`
	RequiredCapabilities   []RequiredCapability       `json:"required_capabilities,omitempty"`
	TLPClassification      TLPLevel                   `json:"tlp_classification"`

	Status    Status    `json:"status"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending root contract with default terms.
func New(delegatorID, delegateeID, description string) *DelegationContract {
	now := time.Now()
	id := uuid.NewString()
	return &DelegationContract{
		ContractID:         id,
		TaskID:             uuid.NewString(),
		DelegatorAgentID:   delegatorID,
		DelegateeAgentID:   delegateeID,
		TaskDescription:    description,
		VerificationPolicy: VerificationNone,
		TimeoutMs:          DefaultTimeoutMs,
		Priority:           DefaultPriority,
		TLPClassification:  TLPClear,
		Status:             StatusPending,
		Metadata: Metadata{
			RootContractID:      id,
			EstimatedComplexity: DefaultComplexity,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewChild creates a sub-delegation of parent. The parent's delegatee
// becomes the child's delegator; the child is one level deeper, shares the
// root, and inherits the parent's classification and firebreaks.
func NewChild(parent *DelegationContract, delegateeID, description string) *DelegationContract {
	c := New(parent.DelegateeAgentID, delegateeID, description)
	root := parent.Metadata.RootContractID
	if root == "" {
		root = parent.ContractID
	}
	c.Metadata.DelegationDepth = parent.Metadata.DelegationDepth + 1
	c.Metadata.RootContractID = root
	c.Metadata.ParentContractID = parent.ContractID
	c.TLPClassification = parent.TLPClassification
	c.Firebreaks = append(Firebreaks(nil), parent.Firebreaks...)
	c.VerificationPolicy = parent.VerificationPolicy
	if parent.TimeoutMs > 0 && parent.TimeoutMs < c.TimeoutMs {
		c.TimeoutMs = parent.TimeoutMs
	}
	return c
}

// IsRoot reports whether the contract starts its own chain.
func (c *DelegationContract) IsRoot() bool {
	return c.Metadata.ParentContractID == "" &&
		(c.Metadata.RootContractID == "" || c.Metadata.RootContractID == c.ContractID)
}

// RootID returns the chain root, defaulting to the contract's own id.
func (c *DelegationContract) RootID() string {
	if c.Metadata.RootContractID != "" {
		return c.Metadata.RootContractID
	}
	return c.ContractID
}

// Transition moves the contract to next, enforcing the status machine.
func (c *DelegationContract) Transition(next Status) error {
	if !c.Status.CanTransition(next) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("contract %s cannot move from %s to %s", c.ContractID, c.Status, next))
	}
	c.Status = next
	c.UpdatedAt = time.Now()
	return nil
}

// Timeout returns the timeout as a duration.
func (c *DelegationContract) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Complexity returns the estimated complexity, defaulting when unset.
func (c *DelegationContract) Complexity() int {
	if c.Metadata.EstimatedComplexity <= 0 {
		return DefaultComplexity
	}
	return c.Metadata.EstimatedComplexity
}

// Clone returns a deep copy.
func (c *DelegationContract) Clone() *DelegationContract {
	cp := *c
	if c.RetryPolicy != nil {
		rp := *c.RetryPolicy
		rp.RetryConditions = append([]retry.Condition(nil), c.RetryPolicy.RetryConditions...)
		cp.RetryPolicy = &rp
	}
	cp.Firebreaks = append(Firebreaks(nil), c.Firebreaks...)
	if c.ReputationRequirements != nil {
		rr := *c.ReputationRequirements
		rr.RequiredSpecializations = append([]string(nil), c.ReputationRequirements.RequiredSpecializations...)
		cp.ReputationRequirements = &rr
	}
	if c.PermissionToken != nil {
		pt := *c.PermissionToken
		pt.Scopes = append([]string(nil), c.PermissionToken.Scopes...)
		pt.Actions = append([]string(nil), c.PermissionToken.Actions...)
		pt.Resources = append([]string(nil), c.PermissionToken.Resources...)
		cp.PermissionToken = &pt
	}
	cp.RequiredCapabilities = append([]RequiredCapability(nil), c.RequiredCapabilities...)
	cp.SuccessCriteria.RequiredOutputs = append([]string(nil), c.SuccessCriteria.RequiredOutputs...)
	cp.Metadata.Tags = append([]string(nil), c.Metadata.Tags...)
	return &cp
}

// Decode parses and validates a contract document. Missing optional terms
// receive the same defaults as New; a missing status means pending.
func Decode(data []byte) (*DelegationContract, error) {
	var c DelegationContract
	if err := json.Unmarshal(data, &c); err != nil {
		if e, ok := types.AsError(err); ok {
			return nil, e
		}
		return nil, types.NewValidationError("", "malformed contract: %v", err).WithCause(err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *DelegationContract) applyDefaults() {
	now := time.Now()
	if c.ContractID == "" {
		c.ContractID = uuid.NewString()
	}
	if c.TaskID == "" {
		c.TaskID = uuid.NewString()
	}
	if c.VerificationPolicy == "" {
		c.VerificationPolicy = VerificationNone
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.Priority == 0 {
		c.Priority = DefaultPriority
	}
	if c.TLPClassification == "" {
		c.TLPClassification = TLPClear
	} else {
		c.TLPClassification = c.TLPClassification.Normalize()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.Metadata.RootContractID == "" && c.Metadata.ParentContractID == "" {
		c.Metadata.RootContractID = c.ContractID
	}
	if c.Metadata.EstimatedComplexity == 0 {
		c.Metadata.EstimatedComplexity = DefaultComplexity
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

// Validate checks identifiers, ranges, and enumerations.
func (c *DelegationContract) Validate() error {
	switch {
	case strings.TrimSpace(c.ContractID) == "":
		return types.NewValidationError("contract_id", "contract_id is required")
	case strings.TrimSpace(c.DelegatorAgentID) == "":
		return types.NewValidationError("delegator_agent_id", "delegator_agent_id is required")
	case strings.TrimSpace(c.DelegateeAgentID) == "":
		return types.NewValidationError("delegatee_agent_id", "delegatee_agent_id is required")
	case strings.TrimSpace(c.TaskDescription) == "":
		return types.NewValidationError("task_description", "task_description is required")
	case c.TimeoutMs <= 0:
		return types.NewValidationError("timeout_ms", "timeout_ms must be positive, got %d", c.TimeoutMs)
	case c.Priority < 1 || c.Priority > 10:
		return types.NewValidationError("priority", "priority must be between 1 and 10, got %d", c.Priority)
	case !c.VerificationPolicy.Valid():
		return types.NewValidationError("verification_policy", "unknown verification policy %q", c.VerificationPolicy)
	case !c.TLPClassification.Valid():
		return types.NewValidationError("tlp_classification", "unknown TLP level %q", c.TLPClassification)
	case !c.Status.Valid():
		return types.NewValidationError("status", "unknown status %q", c.Status)
	case c.Metadata.DelegationDepth < 0:
		return types.NewValidationError("metadata.delegation_depth", "delegation depth must not be negative")
	case c.Metadata.EstimatedComplexity < 1 || c.Metadata.EstimatedComplexity > 10:
		return types.NewValidationError("metadata.estimated_complexity", "estimated complexity must be between 1 and 10, got %d", c.Metadata.EstimatedComplexity)
	case c.SuccessCriteria.QualityThreshold < 0 || c.SuccessCriteria.QualityThreshold > 1:
		return types.NewValidationError("success_criteria.quality_threshold", "quality threshold must be within [0,1]")
	}

	if err := c.validateRetryPolicy(); err != nil {
		return err
	}

	var resErr error
	c.ResourceRequirements.Each(func(name string, v float64) {
		if v < 0 && resErr == nil {
			resErr = types.NewValidationError("resource_requirements."+name, "%s must not be negative", name)
		}
	})
	if resErr != nil {
		return resErr
	}

	seen := make(map[string]struct{}, len(c.RequiredCapabilities))
	for _, rc := range c.RequiredCapabilities {
		if strings.TrimSpace(rc.CapabilityID) == "" {
			return types.NewValidationError("required_capabilities", "capability_id is required")
		}
		if rc.MinConfidence < 0 || rc.MinConfidence > 1 {
			return types.NewValidationError("required_capabilities", "min_confidence for %s must be within [0,1]", rc.CapabilityID)
		}
		if _, dup := seen[rc.CapabilityID]; dup {
			return types.NewValidationError("required_capabilities", "duplicate required capability %s", rc.CapabilityID)
		}
		seen[rc.CapabilityID] = struct{}{}
	}

	for _, fb := range c.Firebreaks {
		if fb == nil {
			return types.NewValidationError("firebreaks", "nil firebreak")
		}
		if err := fb.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *DelegationContract) validateRetryPolicy() error {
	p := c.RetryPolicy
	if p == nil {
		return nil
	}
	if p.MaxRetries < 0 {
		return types.NewValidationError("retry_policy.max_retries", "max_retries must not be negative")
	}
	if p.Strategy != "" && !p.Strategy.Valid() {
		return types.NewValidationError("retry_policy.backoff_strategy", "unknown backoff strategy %q", p.Strategy)
	}
	if p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
		return types.NewValidationError("retry_policy", "retry delays must not be negative")
	}
	for _, cond := range p.RetryConditions {
		if !cond.Valid() {
			return types.NewValidationError("retry_policy.retry_conditions", "unknown retry condition %q", cond)
		}
	}
	return nil
}
