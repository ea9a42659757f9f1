package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentdelegation/types"
)

// FirebreakType discriminates the firebreak union.
type FirebreakType string

const (
	FirebreakMaxDepth      FirebreakType = "max_depth"
	FirebreakTLPEscalation FirebreakType = "tlp_escalation"
	FirebreakTimeout       FirebreakType = "timeout"
	FirebreakResourceLimit FirebreakType = "resource_limit"
	FirebreakHumanReview   FirebreakType = "human_review"
)

// FirebreakAction is what happens when a firebreak trips.
type FirebreakAction string

const (
	ActionHalt            FirebreakAction = "halt"
	ActionRequireApproval FirebreakAction = "require_approval"
	ActionNotify          FirebreakAction = "notify"
)

// Valid reports whether a is a known action.
func (a FirebreakAction) Valid() bool {
	switch a {
	case ActionHalt, ActionRequireApproval, ActionNotify:
		return true
	}
	return false
}

// Firebreak is a hard safety limit attached to a contract.
type Firebreak interface {
	Type() FirebreakType
	Base() FirebreakBase
	Validate() error
}

// FirebreakBase holds the fields shared by every firebreak.
type FirebreakBase struct {
	Action      FirebreakAction `json:"action"`
	Description string          `json:"description,omitempty"`
}

// Base returns the shared fields.
func (b FirebreakBase) Base() FirebreakBase { return b }

func (b FirebreakBase) validate() error {
	if b.Action != "" && !b.Action.Valid() {
		return types.NewValidationError("firebreaks.action", "unknown firebreak action %q", b.Action)
	}
	return nil
}

// MaxDepthFirebreak blocks contracts at or beyond a delegation depth.
type MaxDepthFirebreak struct {
	FirebreakBase
	Threshold int `json:"threshold"`
}

func (MaxDepthFirebreak) Type() FirebreakType { return FirebreakMaxDepth }

func (f MaxDepthFirebreak) Validate() error {
	if f.Threshold < 0 {
		return types.NewValidationError("firebreaks.threshold", "max_depth threshold must not be negative")
	}
	return f.validate()
}

// TLPEscalationFirebreak blocks contracts classified above a level.
type TLPEscalationFirebreak struct {
	FirebreakBase
	AllowedLevel TLPLevel `json:"allowed_level"`
}

func (TLPEscalationFirebreak) Type() FirebreakType { return FirebreakTLPEscalation }

func (f TLPEscalationFirebreak) Validate() error {
	if !f.AllowedLevel.Valid() {
		return types.NewValidationError("firebreaks.allowed_level", "unknown TLP level %q", f.AllowedLevel)
	}
	return f.validate()
}

// TimeoutFirebreak blocks contracts whose estimated time exceeds a bound.
type TimeoutFirebreak struct {
	FirebreakBase
	ThresholdMs int64 `json:"threshold_ms"`
}

func (TimeoutFirebreak) Type() FirebreakType { return FirebreakTimeout }

func (f TimeoutFirebreak) Validate() error {
	if f.ThresholdMs <= 0 {
		return types.NewValidationError("firebreaks.threshold_ms", "timeout threshold must be positive")
	}
	return f.validate()
}

// ResourceLimitFirebreak blocks contracts requesting too much of a resource.
type ResourceLimitFirebreak struct {
	FirebreakBase
	Resource  string  `json:"resource"`
	Threshold float64 `json:"threshold"`
}

func (ResourceLimitFirebreak) Type() FirebreakType { return FirebreakResourceLimit }

func (f ResourceLimitFirebreak) Validate() error {
	if !types.IsKnownResource(f.Resource) {
		return types.NewValidationError("firebreaks.resource", "unknown resource %q", f.Resource)
	}
	if f.Threshold < 0 {
		return types.NewValidationError("firebreaks.threshold", "resource threshold must not be negative")
	}
	return f.validate()
}

// HumanReviewFirebreak requires a human decision. With the require_approval
// action it blocks automatic acceptance.
type HumanReviewFirebreak struct {
	FirebreakBase
}

func (HumanReviewFirebreak) Type() FirebreakType { return FirebreakHumanReview }

func (f HumanReviewFirebreak) Validate() error { return f.validate() }

// Firebreaks is a list of firebreaks with explicit JSON decoding.
type Firebreaks []Firebreak

// firebreakWire is the union of every firebreak field. "threshold" is kept
// raw because its type depends on the firebreak type.
type firebreakWire struct {
	Type         FirebreakType   `json:"type"`
	Action       FirebreakAction `json:"action"`
	Description  string          `json:"description"`
	Threshold    json.RawMessage `json:"threshold"`
	ThresholdMs  *int64          `json:"threshold_ms"`
	AllowedLevel TLPLevel        `json:"allowed_level"`
	Resource     string          `json:"resource"`
}

// UnmarshalJSON decodes each element on its "type" field.
func (fs *Firebreaks) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*fs = nil
		return nil
	}

	var raw []firebreakWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.NewValidationError("firebreaks", "malformed firebreaks: %v", err)
	}

	out := make(Firebreaks, 0, len(raw))
	for i, w := range raw {
		fb, err := w.decode()
		if err != nil {
			return types.NewValidationError("firebreaks", "firebreak %d: %v", i, err)
		}
		out = append(out, fb)
	}
	*fs = out
	return nil
}

func (w firebreakWire) decode() (Firebreak, error) {
	base := FirebreakBase{Action: w.Action, Description: w.Description}

	switch w.Type {
	case FirebreakMaxDepth:
		var n int
		if err := decodeThreshold(w.Threshold, &n); err != nil {
			return nil, err
		}
		return MaxDepthFirebreak{FirebreakBase: base, Threshold: n}, nil

	case FirebreakTLPEscalation:
		level := w.AllowedLevel
		if level == "" && len(w.Threshold) > 0 {
			var s string
			if err := json.Unmarshal(w.Threshold, &s); err != nil {
				return nil, fmt.Errorf("tlp_escalation threshold must be a level name")
			}
			level = TLPLevel(s)
		}
		return TLPEscalationFirebreak{FirebreakBase: base, AllowedLevel: level.Normalize()}, nil

	case FirebreakTimeout:
		var ms int64
		if w.ThresholdMs != nil {
			ms = *w.ThresholdMs
		} else if err := decodeThreshold(w.Threshold, &ms); err != nil {
			return nil, err
		}
		return TimeoutFirebreak{FirebreakBase: base, ThresholdMs: ms}, nil

	case FirebreakResourceLimit:
		var v float64
		if err := decodeThreshold(w.Threshold, &v); err != nil {
			return nil, err
		}
		return ResourceLimitFirebreak{FirebreakBase: base, Resource: w.Resource, Threshold: v}, nil

	case FirebreakHumanReview:
		return HumanReviewFirebreak{FirebreakBase: base}, nil

	case "":
		return nil, fmt.Errorf("missing type")
	}
	return nil, fmt.Errorf("unknown type %q", w.Type)
}

func decodeThreshold(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing threshold")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid threshold %s", string(raw))
	}
	return nil
}

// MarshalJSON encodes each element with its "type" discriminator.
func (fs Firebreaks) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("null"), nil
	}
	out := make([]json.RawMessage, 0, len(fs))
	for _, fb := range fs {
		body, err := json.Marshal(fb)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		typ, _ := json.Marshal(fb.Type())
		fields["type"] = typ
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return json.Marshal(out)
}
