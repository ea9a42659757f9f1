package admission

import (
	"strings"
	"time"

	"github.com/BaSui01/agentdelegation/agent/contract"
)

// DurationEstimator predicts how long a contract's task will take. Longer
// or more complex descriptions must never estimate shorter.
type DurationEstimator interface {
	Estimate(c *contract.DelegationContract) time.Duration
}

// EstimatorFunc adapts a function to DurationEstimator.
type EstimatorFunc func(c *contract.DelegationContract) time.Duration

// Estimate calls f.
func (f EstimatorFunc) Estimate(c *contract.DelegationContract) time.Duration { return f(c) }

// HeuristicEstimator estimates from description length plus a keyword scan.
type HeuristicEstimator struct {
	Base          time.Duration `json:"base" yaml:"base"`
	PerCharacter  time.Duration `json:"per_character" yaml:"per_character"`
	MaxLengthCost time.Duration `json:"max_length_cost" yaml:"max_length_cost"`
	Multiplier    float64       `json:"multiplier" yaml:"multiplier"`
	Keywords      []string      `json:"keywords" yaml:"keywords"`
}

// DefaultComplexityKeywords double the estimate when present.
var DefaultComplexityKeywords = []string{"complex", "comprehensive", "enterprise"}

// DefaultEstimator returns 5s + min(50ms per character, 15s), doubled on a
// complexity keyword.
func DefaultEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{
		Base:          5 * time.Second,
		PerCharacter:  50 * time.Millisecond,
		MaxLengthCost: 15 * time.Second,
		Multiplier:    2,
		Keywords:      DefaultComplexityKeywords,
	}
}

// Estimate implements DurationEstimator.
func (e *HeuristicEstimator) Estimate(c *contract.DelegationContract) time.Duration {
	desc := c.TaskDescription
	length := time.Duration(len([]rune(desc))) * e.PerCharacter
	if e.MaxLengthCost > 0 && length > e.MaxLengthCost {
		length = e.MaxLengthCost
	}
	est := e.Base + length

	if e.Multiplier > 1 {
		lower := strings.ToLower(desc)
		for _, kw := range e.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				est = time.Duration(float64(est) * e.Multiplier)
				break
			}
		}
	}
	return est
}
