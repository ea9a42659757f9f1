package discovery

import (
	"math"
	"strings"

	"github.com/BaSui01/agentdelegation/agent/contract"
)

// Score weights.
const (
	successRateWeight   = 0.2
	completionBonusCap  = 0.2
	completionsPerPoint = 100.0
	workloadPenalty     = 0.3
	availableBonus      = 0.1

	basePriority       = 50.0
	exactMatchPriority = 30.0
	confidencePriority = 20.0
	workloadPriority   = 15.0
)

// CapabilityScore scores a capability for ranking. The result is in [0,1],
// non-decreasing in success rate and completions and non-increasing in
// workload ratio.
func CapabilityScore(c *Capability, workloadRatio float64, availability Availability) float64 {
	score := c.ConfidenceLevel +
		c.SuccessRate*successRateWeight +
		math.Min(float64(c.SuccessfulCompletions)/completionsPerPoint, completionBonusCap) -
		workloadRatio*workloadPenalty
	if availability == AvailabilityAvailable {
		score += availableBonus
	}
	return clamp01(score)
}

// CapabilityPriority computes the ranking priority of a match.
func CapabilityPriority(c *Capability, workloadRatio float64, availability Availability, exact bool) float64 {
	p := basePriority + confidencePriority*c.ConfidenceLevel - workloadPriority*workloadRatio
	if exact {
		p += exactMatchPriority
	}
	return p + availabilityPriority(availability)
}

func availabilityPriority(a Availability) float64 {
	switch a {
	case AvailabilityAvailable:
		return 20
	case AvailabilityBusy:
		return -10
	case AvailabilityMaintenance:
		return -20
	case AvailabilityOffline:
		return -30
	}
	return 0
}

// ClearanceSatisfies reports whether clearance have meets requirement want.
// Clearances are TLP levels (clear < green < amber < amber_strict < red,
// "TLP:" prefixes and aliases accepted). Values outside that ladder only
// satisfy themselves, case-insensitively.
func ClearanceSatisfies(have, want string) bool {
	if want == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want)) {
		return true
	}
	h, w := contract.TLPLevel(have), contract.TLPLevel(want)
	return h.Valid() && w.Valid() && h.Rank() >= w.Rank()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
