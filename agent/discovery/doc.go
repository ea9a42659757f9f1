// Package discovery provides the capability registry that delegatee agents
// advertise themselves through and delegators search.
//
// The package implements:
//   - Manifest registration: each agent registers one CapabilityManifest whose
//     overall confidence is the mean of its capability confidences
//   - Capability queries: filtering by required capability ids, confidence,
//     completion time, clearance, success rate, completions, task patterns,
//     tags, availability and exclusions, followed by scoring and ranking
//   - Workload accounting: atomic increment/decrement of per-agent counters
//   - Self-assessment: the Assessor adjusts capability confidence from the
//     most recent matched task outcomes
//
// # Scoring
//
// Each surviving capability is scored as
//
//	confidence + successRate*0.2 + min(completions/100, 0.2) - workloadRatio*0.3 + 0.1 (if available)
//
// clamped to [0,1], and given a separate priority
//
//	50 + 30 (exact required match) + 20*confidence + availability adjustment - 15*workloadRatio
//
// where the availability adjustment is +20, -10, -20 or -30 for available,
// busy, maintenance and offline. Results sort by priority then score.
//
// # Basic Usage
//
//	registry := discovery.NewCapabilityRegistry(nil, logger)
//	err := registry.RegisterManifest(ctx, &discovery.CapabilityManifest{
//	    AgentID:            "coder",
//	    MaxConcurrentTasks: 4,
//	    Capabilities: []discovery.Capability{
//	        {CapabilityID: "code_generation", ConfidenceLevel: 0.85, SuccessRate: 0.9},
//	    },
//	})
//
//	matches, err := registry.QueryCapabilities(ctx, &discovery.CapabilityQuery{
//	    RequiredCapabilities: []string{"code_generation"},
//	    MinConfidence:        0.8,
//	    OnlyAvailable:        true,
//	})
//
// # Thread Safety
//
// All registry operations are safe for concurrent use. Writers hold the
// registry lock exclusively, so readers never observe a half-applied update,
// and every read returns a copy.
package discovery
