package admission

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentdelegation/agent/contract"
)

func TestHeuristicEstimator(t *testing.T) {
	est := DefaultEstimator()

	tests := []struct {
		name string
		desc string
		want time.Duration
	}{
		{"empty", "", 5 * time.Second},
		{"short", strings.Repeat("a", 10), 5500 * time.Millisecond},
		{"length cap", strings.Repeat("a", 1000), 20 * time.Second},
		{"keyword doubles", "Comprehensive audit", (5000 + 19*50) * 2 * time.Millisecond},
		{"keyword with cap", "enterprise " + strings.Repeat("a", 1000), 40 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contract.New("a", "b", tt.desc)
			assert.Equal(t, tt.want, est.Estimate(c))
		})
	}
}

func TestHeuristicEstimator_Monotonic(t *testing.T) {
	est := DefaultEstimator()

	rapid.Check(t, func(t *rapid.T) {
		base := rapid.StringMatching(`[a-z ]{0,300}`).Draw(t, "base")
		extra := rapid.StringMatching(`[a-z ]{0,300}`).Draw(t, "extra")

		shorter := est.Estimate(contract.New("a", "b", base))
		longer := est.Estimate(contract.New("a", "b", base+extra))
		if longer < shorter {
			t.Fatalf("longer description estimated %v < %v", longer, shorter)
		}

		plain := est.Estimate(contract.New("a", "b", base))
		complexEst := est.Estimate(contract.New("a", "b", base+" complex"))
		if complexEst < plain {
			t.Fatalf("keyword estimate %v < plain %v", complexEst, plain)
		}
	})
}
