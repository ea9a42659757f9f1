package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdelegation/types"
)

func TestFirebreaks_Unmarshal(t *testing.T) {
	doc := `[
		{"type": "max_depth", "action": "halt", "description": "no deep chains", "threshold": 3},
		{"type": "tlp_escalation", "action": "halt", "allowed_level": "green"},
		{"type": "tlp_escalation", "action": "notify", "threshold": "TLP:WHITE"},
		{"type": "timeout", "action": "halt", "threshold_ms": 60000},
		{"type": "timeout", "action": "halt", "threshold": 1000},
		{"type": "resource_limit", "action": "halt", "resource": "memory_mb", "threshold": 2048},
		{"type": "human_review", "action": "require_approval"}
	]`

	var fs Firebreaks
	require.NoError(t, json.Unmarshal([]byte(doc), &fs))
	require.Len(t, fs, 7)

	assert.Equal(t, MaxDepthFirebreak{
		FirebreakBase: FirebreakBase{Action: ActionHalt, Description: "no deep chains"},
		Threshold:     3,
	}, fs[0])
	assert.Equal(t, TLPGreen, fs[1].(TLPEscalationFirebreak).AllowedLevel)
	assert.Equal(t, TLPClear, fs[2].(TLPEscalationFirebreak).AllowedLevel)
	assert.Equal(t, int64(60000), fs[3].(TimeoutFirebreak).ThresholdMs)
	assert.Equal(t, int64(1000), fs[4].(TimeoutFirebreak).ThresholdMs)
	assert.Equal(t, ResourceLimitFirebreak{
		FirebreakBase: FirebreakBase{Action: ActionHalt},
		Resource:      types.ResourceMemoryMB,
		Threshold:     2048,
	}, fs[5])
	assert.Equal(t, ActionRequireApproval, fs[6].Base().Action)

	for _, fb := range fs {
		assert.NoError(t, fb.Validate())
	}
}

func TestFirebreaks_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown type", `[{"type": "quantum"}]`},
		{"missing type", `[{"action": "halt"}]`},
		{"missing threshold", `[{"type": "max_depth", "action": "halt"}]`},
		{"wrong threshold type", `[{"type": "max_depth", "threshold": "three"}]`},
		{"not an array", `{"type": "max_depth"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fs Firebreaks
			err := json.Unmarshal([]byte(tt.doc), &fs)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation))
		})
	}
}

func TestFirebreaks_MarshalIncludesType(t *testing.T) {
	fs := Firebreaks{
		MaxDepthFirebreak{FirebreakBase: FirebreakBase{Action: ActionHalt}, Threshold: 2},
		HumanReviewFirebreak{FirebreakBase: FirebreakBase{Action: ActionRequireApproval}},
	}

	data, err := json.Marshal(fs)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)
	assert.Equal(t, "max_depth", raw[0]["type"])
	assert.Equal(t, float64(2), raw[0]["threshold"])
	assert.Equal(t, "human_review", raw[1]["type"])
	assert.NotContains(t, raw[1], "threshold")

	var back Firebreaks
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, fs, back)
}

func TestFirebreak_Validate(t *testing.T) {
	assert.Error(t, MaxDepthFirebreak{Threshold: -1}.Validate())
	assert.Error(t, TLPEscalationFirebreak{AllowedLevel: "beige"}.Validate())
	assert.Error(t, ResourceLimitFirebreak{Resource: "gpu_hours", Threshold: 1}.Validate())
	assert.Error(t, HumanReviewFirebreak{FirebreakBase: FirebreakBase{Action: "panic"}}.Validate())
	assert.NoError(t, MaxDepthFirebreak{Threshold: 0}.Validate())
}

func TestTLPLevel(t *testing.T) {
	assert.True(t, TLPRed.Exceeds(TLPAmber))
	assert.True(t, TLPAmberStrict.Exceeds(TLPAmber))
	assert.False(t, TLPGreen.Exceeds(TLPGreen))
	assert.False(t, TLPLevel("white").Exceeds(TLPClear))
	assert.Equal(t, TLPAmberStrict, TLPLevel("TLP:AMBER+STRICT").Normalize())
	assert.True(t, TLPLevel("Red").Valid())
	assert.False(t, TLPLevel("purple").Valid())
	assert.True(t, TLPLevel("purple").Exceeds(TLPRed))
}
