package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/BaSui01/agentdelegation/agent/contract"
)

// Verifier checks a successful result against the contract.
type Verifier interface {
	Method() contract.VerificationPolicy
	Verify(ctx context.Context, c *contract.DelegationContract, result *ExecutionResult) (*VerificationResult, error)
}

// DirectInspectionVerifier inspects the output itself. Quality is the
// share of required outputs present; with none required a non-empty
// output scores 1.
type DirectInspectionVerifier struct{}

// Method implements Verifier.
func (DirectInspectionVerifier) Method() contract.VerificationPolicy {
	return contract.VerificationDirectInspection
}

// Verify implements Verifier.
func (DirectInspectionVerifier) Verify(_ context.Context, c *contract.DelegationContract, result *ExecutionResult) (*VerificationResult, error) {
	vr := &VerificationResult{
		Method:     contract.VerificationDirectInspection,
		VerifiedAt: time.Now(),
	}

	if isEmpty(result.Output) {
		vr.Findings = append(vr.Findings, "output is empty")
		return vr, nil
	}

	required := c.SuccessCriteria.RequiredOutputs
	if len(required) == 0 {
		vr.QualityScore = 1
	} else {
		fields, err := outputFields(result.Output)
		if err != nil {
			return nil, err
		}
		satisfied := 0
		for _, name := range required {
			if v, ok := fields[name]; ok && !isEmpty(v) {
				satisfied++
				continue
			}
			vr.Findings = append(vr.Findings, fmt.Sprintf("missing required output %q", name))
		}
		vr.QualityScore = float64(satisfied) / float64(len(required))
	}

	vr.Verified = vr.QualityScore >= c.SuccessCriteria.QualityThreshold
	if !vr.Verified {
		vr.Findings = append(vr.Findings, fmt.Sprintf("quality %.2f below threshold %.2f",
			vr.QualityScore, c.SuccessCriteria.QualityThreshold))
	}
	return vr, nil
}

// outputFields views an output as named fields. Maps are used as is;
// structs go through their JSON form.
func outputFields(out any) (map[string]any, error) {
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("inspect output: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		// scalar or list outputs have no named fields
		return map[string]any{}, nil
	}
	return m, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
