package execution

import (
	"context"
	"fmt"
	"time"
)

// Step is one named unit of a multi-step task.
type Step struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

// StepTask runs steps in order, reporting (i+1)/n of execution progress
// after each one and pausing between steps. The output is a map of step
// name to step output.
func StepTask(steps []Step, pause time.Duration) TaskFunc {
	return func(ctx context.Context, tc *TaskContext) (any, error) {
		out := make(map[string]any, len(steps))
		for i, step := range steps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			v, err := step.Run(ctx)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.Name, err)
			}
			out[step.Name] = v
			tc.Report(PhaseExecution, float64(i+1)/float64(len(steps))*100)

			if pause > 0 && i < len(steps)-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(pause):
				}
			}
		}
		return out, nil
	}
}
