package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Step pairs a forward action with an optional compensating action.
// Step order within a workflow is significant and fixed.
type Step struct {
	Name string

	// Run is the forward action.
	Run func(ctx context.Context) error

	// Compensate undoes Run. It is recorded only after Run succeeds
	// and executed only if a later step fails. Nil means the step
	// needs no compensation.
	Compensate func() error
}

// Runner executes workflows. It holds no per-run state, so a single
// Runner is safe to reuse across invocations.
type Runner struct {
	log *zap.SugaredLogger
}

// NewRunner returns a Runner that logs through log.
func NewRunner(log *zap.SugaredLogger) *Runner {
	return &Runner{log: log}
}

// Run executes the steps in order. After each successful step with a
// compensation, the compensation is pushed onto a stack scoped to this
// invocation. If a step fails, the stack is unwound in reverse order
// and the step's error is returned wrapped with the workflow name and
// instance identity.
//
// There are no partial retries at this layer; retry belongs inside an
// individual step or the Poller it uses.
func (r *Runner) Run(ctx context.Context, workflow, instanceName string, steps []Step) error {
	stack := NewCompensationStack(r.log)

	for _, step := range steps {
		r.log.Infof("%s %s: %s", workflow, instanceName, step.Name)
		if err := step.Run(ctx); err != nil {
			r.log.Errorf("%s %s: step %s failed: %v", workflow, instanceName, step.Name, err)
			stack.UnwindAll()
			return fmt.Errorf("%s of instance %s failed at %s: %w",
				workflow, instanceName, step.Name, err)
		}
		if step.Compensate != nil {
			stack.Push(step.Name, step.Compensate)
		}
	}

	return nil
}
