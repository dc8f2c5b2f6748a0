package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestCompensationStackUnwindsInReverseOrder(t *testing.T) {
	var order []string
	stack := NewCompensationStack(testLogger())

	stack.Push("first", func() error { order = append(order, "first"); return nil })
	stack.Push("second", func() error { order = append(order, "second"); return nil })
	stack.Push("third", func() error { order = append(order, "third"); return nil })

	stack.UnwindAll()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("expected %d compensations, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("compensation %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestCompensationStackSwallowsUndoErrors(t *testing.T) {
	var order []string
	stack := NewCompensationStack(testLogger())

	stack.Push("a", func() error { order = append(order, "a"); return nil })
	stack.Push("b", func() error { order = append(order, "b"); return errors.New("undo failed") })
	stack.Push("c", func() error { order = append(order, "c"); return nil })

	stack.UnwindAll()

	// Every pushed action runs exactly once despite b failing.
	if len(order) != 3 {
		t.Fatalf("expected all 3 compensations to run, got %d", len(order))
	}
	if stack.Len() != 0 {
		t.Errorf("expected empty stack after unwind, got %d", stack.Len())
	}
}

func TestRunnerExecutesAllSteps(t *testing.T) {
	var ran []string
	r := NewRunner(testLogger())

	steps := []Step{
		{Name: "one", Run: func(context.Context) error { ran = append(ran, "one"); return nil }},
		{Name: "two", Run: func(context.Context) error { ran = append(ran, "two"); return nil }},
	}

	if err := r.Run(context.Background(), "test", "vm1", steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("expected 2 steps to run, got %d", len(ran))
	}
}

func TestRunnerFailureCompensatesPriorStepsOnly(t *testing.T) {
	// If step k fails, exactly the compensations for steps 1..k-1 run,
	// in reverse order, and step k's own compensation never runs.
	for failAt := 1; failAt <= 4; failAt++ {
		t.Run(fmt.Sprintf("fail_at_step_%d", failAt), func(t *testing.T) {
			var undone []int
			boom := errors.New("boom")

			var steps []Step
			for i := 1; i <= 4; i++ {
				i := i
				steps = append(steps, Step{
					Name: fmt.Sprintf("step-%d", i),
					Run: func(context.Context) error {
						if i == failAt {
							return boom
						}
						return nil
					},
					Compensate: func() error {
						undone = append(undone, i)
						return nil
					},
				})
			}

			r := NewRunner(testLogger())
			err := r.Run(context.Background(), "resize", "vm1", steps)
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped step error, got %v", err)
			}

			if len(undone) != failAt-1 {
				t.Fatalf("expected %d compensations, got %d: %v", failAt-1, len(undone), undone)
			}
			for idx, step := range undone {
				want := failAt - 1 - idx
				if step != want {
					t.Errorf("compensation %d: expected step %d, got %d", idx, want, step)
				}
			}
		})
	}
}

func TestRunnerWrapsErrorWithWorkflowAndInstance(t *testing.T) {
	r := NewRunner(testLogger())
	steps := []Step{
		{Name: "deploy", Run: func(context.Context) error { return errors.New("remote refused") }},
	}

	err := r.Run(context.Background(), "spawn", "web-01", steps)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"spawn", "web-01", "deploy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestRunnerSuccessDiscardsCompensations(t *testing.T) {
	compensated := false
	r := NewRunner(testLogger())
	steps := []Step{
		{
			Name:       "register",
			Run:        func(context.Context) error { return nil },
			Compensate: func() error { compensated = true; return nil },
		},
	}

	if err := r.Run(context.Background(), "spawn", "vm1", steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if compensated {
		t.Error("compensation must not run on the success path")
	}
}

func TestRunnerCompensationFailureDoesNotMaskStepError(t *testing.T) {
	boom := errors.New("deploy failed")
	r := NewRunner(testLogger())
	steps := []Step{
		{
			Name:       "register",
			Run:        func(context.Context) error { return nil },
			Compensate: func() error { return errors.New("undo failed") },
		},
		{Name: "deploy", Run: func(context.Context) error { return boom }},
	}

	err := r.Run(context.Background(), "spawn", "vm1", steps)
	if !errors.Is(err, boom) {
		t.Fatalf("expected original step error, got %v", err)
	}
}
