package workflow

import (
	"go.uber.org/zap"
)

// Compensation is a named undo action recorded after its paired forward
// action completed successfully.
type Compensation struct {
	Name string
	Undo func() error
}

// CompensationStack accumulates compensations as steps succeed and
// unwinds them in reverse order when a later step fails.
//
// Unwinding is best-effort: a failing undo action is logged and the
// remaining stack is still unwound. Every pushed action is attempted
// exactly once.
type CompensationStack struct {
	log   *zap.SugaredLogger
	undos []Compensation
}

// NewCompensationStack returns an empty stack that logs undo failures
// through log.
func NewCompensationStack(log *zap.SugaredLogger) *CompensationStack {
	return &CompensationStack{log: log}
}

// Push records an undo action. Call this only after the paired forward
// action has completed without error.
func (s *CompensationStack) Push(name string, undo func() error) {
	s.undos = append(s.undos, Compensation{Name: name, Undo: undo})
}

// Len returns the number of recorded compensations.
func (s *CompensationStack) Len() int {
	return len(s.undos)
}

// UnwindAll pops and executes every recorded compensation in reverse
// order of push. Errors from individual undo actions are logged and
// swallowed so the rest of the stack still runs.
func (s *CompensationStack) UnwindAll() {
	for i := len(s.undos) - 1; i >= 0; i-- {
		c := s.undos[i]
		s.log.Infof("Compensating: %s", c.Name)
		if err := c.Undo(); err != nil {
			s.log.Warnf("Warning: compensation %s failed: %v", c.Name, err)
		}
	}
	s.undos = nil
}
