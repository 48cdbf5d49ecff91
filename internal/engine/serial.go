package engine

import (
	"context"
)

// Runnable is the step contract shared by graph nodes and serial
// containers. Run reports whether the step is waiting for an external
// completion.
type Runnable interface {
	Run(ctx context.Context) (bool, error)
	IsDone() bool
}

// StepRunner runs its steps strictly in order and stops at the first one
// that waits. Later steps are never started while an earlier one is
// pending. A StepRunner is itself Runnable, so containers nest.
type StepRunner struct {
	Steps []Runnable

	// OnDone, if set, is called once every step has completed.
	OnDone func(ctx context.Context) error

	done bool
}

var _ Runnable = (*StepRunner)(nil)

func (s *StepRunner) Run(ctx context.Context) (bool, error) {
	if s.done {
		return false, nil
	}
	for _, step := range s.Steps {
		if step.IsDone() {
			continue
		}
		waiting, err := step.Run(ctx)
		if err != nil {
			return false, err
		}
		if waiting || !step.IsDone() {
			return true, nil
		}
	}
	s.done = true
	if s.OnDone != nil {
		return false, s.OnDone(ctx)
	}
	return false, nil
}

func (s *StepRunner) IsDone() bool {
	return s.done
}
