// Package lifecycle implements the multi-step onboarding, activation and
// offboarding transactions for service accounts. Each transaction runs as
// an ordered list of steps; fatal steps compensate everything already done,
// non-fatal steps record a warning and continue.
package lifecycle

import (
	"context"
	"log/slog"

	"tvault-control/internal/domain"
)

// failure carries a step's terminal outcome up to the transaction result.
type failure struct {
	status  domain.StatusCode
	message string
}

func fail(status domain.StatusCode, message string) *failure {
	return &failure{status: status, message: message}
}

// step is one unit of a transaction. run returns nil on success. When a
// step with continueOnFailure fails, its message is recorded as a warning
// and the next step runs; otherwise the compensations of every completed
// step execute in reverse order and the transaction stops.
type step struct {
	name              string
	run               func(ctx context.Context) *failure
	compensate        func(ctx context.Context)
	continueOnFailure bool
}

// saga executes steps in order with compensation on fatal failure.
type saga struct {
	logger *slog.Logger
	steps  []step
}

// execute runs every step. It returns the warnings collected from
// non-fatal failures and, when a fatal step failed, its failure after all
// compensations have run. Compensations are best-effort: a compensation
// failure is logged by the step itself and never masks the original error.
func (s *saga) execute(ctx context.Context) ([]string, *failure) {
	var warnings []string
	var done []step
	for _, st := range s.steps {
		f := st.run(ctx)
		if f == nil {
			done = append(done, st)
			continue
		}
		if st.continueOnFailure {
			s.logger.Warn("step failed, continuing", "step", st.name, "message", f.message)
			warnings = append(warnings, f.message)
			continue
		}
		s.logger.Error("step failed, compensating", "step", st.name, "message", f.message)
		for i := len(done) - 1; i >= 0; i-- {
			if done[i].compensate == nil {
				continue
			}
			s.logger.Info("compensating step", "step", done[i].name)
			done[i].compensate(ctx)
		}
		return warnings, f
	}
	return warnings, nil
}
