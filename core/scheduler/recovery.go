package scheduler

import (
	"context"

	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/quota"
	"github.com/kilianp07/hydroflex/core/solver"
)

// RecoveryPolicy bounds the re-solves of an infeasible sub-horizon. Each
// retry multiplies the quota buffers of the current sub-horizon by
// BufferGrowth, on top of the previous retries.
type RecoveryPolicy struct {
	MaxRetries   int     `json:"max_retries" yaml:"max_retries"`
	BufferGrowth float64 `json:"buffer_growth" yaml:"buffer_growth"`
}

// DefaultRecoveryPolicy retries three times, doubling buffers each time.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{MaxRetries: 3, BufferGrowth: 2}
}

// withDefaults fills zero fields. A negative MaxRetries disables retries.
func (p RecoveryPolicy) withDefaults() RecoveryPolicy {
	d := DefaultRecoveryPolicy()
	if p.MaxRetries == 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BufferGrowth <= 0 {
		p.BufferGrowth = d.BufferGrowth
	}
	return p
}

type attempt struct {
	result    solver.Result
	attempts  int
	recovered bool
}

// solveWithRecovery solves the instance built from quotas, widening the
// buffers after every infeasible or unbounded answer.
func (s *Scheduler) solveWithRecovery(ctx context.Context, simIdx int, quotas []model.Quota, build func([]model.Quota) *solver.Instance) (attempt, error) {
	var out attempt
	for {
		out.attempts++
		res, err := s.solver.Solve(ctx, build(quotas), s.cfg.Solver)
		if err != nil {
			return out, &model.SolverError{SimIdx: simIdx, Err: err}
		}
		out.result = res
		if res.Status.Usable() {
			return out, nil
		}
		if out.attempts > s.cfg.Recovery.MaxRetries {
			return out, &model.InfeasibleHorizonError{SimIdx: simIdx, Attempts: out.attempts, Status: res.Status}
		}
		out.recovered = true
		quotas = quota.Widen(quotas, s.cfg.Recovery.BufferGrowth)
		s.log.Warnf("sub-horizon %d %s, retrying with buffers x%g (retry %d/%d)",
			simIdx, res.Status, s.cfg.Recovery.BufferGrowth, out.attempts, s.cfg.Recovery.MaxRetries)
	}
}
