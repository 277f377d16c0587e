package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/hydroflex/config"
	"github.com/kilianp07/hydroflex/core/scheduler"
	"github.com/kilianp07/hydroflex/infra/input"
)

// Report is the outcome of one batch scenario.
type Report struct {
	Scenario string
	Result   *scheduler.Result
	Duration time.Duration
	Err      error
}

// RunBatch solves every configured scenario of ds, at most
// cfg.Batch.Parallelism at a time. Scenarios are independent: a failing
// one does not stop the others. Reports follow the scenario order and the
// returned error is the first failure.
func (s *Service) RunBatch(ctx context.Context, ds *input.Dataset) ([]Report, error) {
	scenarios := s.cfg.Batch.Scenarios
	if len(scenarios) == 0 {
		scenarios = []config.ScenarioConfig{{Name: ds.Name}}
	}
	reports := make([]Report, len(scenarios))
	var g errgroup.Group
	g.SetLimit(max(1, s.cfg.Batch.Parallelism))
	for i, scen := range scenarios {
		reports[i].Scenario = scen.Name
		g.Go(func() error {
			began := time.Now()
			res, err := s.runScenario(ctx, ds, scen)
			reports[i].Result = res
			reports[i].Duration = time.Since(began)
			if err != nil {
				reports[i].Err = err
				s.log.Errorf("scenario %s failed: %v", scen.Name, err)
				return fmt.Errorf("scenario %s: %w", scen.Name, err)
			}
			s.log.Infof("scenario %s done in %s", scen.Name, reports[i].Duration)
			return nil
		})
	}
	err := g.Wait()
	return reports, err
}

func (s *Service) runScenario(ctx context.Context, base *input.Dataset, scen config.ScenarioConfig) (*scheduler.Result, error) {
	ds := base
	if len(scen.DisableUnits) > 0 {
		masked, err := base.WithoutUnits(scen.DisableUnits)
		if err != nil {
			return nil, err
		}
		ds = masked
	}
	sc := s.schedulerConfig(ds, scen.Name)
	if scen.Battery != nil {
		sc.Battery = scen.Battery.Params()
	}
	return s.run(ctx, ds, sc, nil)
}
