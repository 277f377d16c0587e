package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hydroflex/config"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/solver"
)

func TestRunBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Parallelism = 2
	cfg.Batch.Scenarios = []config.ScenarioConfig{
		{Name: "base"},
		{Name: "no-g1", DisableUnits: []string{"g1"}},
		{Name: "bad", DisableUnits: []string{"ghost"}},
		{Name: "battery", Battery: &config.BatteryConfig{CapacityMWh: 5, PowerMW: 1, Efficiency: 1}},
	}
	svc, _, st := newService(t, cfg, solver.NewStub())

	reports, err := svc.RunBatch(context.Background(), dataset(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario bad")
	require.Len(t, reports, 4)

	for i, name := range []string{"base", "no-g1", "bad", "battery"} {
		assert.Equal(t, name, reports[i].Scenario)
	}
	assert.NoError(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)
	assert.Error(t, reports[2].Err)
	assert.NoError(t, reports[3].Err)

	assert.Empty(t, model.Rows(reports[1].Result.Rows, model.TableFlow))
	assert.Empty(t, model.Rows(reports[0].Result.Rows, model.TableBatteryCharge))
	assert.NotEmpty(t, model.Rows(reports[3].Result.Rows, model.TableBatteryCharge))

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.runs, 3)
}

func TestRunBatchDefaultsToDataset(t *testing.T) {
	svc, _, _ := newService(t, testConfig(), solver.NewStub())
	reports, err := svc.RunBatch(context.Background(), dataset(true))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "valley", reports[0].Scenario)
	assert.NotNil(t, reports[0].Result)
}
