// Package input loads scheduling datasets from YAML or JSON files.
package input

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/scheduler"
	"github.com/kilianp07/hydroflex/core/solver"
)

// Dataset is everything a run needs besides configuration: the assets, the
// fine time grid and the series aligned on it.
type Dataset struct {
	Name           string
	Grid           model.TimeGrid
	Basins         []model.Basin
	Units          []model.HydraulicUnit
	Samples        map[string][]model.PerformanceSample
	MarketPrice    []float64
	AncillaryPrice []float64
	Discharge      map[string][]float64
	// Produced is the optional per-step produced volume of each unit. When
	// empty the first stage planner computes it.
	Produced map[string][]float64
	Battery  *solver.BatteryParams
}

type unitFile struct {
	ID         string                    `json:"id" yaml:"id"`
	Kind       string                    `json:"kind" yaml:"kind"`
	Control    string                    `json:"control" yaml:"control"`
	RatedFlow  float64                   `json:"rated_flow" yaml:"rated_flow"`
	RatedPower float64                   `json:"rated_power" yaml:"rated_power"`
	Upstream   string                    `json:"upstream" yaml:"upstream"`
	Downstream string                    `json:"downstream" yaml:"downstream"`
	Samples    []model.PerformanceSample `json:"samples" yaml:"samples"`
}

type batteryFile struct {
	CapacityMWh float64 `json:"capacity_mwh" yaml:"capacity_mwh"`
	PowerMW     float64 `json:"power_mw" yaml:"power_mw"`
	Efficiency  float64 `json:"efficiency" yaml:"efficiency"`
	StartSOC    float64 `json:"start_soc" yaml:"start_soc"`
}

type datasetFile struct {
	Name           string               `json:"name" yaml:"name"`
	Start          time.Time            `json:"start" yaml:"start"`
	Step           string               `json:"step" yaml:"step"`
	Basins         []model.Basin        `json:"basins" yaml:"basins"`
	Units          []unitFile           `json:"units" yaml:"units"`
	MarketPrice    []float64            `json:"market_price" yaml:"market_price"`
	AncillaryPrice []float64            `json:"ancillary_price" yaml:"ancillary_price"`
	Discharge      map[string][]float64 `json:"discharge" yaml:"discharge"`
	Produced       map[string][]float64 `json:"produced" yaml:"produced"`
	Battery        *batteryFile         `json:"battery" yaml:"battery"`
}

// Load reads a dataset file. The format is chosen from the extension:
// .json is JSON, anything else is YAML.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var f datasetFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	ds, err := f.dataset()
	if err != nil {
		return nil, err
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ds, nil
}

func (f datasetFile) dataset() (*Dataset, error) {
	step := time.Hour
	if f.Step != "" {
		d, err := time.ParseDuration(f.Step)
		if err != nil {
			return nil, &model.ValidationError{Component: "dataset", Entity: "step", Reason: err.Error(), Err: err}
		}
		step = d
	}
	if step <= 0 {
		return nil, &model.ValidationError{Component: "dataset", Entity: "step", Reason: "must be positive"}
	}
	ds := &Dataset{
		Name:           f.Name,
		Grid:           model.TimeGrid{Start: f.Start, Step: step, Steps: len(f.MarketPrice)},
		Basins:         f.Basins,
		Samples:        make(map[string][]model.PerformanceSample, len(f.Units)),
		MarketPrice:    f.MarketPrice,
		AncillaryPrice: f.AncillaryPrice,
		Discharge:      f.Discharge,
		Produced:       f.Produced,
	}
	for _, u := range f.Units {
		kind, err := model.ParseUnitKind(u.Kind)
		if err != nil {
			return nil, &model.ValidationError{Component: "unit", Entity: u.ID, Reason: err.Error(), Err: err}
		}
		control, err := model.ParseControl(u.Control)
		if err != nil {
			return nil, &model.ValidationError{Component: "unit", Entity: u.ID, Reason: err.Error(), Err: err}
		}
		ds.Units = append(ds.Units, model.HydraulicUnit{
			ID:         u.ID,
			Kind:       kind,
			Control:    control,
			RatedFlow:  u.RatedFlow,
			RatedPower: u.RatedPower,
			Upstream:   u.Upstream,
			Downstream: u.Downstream,
		})
		if len(u.Samples) > 0 {
			samples := append([]model.PerformanceSample(nil), u.Samples...)
			sort.SliceStable(samples, func(i, j int) bool { return samples[i].Height < samples[j].Height })
			ds.Samples[u.ID] = samples
		}
	}
	if f.Battery != nil {
		b := solver.BatteryParams(*f.Battery)
		if b.Efficiency == 0 {
			b.Efficiency = 1
		}
		ds.Battery = &b
	}
	for id, p := range f.Produced {
		if len(p) != ds.Grid.Steps {
			return nil, &model.ValidationError{Component: "dataset", Entity: id,
				Reason: fmt.Sprintf("%d produced values for %d steps", len(p), ds.Grid.Steps)}
		}
	}
	return ds, nil
}

// Series returns the time-indexed inputs of the dataset.
func (d *Dataset) Series() scheduler.Series {
	return scheduler.Series{
		Grid:           d.Grid,
		MarketPrice:    d.MarketPrice,
		AncillaryPrice: d.AncillaryPrice,
		Discharge:      d.Discharge,
	}
}

// HasProduced reports whether the dataset carries produced volumes.
func (d *Dataset) HasProduced() bool { return len(d.Produced) > 0 }

// WithoutUnits returns a copy of the dataset in which the listed units are
// removed. Unknown IDs are reported as an error.
func (d *Dataset) WithoutUnits(ids []string) (*Dataset, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := *d
	out.Units = nil
	out.Samples = make(map[string][]model.PerformanceSample, len(d.Samples))
	out.Produced = nil
	for _, u := range d.Units {
		if drop[u.ID] {
			delete(drop, u.ID)
			continue
		}
		out.Units = append(out.Units, u)
		if s, ok := d.Samples[u.ID]; ok {
			out.Samples[u.ID] = s
		}
		if p, ok := d.Produced[u.ID]; ok {
			if out.Produced == nil {
				out.Produced = make(map[string][]float64)
			}
			out.Produced[u.ID] = p
		}
	}
	if len(drop) > 0 {
		var unknown []string
		for id := range drop {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, &model.ValidationError{Component: "dataset", Reason: fmt.Sprintf("unknown units %v", unknown)}
	}
	return &out, nil
}

// WithBattery returns a copy of the dataset with the battery replaced.
// A nil battery removes it.
func (d *Dataset) WithBattery(b *solver.BatteryParams) *Dataset {
	out := *d
	if b != nil {
		cp := *b
		out.Battery = &cp
	} else {
		out.Battery = nil
	}
	return &out
}
