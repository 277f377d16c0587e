package scheduler

import (
	"fmt"

	"github.com/kilianp07/hydroflex/core/model"
)

// Series holds the time-indexed inputs of a run, aligned on Grid.
type Series struct {
	Grid           model.TimeGrid
	MarketPrice    []float64
	AncillaryPrice []float64
	// Discharge is the natural inflow volume per basin and step.
	Discharge map[string][]float64
}

// Validate checks every series against the grid and the topology.
func (s Series) Validate(t *Topology) error {
	if s.Grid.Steps <= 0 || s.Grid.Step <= 0 {
		return &model.ValidationError{Component: "series", Reason: "time grid is empty"}
	}
	if len(s.MarketPrice) != s.Grid.Steps {
		return &model.ValidationError{Component: "series", Entity: "market_price",
			Reason: fmt.Sprintf("%d values for %d steps", len(s.MarketPrice), s.Grid.Steps)}
	}
	if s.AncillaryPrice != nil && len(s.AncillaryPrice) != s.Grid.Steps {
		return &model.ValidationError{Component: "series", Entity: "ancillary_price",
			Reason: fmt.Sprintf("%d values for %d steps", len(s.AncillaryPrice), s.Grid.Steps)}
	}
	for id, d := range s.Discharge {
		if t != nil && t.BasinIndex(id) < 0 {
			return &model.ValidationError{Component: "series", Entity: id, Reason: "discharge for unknown basin"}
		}
		if len(d) != s.Grid.Steps {
			return &model.ValidationError{Component: "series", Entity: id,
				Reason: fmt.Sprintf("%d discharge values for %d steps", len(d), s.Grid.Steps)}
		}
	}
	return nil
}

func window(v []float64, w model.Window) []float64 {
	if v == nil {
		return nil
	}
	return v[w.Start:w.End]
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}
