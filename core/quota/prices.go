package quota

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/hydroflex/core/model"
)

// UnpoweredPrices are the market price quantiles used to price deviations
// from a quota. Neg is the upper quantile 0.5+q and Pos the lower one 0.5-q.
type UnpoweredPrices struct {
	Neg float64 `json:"neg"`
	Pos float64 `json:"pos"`
}

// NewUnpoweredPrices computes the quantiles of the market price series.
// q must lie in [0, 0.5].
func NewUnpoweredPrices(prices []float64, q float64) (UnpoweredPrices, error) {
	if len(prices) == 0 {
		return UnpoweredPrices{}, &model.ValidationError{Component: "quota", Entity: "market_price", Reason: "price series is empty", Err: model.ErrEmptyCurve}
	}
	if q < 0 || q > 0.5 {
		return UnpoweredPrices{}, &model.ValidationError{Component: "quota", Entity: "market_price", Reason: fmt.Sprintf("quantile offset %g outside [0, 0.5]", q)}
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	return UnpoweredPrices{
		Neg: stat.Quantile(0.5+q, stat.Empirical, sorted, nil),
		Pos: stat.Quantile(0.5-q, stat.Empirical, sorted, nil),
	}, nil
}

// Factors returns the shortage and overage penalty factors per cubic metre
// of a unit whose alpha ranges over [alphaMin, alphaMax].
func (p UnpoweredPrices) Factors(alphaMin, alphaMax float64) (shortage, overage float64) {
	var neg, pos float64
	if alphaMax > 0 {
		neg = alphaMax * p.Neg
	} else {
		neg = alphaMax * p.Pos
	}
	if alphaMin > 0 {
		pos = alphaMin * p.Pos
	} else {
		pos = alphaMin * p.Neg
	}
	return abs(pos) / 3600, abs(neg) / 3600
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
