// Package discretize turns continuous hydraulic curves into the small sets
// of piecewise-linear states used by the scheduling model.
//
// Breakpoints selects the minimal breakpoint set of a performance curve under
// an error bound. FullRange and Window slice a basin volume curve into
// contiguous states, and UnitStates attaches the representative flow and
// efficiency of a unit to each basin state.
package discretize
