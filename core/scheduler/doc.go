// Package scheduler runs the rolling-horizon schedule of a hydropower
// system.
//
// A Topology holds the validated assets and their full-range
// discretization. FirstStage solves the whole horizon at a coarse
// resolution to produce per-unit volumes, which the quota package turns
// into sub-horizon targets. Scheduler then walks the sub-horizons in order:
// it discretizes each basin around its carried volume, builds a solver
// instance, solves it (retrying with wider buffers when infeasible) and
// threads the end state into the next sub-horizon.
package scheduler
