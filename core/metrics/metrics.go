package metrics

import (
	"time"

	"github.com/kilianp07/hydroflex/core/model"
)

// Event is anything published on the scheduling event bus.
type Event any

// SubHorizonEvent is emitted once per solved or failed sub-horizon.
type SubHorizonEvent struct {
	RunID     string
	SimIdx    int
	Status    model.SolveStatus
	Attempts  int
	Recovered bool
	Objective float64
	Duration  time.Duration
	Time      time.Time
}

// RunEvent summarizes a completed or failed run.
type RunEvent struct {
	RunID       string
	Scenario    string
	SubHorizons int
	NonOptimal  int
	Recovered   int
	Err         string
	Duration    time.Duration
	Time        time.Time
}

// Failed reports whether the run stopped on an error.
func (e RunEvent) Failed() bool { return e.Err != "" }

// ResultEvent carries the result rows of one sub-horizon.
type ResultEvent struct {
	RunID string
	Rows  []model.ResultRow
}

// MetricsSink records sub-horizon outcomes.
type MetricsSink interface {
	RecordSubHorizon(ev SubHorizonEvent) error
}

// RunRecorder records run summaries.
type RunRecorder interface {
	RecordRun(ev RunEvent) error
}

// ResultRecorder records result rows.
type ResultRecorder interface {
	RecordResults(ev ResultEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSubHorizon(SubHorizonEvent) error { return nil }
func (NopSink) RecordRun(RunEvent) error               { return nil }
func (NopSink) RecordResults(ResultEvent) error        { return nil }

// Dispatch forwards ev to the matching recorder of sink. Events the sink
// cannot record are dropped.
func Dispatch(sink MetricsSink, ev Event) error {
	switch e := ev.(type) {
	case SubHorizonEvent:
		return sink.RecordSubHorizon(e)
	case RunEvent:
		if r, ok := sink.(RunRecorder); ok {
			return r.RecordRun(e)
		}
	case ResultEvent:
		if r, ok := sink.(ResultRecorder); ok {
			return r.RecordResults(e)
		}
	}
	return nil
}
