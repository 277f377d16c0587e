package metrics

import "errors"

// MultiSink fans events out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSubHorizon forwards to every sink and joins their errors.
func (m *MultiSink) RecordSubHorizon(ev SubHorizonEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordSubHorizon(ev))
	}
	return errors.Join(errs...)
}

// RecordRun forwards to the sinks implementing RunRecorder.
func (m *MultiSink) RecordRun(ev RunEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(RunRecorder); ok {
			errs = append(errs, r.RecordRun(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordResults forwards to the sinks implementing ResultRecorder.
func (m *MultiSink) RecordResults(ev ResultEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ResultRecorder); ok {
			errs = append(errs, r.RecordResults(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks implementing io.Closer.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
