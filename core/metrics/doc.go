// Package metrics defines the events emitted while a schedule runs and the
// sinks recording them. Sinks implement MetricsSink and may implement the
// optional recorder interfaces; callers discover those with a type
// assertion. NewMetricsSink builds sinks from configuration and combines
// several of them into a MultiSink.
package metrics
