// Package factory builds pluggable modules from configuration. A module is
// selected by a type name and configured by a map of raw settings that its
// factory decodes into a typed struct.
//
// The metrics sink registry of core/metrics is the main user: infra/metrics
// registers "nop", "prometheus" and "influx" and infra/mqtt registers "mqtt",
// each from an init function. A configuration such as
//
//	metrics:
//	  sinks:
//	    - type: influx
//	      conf: {url: "http://influx:8086", org: plant, bucket: runs}
//
// ends up in
//
//	sink, err := sinkRegistry.Create(factory.ModuleConfig{Type: "influx", Conf: conf})
package factory
