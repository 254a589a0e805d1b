// Package sfm implements the self-monitoring registry: a fixed set of
// accumulators that record the monitor's own execution telemetry and turn it
// into time series at the end of a run.
//
// Every accumulator is an explicitly constructed value owned by a Registry,
// and a Registry belongs to exactly one execution. Flushing is read-only, so a
// registry can be flushed to several sinks.
//
//	reg := sfm.NewRegistry()
//	reg.RecordPush("project-a", 5, 2, 1)
//	series := reg.GenerateTimeSeries(meta, sfm.Interval{EndTime: time.Now()})
package sfm
