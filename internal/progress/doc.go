// Package progress reports how far each pooled harvest stage has got. Stage
// reporters emit events onto a non-blocking Hub, which batches them on a
// background goroutine and fans them out to sinks: a terminal renderer built
// on Tracker and Prometheus stage gauges.
package progress
