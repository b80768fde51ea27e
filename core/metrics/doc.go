// Package metrics defines the sinks a batch run reports to. Sinks such as
// PromSink and InfluxSink record one RespaceEvent per parameter and pair and
// can be combined with NewMultiSink. Optional capabilities (validation and
// run summaries) are discovered with type assertions, so a sink only
// implements what it can store.
package metrics
