// Package sink persists validation results.
//
// Every sink implements validator.ResultSink. Flush always receives the full
// ordered result sequence and replaces what was stored before, so a sink can
// be re-flushed any number of times and a reader only ever sees a complete
// snapshot. Append is the per-result hook used by sinks that stream (Pub/Sub);
// snapshot sinks ignore it.
package sink
