// Package dispatch runs work items through the credential failover loop.
//
// Items are de-duplicated by canonical target, then processed in input order
// in small batches. Each item tries credentials until one produces a terminal
// classification or every credential has been attempted once. Results are
// recorded in dispatch order and flushed to the sink periodically and once
// more on every exit path.
package dispatch
