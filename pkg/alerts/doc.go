/*
Package alerts evaluates alerting rules against the time-series store.

A rule is a threshold expression (`cpu_usage{role="worker"} > 90`) with a
"for" duration. The evaluator keeps one state machine per (rule, label-set)
instance:

	inactive -> pending    condition crosses the threshold
	pending  -> firing     condition held continuously for the "for" duration
	pending  -> inactive   condition false at any tick before firing
	firing   -> resolved   condition stops holding (one tick, notification)
	resolved -> inactive   next tick

Evaluation runs at a fixed interval, reading only the latest committed
samples, so it never blocks on an in-flight scrape. A malformed expression
is reported once per rule change and leaves the rule's instances inactive.
*/
package alerts
