/*
Package scrape polls metrics endpoints and feeds the time-series store.

The engine keeps one goroutine per target, re-deriving the target set from
discovery on a fixed refresh interval. Each scrape is bounded by a context
timeout; a target that fails enough scrapes in a row is marked down,
announced on the event broker, and retried with capped exponential backoff.
Marking a target down never removes the samples it already produced.
*/
package scrape
