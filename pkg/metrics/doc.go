/*
Package metrics exposes Prometheus instrumentation for the control plane
itself: reconciliation cycles and durations, task scheduling counters,
scrape outcomes, time-series store size, and alert transitions.

Collectors are package-level and registered in init; Handler returns the
promhttp handler mounted at /metrics by pkg/api. These are the control
plane's own metrics; workload metrics scraped from targets live in
pkg/tsdb instead.
*/
package metrics
