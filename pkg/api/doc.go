// Package api exposes the HTTP control surface: service and node
// lifecycle, task and endpoint views, sample queries, alert rules and live
// alerts, recent cluster events, Raft membership, and Prometheus
// self-metrics.
package api
