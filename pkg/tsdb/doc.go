/*
Package tsdb is Burrow's in-memory time-series store.

The scrape engine appends immutable samples; the alert evaluator and the
query API read them. Retention is enforced on append: samples older than
the configured duration are expired, and when the total sample budget is
exceeded the globally oldest samples are evicted first. Queries select by
metric name, label selector, and time range; this read surface is the
boundary toward external visualization tools.
*/
package tsdb
