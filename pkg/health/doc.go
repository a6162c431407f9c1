/*
Package health provides task health probing.

Checkers implement HTTP and TCP probes with bounded timeouts. Status tracks
consecutive successes/failures and flips to unhealthy once the retry
threshold is reached. Monitor sweeps all running tasks concurrently,
honoring each task's probe interval, and records results on the task so the
reconciler can replace tasks that keep failing.
*/
package health
