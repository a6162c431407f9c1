/*
Package reconciler detects and repairs failures.

Each sweep marks nodes unreachable after missed heartbeats, fails the tasks
stranded on them, fails running tasks that crossed their health-probe
failure threshold, records requested shutdowns, and deletes finished task
records after a grace period. Failed tasks fall out of the active set, so
the scheduler's next pass replaces them on other eligible nodes.
*/
package reconciler
