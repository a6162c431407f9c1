/*
Package manager implements Burrow's cluster state authority.

The Manager owns the node registry and the service registry. Every
desired-state mutation (service applied, node joined, task created) is an
explicit Command serialized through a Raft log and applied by the FSM to
the local BoltDB store, so there is a single writer and placement decisions
never race. Readers (scheduler, discovery, scrape, alerts) read committed
snapshots from the store directly and tolerate staleness bounded by one
reconciliation interval.

Node lifecycle: nodes join, heartbeat, may be drained (no new placements,
existing tasks stay), and leave. A node that misses heartbeats past the
configured timeout is marked unreachable by the reconciler; it stays
registered so it can recover.

Service lifecycle: ApplyService is an idempotent validated upsert.
RemoveService is not immediate teardown: it drops desired replicas to zero
and marks the record Removing; the scheduler drains tasks and deletes the
record when none remain.

Submission-time validation failures are returned as *ValidationError; all
other failures are handled asynchronously by the control loops.
*/
package manager
