/*
Package storage provides persistent cluster state storage for Burrow.

The Store interface covers nodes, services, tasks, and alert rules. The
only implementation is BoltStore, which keeps one BoltDB bucket per entity
and stores records as JSON. All writes go through the Raft FSM in
pkg/manager; components read directly from the local store.

Missing records are reported with ErrNotFound, so callers can distinguish
absence from I/O failure with errors.Is.
*/
package storage
