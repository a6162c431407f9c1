/*
Package types defines the core data structures used throughout Burrow.

It contains the domain model shared by all other packages: cluster nodes,
replicated services and their tasks, derived discovery endpoints, scrape
targets and samples, and alerting rules with their runtime state.

Ownership follows the control loops that mutate each type:

  - Node: owned by the node registry (pkg/manager); updated on heartbeat
  - Service: owned by the service registry (pkg/manager); operator submitted
  - Task: owned by the scheduler; one running instance of a service
  - Endpoint: derived view owned by pkg/discovery, never persisted
  - Target/Sample: owned by pkg/scrape and pkg/tsdb
  - AlertRule/Alert: rules are operator submitted; Alert state is mutated
    only by pkg/alerts

Relationships are identifier-based (Task holds ServiceID and NodeID) rather
than direct pointers, so records can be serialized to the store and read
back without ownership cycles.

All enums use typed string constants:

	type TaskState string
	const (
	    TaskStatePending TaskState = "pending"
	    TaskStateRunning TaskState = "running"
	)

Types are JSON-serializable; the storage layer persists them as JSON in
BoltDB buckets.
*/
package types
