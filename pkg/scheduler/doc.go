/*
Package scheduler converges services toward their desired replica counts.

Each pass compares a service's desired replicas against its active tasks and
acts on the difference: missing replicas are placed on the least-loaded
eligible node (ties broken by node ID), surplus replicas are shut down
oldest first, and tasks built from an outdated service spec are replaced in
batches bounded by the service's max-unavailable setting.

Passes run on a periodic ticker and are additionally triggered by cluster
events such as task failures or node membership changes. Only the Raft
leader schedules.
*/
package scheduler
