/*
Package events provides a pub/sub broker for cluster events.

The broker decouples the control loops: the manager publishes state changes
(task failed, node unreachable, service applied) and interested loops
subscribe to react immediately instead of waiting for their next periodic
tick. Slow subscribers are skipped rather than blocking the broadcast, so
every loop must still resync periodically.

A bounded history of recent events is kept for the API's event listing.
*/
package events
