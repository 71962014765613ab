/*
Package events provides in-process pub/sub for fleet events.

The broker fans events out to subscriber channels: catalog approvals wake
the sync orchestrator ahead of its timer, mirror status changes feed logs
and any future notification surface. Broadcast is non-blocking; a
subscriber that stops draining its channel misses events rather than
stalling the publisher.

Event types:

	entry.approved   catalog entry became distributable
	mirror.paired    pairing code redeemed
	mirror.approved  operator admitted a mirror
	mirror.online    first heartbeat or recovery
	mirror.offline   heartbeat timeout
	sync.completed   orchestration pass applied to a mirror
*/
package events
