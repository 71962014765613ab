/*
Package registry tracks the mirror fleet and owns mirror status transitions.

A mirror's status encodes both admission and liveness:

	pending ──approve──► approved ──heartbeat──► online
	   │                                   ▲        │
	   │                                   │     timeout
	reject                            heartbeat     │
	   │                                   │        ▼
	   ▼                                   └──── offline
	rejected (terminal)

Rejected is terminal and a mirror never returns to pending. Invalid
transitions fail and leave the stored status untouched.

Two predicates summarize what a status permits:

	SyncEligible  approved or online  — orchestrator may push to it
	Routable      online only         — end-user downloads may go to it

An offline mirror keeps its mirror-file records; it may still serve stale
content to users who reach it directly. Content is immutable and
hash-verified, so a stale copy is still a correct copy.

Status changes that other components care about (online, offline, approved)
are published on the event broker when one is attached.
*/
package registry
