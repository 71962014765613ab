/*
Package agent implements the Coldstore mirror agent.

The agent runs on a volunteer node. It pairs with an origin once, then keeps
a local copy of whatever file set the origin assigns it and serves those
files to end users under a configurable bandwidth cap.

# Architecture

	┌───────────────────────── Mirror Agent ─────────────────────────┐
	│                                                                 │
	│  heartbeat loop ──────────────► POST origin/api/mirrors/        │
	│  (every 60s)                        heartbeat {files, bytes}    │
	│                                                                 │
	│  POST /sync  ◄────────────────  origin orchestrator             │
	│      │                                                          │
	│      ▼                                                          │
	│  apply instruction:                                             │
	│    evict listed entries                                         │
	│    fetch → verify → commit each item                            │
	│    enforce capacity (policy ranking)                            │
	│      │                                                          │
	│      ▼                                                          │
	│  SyncReport {push | evict | verify-fail | fetch-fail}           │
	│                                                                 │
	│  GET /download/{entry_id} ◄──── end users (rate limited)        │
	│  GET /health, POST /pair  ◄──── local operator                  │
	│                                                                 │
	│  bbolt: file index + persisted identity (credential)            │
	└─────────────────────────────────────────────────────────────────┘

# Fetch Pipeline

Fetches are all-or-nothing. Content streams from the origin into a temp
file while a SHA-256 runs over it; only when the digest matches the catalog
hash is the file renamed into the content directory and indexed as
verified. A mismatch discards the bytes and reports verify-fail, so a
corrupted or truncated transfer can never be served.

# Eviction

The agent evicts on two triggers: entries named in the instruction's evict
list, and capacity overflow after fetches complete. Capacity victims are
chosen by ranking local holdings with the same priority policy the origin
uses (each fetch item carries the ranking inputs), so both sides converge
on the same survivor set. Eviction of an entry the agent no longer holds is
a no-op.

# Identity

Pairing is one-time. The credential returned by the origin is persisted in
the agent's database and presented as a bearer token on every origin call;
the origin presents the same credential back when pushing sync
instructions, which is how the agent authenticates its caller.
*/
package agent
