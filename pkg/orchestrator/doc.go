/*
Package orchestrator drives mirror synchronization for the Coldstore origin.

The orchestrator periodically computes, for every sync-eligible mirror, the
set of catalog entries that mirror should hold, diffs it against what the
mirror currently holds, and pushes the delta to the mirror agent as a single
sync instruction. The agent's per-item report is then folded back into the
origin's mirror-file index and the append-only sync log.

# Architecture

The orchestrator runs on a fixed interval (default 300 seconds) and can be
woken early by catalog approval events or the trigger-sync admin endpoint:

	┌──────────────────────────────────────────────────────────┐
	│                  Orchestration Pass                       │
	│        (every 300s, on approval, or on trigger)           │
	└───────────────┬──────────────────────────────────────────┘
	                │  for each sync-eligible mirror (parallel)
	                ▼
	┌──────────────────────────────────────────────────────────┐
	│  1. desired = rank(approved catalog)[:mirror.MaxFiles]    │
	│  2. current = mirror-file index rows for this mirror      │
	│  3. fetch   = desired − current                           │
	│     evict   = current − desired                           │
	│  4. POST {fetch, evict} to the mirror agent               │
	│  5. Apply the agent's report:                              │
	│     push        → record verified mirror file             │
	│     evict       → delete mirror file row                  │
	│     verify-fail → log only (retried next pass)            │
	│     fetch-fail  → log only (retried next pass)            │
	└──────────────────────────────────────────────────────────┘

Desired sets come from the priority policy (see package policy), so two
passes over the same catalog always produce the same assignment.

# Concurrency

Sync for one mirror is a unit: the orchestrator keeps an in-flight set and
refuses to start a second pass for a mirror that already has one running
(types.ErrSyncInFlight). Distinct mirrors sync concurrently; a full pass
waits for all of them before returning.

# Failure Model

All sync failures are treated as transient. A failed push leaves the
mirror-file index untouched, records a fetch-fail entry on the audit trail,
and the delta is simply recomputed on the next pass. There is no retry
bookkeeping to corrupt.

# Usage

	client := orchestrator.NewHTTPSyncClient(0)
	orch := orchestrator.NewOrchestrator(store, library, client, broker, 0)
	orch.Start()
	defer orch.Stop()

	// Out-of-cycle pass for one mirror (admin trigger):
	err := orch.SyncMirror(ctx, mirrorID)

The SyncClient interface decouples delta computation from transport, so
tests inject a fake client and assert on the instructions it receives.
*/
package orchestrator
