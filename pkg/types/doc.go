/*
Package types defines the core data structures shared across Coldstore.

Mirror, PairingCode, CatalogEntry, MirrorFile and SyncLogEntry are the five
persisted records; SyncInstruction, FetchItem, SyncReport and SyncResult
are the wire types exchanged between the origin orchestrator and mirror
agents. Sentinel errors for the pairing, sync and storage error taxonomy
live in errors.go so every package can match them with errors.Is without
import cycles.
*/
package types
