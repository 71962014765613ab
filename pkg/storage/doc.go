/*
Package storage provides persistent state storage for the Coldstore origin.

All origin state lives behind the Store interface, backed by an embedded
BoltDB database. One bucket per table:

	mirrors        mirror registry, keyed by mirror ID
	pairing_codes  issued codes, keyed by the code itself
	mirror_files   holdings index, keyed by mirrorID/entryID
	sync_logs      append-only audit trail, keyed by bucket sequence
	catalog        file metadata, keyed by entry ID

Values are JSON. Writes are upserts inside a single bolt transaction, so a
crash never leaves a half-written record.

# Transactional Redemption

RedeemPairingCode is the one compound operation: it validates the code,
marks it consumed, and creates the mirror in the same transaction. A crash
between the two steps cannot leave a reusable code or an orphaned mirror,
and concurrent redemptions of the same code serialize on the write lock so
exactly one wins.

# Sync Log

Sync log keys come from the bucket's NextSequence counter, big-endian
encoded so lexicographic key order is append order. Entries are never
updated or deleted; ListSyncLogs walks the cursor backwards to return the
newest entries first.

# Usage

	store, err := storage.NewBoltStore("/var/lib/coldstore")
	if err != nil {
		return err
	}
	defer store.Close()

	mirror, err := store.GetMirror(id)
*/
package storage
