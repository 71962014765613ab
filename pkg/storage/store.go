package storage

import (
	"time"

	"github.com/coldstore/coldstore/pkg/types"
)

// Store defines the interface for origin state storage. All four persisted
// tables (registry, pairing codes, mirror-file index, sync log) live behind
// this interface and survive a process restart.
type Store interface {
	// Mirrors (registry)
	CreateMirror(mirror *types.Mirror) error
	GetMirror(id string) (*types.Mirror, error)
	GetMirrorByCredential(credential string) (*types.Mirror, error)
	ListMirrors() ([]*types.Mirror, error)
	UpdateMirror(mirror *types.Mirror) error
	DeleteMirror(id string) error

	// Pairing codes
	PutPairingCode(code *types.PairingCode) error
	// IssuePairingCode puts a code while atomically enforcing the cap on
	// outstanding unconsumed codes. Fails with types.ErrRateLimited.
	IssuePairingCode(code *types.PairingCode, maxOutstanding int, now time.Time) error
	GetPairingCode(code string) (*types.PairingCode, error)
	ListPairingCodes() ([]*types.PairingCode, error)
	DeletePairingCode(code string) error
	// RedeemPairingCode consumes a code and creates its mirror in one
	// transaction. Fails with types.ErrInvalidCode, types.ErrExpiredCode
	// or types.ErrAlreadyConsumed.
	RedeemPairingCode(code string, now time.Time, mirror *types.Mirror) error

	// Mirror files (join index: mirror holds entry)
	PutMirrorFile(mf *types.MirrorFile) error
	GetMirrorFile(mirrorID, entryID string) (*types.MirrorFile, error)
	ListMirrorFiles(mirrorID string) ([]*types.MirrorFile, error)
	DeleteMirrorFile(mirrorID, entryID string) error

	// Sync log (append-only)
	AppendSyncLog(entry *types.SyncLogEntry) error
	ListSyncLogs(mirrorID string, limit int) ([]*types.SyncLogEntry, error)

	// Catalog (read-mostly; writes belong to the intake subsystem)
	PutCatalogEntry(entry *types.CatalogEntry) error
	GetCatalogEntry(id string) (*types.CatalogEntry, error)
	ListCatalogEntries() ([]*types.CatalogEntry, error)
	ListApprovedEntries() ([]*types.CatalogEntry, error)

	// Utility
	Close() error
}
