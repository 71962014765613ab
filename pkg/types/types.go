package types

import (
	"time"
)

// Mirror represents one registered mirror node in the fleet.
type Mirror struct {
	ID            string
	Name          string
	Status        MirrorStatus
	Credential    string // Opaque secret; unique and immutable once issued
	Endpoints     Endpoints
	MaxFiles      int // Declared storage capacity (file count)
	FileCount     int // Last reported holdings
	BytesStored   int64
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// MirrorStatus represents the admission/liveness state of a mirror
type MirrorStatus string

const (
	MirrorStatusPending  MirrorStatus = "pending"
	MirrorStatusApproved MirrorStatus = "approved"
	MirrorStatusOnline   MirrorStatus = "online"
	MirrorStatusOffline  MirrorStatus = "offline"
	MirrorStatusRejected MirrorStatus = "rejected"
)

// Endpoints holds the reachable addresses of a mirror. A mirror always has
// a direct address and may additionally be reachable through a tunnel.
type Endpoints struct {
	Direct string
	Tunnel string
}

// Effective resolves the endpoint variant to the single URL callers use.
// The tunnel address wins when present.
func (e Endpoints) Effective() string {
	if e.Tunnel != "" {
		return e.Tunnel
	}
	return e.Direct
}

// PairingCode is a short-lived, single-use token that authorizes a new
// mirror's admission into the registry.
type PairingCode struct {
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
	MirrorID  string // Set on redemption
}

// Expired reports whether the code is past its expiry at the given time.
func (c *PairingCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CatalogEntry is a single archived file's metadata record. It is owned by
// the upload/approval subsystem; this core only reads it.
type CatalogEntry struct {
	ID        string
	Name      string
	Hash      string // SHA-256 hex of the content
	Size      int64
	Downloads int64 // Popularity counter, eventually consistent
	Status    EntryStatus
	CreatedAt time.Time
}

// EntryStatus is the approval state of a catalog entry
type EntryStatus string

const (
	EntryStatusPending  EntryStatus = "pending"
	EntryStatusApproved EntryStatus = "approved"
	EntryStatusRejected EntryStatus = "rejected"
)

// MirrorFile records that a mirror currently holds a catalog entry.
type MirrorFile struct {
	MirrorID string
	EntryID  string
	State    VerifyState
	SyncedAt time.Time
}

// VerifyState is the local verification state of a mirrored file
type VerifyState string

const (
	VerifyStateUnverified VerifyState = "unverified"
	VerifyStateVerified   VerifyState = "verified"
	VerifyStateFailed     VerifyState = "failed"
)

// SyncLogEntry is one row of the append-only sync audit trail. Entries are
// never updated or deleted.
type SyncLogEntry struct {
	Seq       uint64
	MirrorID  string
	EntryID   string
	Action    SyncAction
	Detail    string
	CreatedAt time.Time
}

// SyncAction is the kind of state-changing action a log entry records
type SyncAction string

const (
	SyncActionPush       SyncAction = "push"
	SyncActionEvict      SyncAction = "evict"
	SyncActionVerifyFail SyncAction = "verify-fail"
	SyncActionFetchFail  SyncAction = "fetch-fail"
)

// SyncInstruction is the delta the orchestrator pushes to a mirror agent.
type SyncInstruction struct {
	Fetch []*FetchItem `json:"fetch"`
	Evict []string     `json:"evict"` // Entry IDs
}

// Empty reports whether the instruction carries no work.
func (si *SyncInstruction) Empty() bool {
	return len(si.Fetch) == 0 && len(si.Evict) == 0
}

// FetchItem describes one entry the mirror should pull from the origin.
// Popularity and creation time ride along so the agent ranks its holdings
// with the same inputs the origin used.
type FetchItem struct {
	EntryID   string    `json:"entry_id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncReport is the agent's per-item outcome for one sync instruction.
type SyncReport struct {
	Results []*SyncResult `json:"results"`
}

// SyncResult is the outcome of a single fetch or evict item.
type SyncResult struct {
	EntryID string     `json:"entry_id"`
	Action  SyncAction `json:"action"`
	Detail  string     `json:"detail,omitempty"`
}
