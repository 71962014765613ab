package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coldstore/coldstore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketMirrors      = []byte("mirrors")
	bucketPairingCodes = []byte("pairing_codes")
	bucketMirrorFiles  = []byte("mirror_files")
	bucketSyncLogs     = []byte("sync_logs")
	bucketCatalog      = []byte("catalog")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "coldstore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMirrors,
			bucketPairingCodes,
			bucketMirrorFiles,
			bucketSyncLogs,
			bucketCatalog,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Mirror operations
func (s *BoltStore) CreateMirror(mirror *types.Mirror) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrors)
		data, err := json.Marshal(mirror)
		if err != nil {
			return err
		}
		return b.Put([]byte(mirror.ID), data)
	})
}

func (s *BoltStore) GetMirror(id string) (*types.Mirror, error) {
	var mirror types.Mirror
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrors)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("mirror %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &mirror)
	})
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

func (s *BoltStore) GetMirrorByCredential(credential string) (*types.Mirror, error) {
	var found *types.Mirror
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrors)
		return b.ForEach(func(k, v []byte) error {
			var mirror types.Mirror
			if err := json.Unmarshal(v, &mirror); err != nil {
				return err
			}
			if mirror.Credential == credential {
				found = &mirror
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("mirror credential: %w", types.ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListMirrors() ([]*types.Mirror, error) {
	var mirrors []*types.Mirror
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrors)
		return b.ForEach(func(k, v []byte) error {
			var mirror types.Mirror
			if err := json.Unmarshal(v, &mirror); err != nil {
				return err
			}
			mirrors = append(mirrors, &mirror)
			return nil
		})
	})
	return mirrors, err
}

func (s *BoltStore) UpdateMirror(mirror *types.Mirror) error {
	return s.CreateMirror(mirror) // Same as create (upsert)
}

func (s *BoltStore) DeleteMirror(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrors)
		return b.Delete([]byte(id))
	})
}

// Pairing code operations
func (s *BoltStore) PutPairingCode(code *types.PairingCode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		data, err := json.Marshal(code)
		if err != nil {
			return err
		}
		return b.Put([]byte(code.Code), data)
	})
}

// IssuePairingCode stores a new code only while fewer than maxOutstanding
// unconsumed, unexpired codes exist. The count and the put share one
// transaction so concurrent issues cannot overshoot the cap.
func (s *BoltStore) IssuePairingCode(code *types.PairingCode, maxOutstanding int, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)

		outstanding := 0
		err := b.ForEach(func(k, v []byte) error {
			var pc types.PairingCode
			if err := json.Unmarshal(v, &pc); err != nil {
				return err
			}
			if !pc.Consumed && !pc.Expired(now) {
				outstanding++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if maxOutstanding > 0 && outstanding >= maxOutstanding {
			return types.ErrRateLimited
		}

		data, err := json.Marshal(code)
		if err != nil {
			return err
		}
		return b.Put([]byte(code.Code), data)
	})
}

func (s *BoltStore) GetPairingCode(code string) (*types.PairingCode, error) {
	var pc types.PairingCode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		data := b.Get([]byte(code))
		if data == nil {
			return types.ErrInvalidCode
		}
		return json.Unmarshal(data, &pc)
	})
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (s *BoltStore) ListPairingCodes() ([]*types.PairingCode, error) {
	var codes []*types.PairingCode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		return b.ForEach(func(k, v []byte) error {
			var pc types.PairingCode
			if err := json.Unmarshal(v, &pc); err != nil {
				return err
			}
			codes = append(codes, &pc)
			return nil
		})
	})
	return codes, err
}

func (s *BoltStore) DeletePairingCode(code string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		return b.Delete([]byte(code))
	})
}

// RedeemPairingCode validates and consumes a pairing code, creating the
// mirror in the same transaction so a crash between the two cannot leave a
// reusable code or an orphaned mirror.
func (s *BoltStore) RedeemPairingCode(code string, now time.Time, mirror *types.Mirror) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketPairingCodes)
		data := cb.Get([]byte(code))
		if data == nil {
			return types.ErrInvalidCode
		}

		var pc types.PairingCode
		if err := json.Unmarshal(data, &pc); err != nil {
			return err
		}
		if pc.Expired(now) {
			return types.ErrExpiredCode
		}
		if pc.Consumed {
			return types.ErrAlreadyConsumed
		}

		pc.Consumed = true
		pc.MirrorID = mirror.ID
		updated, err := json.Marshal(&pc)
		if err != nil {
			return err
		}
		if err := cb.Put([]byte(code), updated); err != nil {
			return err
		}

		mb := tx.Bucket(bucketMirrors)
		mdata, err := json.Marshal(mirror)
		if err != nil {
			return err
		}
		return mb.Put([]byte(mirror.ID), mdata)
	})
}

// Mirror file operations. Keys are mirrorID/entryID so one cursor scan
// covers a single mirror's holdings.
func mirrorFileKey(mirrorID, entryID string) []byte {
	return []byte(mirrorID + "/" + entryID)
}

func (s *BoltStore) PutMirrorFile(mf *types.MirrorFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrorFiles)
		data, err := json.Marshal(mf)
		if err != nil {
			return err
		}
		return b.Put(mirrorFileKey(mf.MirrorID, mf.EntryID), data)
	})
}

func (s *BoltStore) GetMirrorFile(mirrorID, entryID string) (*types.MirrorFile, error) {
	var mf types.MirrorFile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrorFiles)
		data := b.Get(mirrorFileKey(mirrorID, entryID))
		if data == nil {
			return fmt.Errorf("mirror file %s/%s: %w", mirrorID, entryID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &mf)
	})
	if err != nil {
		return nil, err
	}
	return &mf, nil
}

func (s *BoltStore) ListMirrorFiles(mirrorID string) ([]*types.MirrorFile, error) {
	prefix := []byte(mirrorID + "/")
	var files []*types.MirrorFile
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMirrorFiles).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var mf types.MirrorFile
			if err := json.Unmarshal(v, &mf); err != nil {
				return err
			}
			files = append(files, &mf)
		}
		return nil
	})
	return files, err
}

func (s *BoltStore) DeleteMirrorFile(mirrorID, entryID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMirrorFiles)
		return b.Delete(mirrorFileKey(mirrorID, entryID))
	})
}

// Sync log operations. Keys come from the bucket sequence, so entries are
// stored and iterated in append order and never overwritten.
func (s *BoltStore) AppendSyncLog(entry *types.SyncLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// ListSyncLogs returns up to limit entries for a mirror, newest first.
// mirrorID "" matches all mirrors.
func (s *BoltStore) ListSyncLogs(mirrorID string, limit int) ([]*types.SyncLogEntry, error) {
	var entries []*types.SyncLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSyncLogs).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry types.SyncLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if mirrorID != "" && entry.MirrorID != mirrorID {
				continue
			}
			entries = append(entries, &entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	return entries, err
}

// Catalog operations
func (s *BoltStore) PutCatalogEntry(entry *types.CatalogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ID), data)
	})
}

func (s *BoltStore) GetCatalogEntry(id string) (*types.CatalogEntry, error) {
	var entry types.CatalogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("catalog entry %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) ListCatalogEntries() ([]*types.CatalogEntry, error) {
	var entries []*types.CatalogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		return b.ForEach(func(k, v []byte) error {
			var entry types.CatalogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) ListApprovedEntries() ([]*types.CatalogEntry, error) {
	entries, err := s.ListCatalogEntries()
	if err != nil {
		return nil, err
	}

	var approved []*types.CatalogEntry
	for _, entry := range entries {
		if entry.Status == types.EntryStatusApproved {
			approved = append(approved, entry)
		}
	}
	return approved, nil
}
