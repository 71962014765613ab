package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coldstore/coldstore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const (
	filesBucket  = "files"
	configBucket = "config"

	credentialKey = "credential"
	originURLKey  = "origin_url"
	mirrorIDKey   = "mirror_id"
)

// LocalFile is the agent's record of one file it holds on disk. Downloads
// and CreatedAt are the origin's ranking inputs, carried so eviction
// decisions here match the origin's.
type LocalFile struct {
	EntryID        string
	Name           string
	Path           string
	Size           int64
	Hash           string
	Downloads      int64
	CreatedAt      time.Time
	State          types.VerifyState
	SyncedAt       time.Time
	LocalDownloads int64 // Served from this mirror
}

// LocalStore is the agent's bbolt-backed index of local holdings plus its
// persisted identity.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (or creates) the agent database under dataDir.
func NewLocalStore(dataDir string) (*LocalStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "mirror.db"), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{filesBucket, configBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &LocalStore{db: db}, nil
}

// Close closes the database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// PutFile stores or updates a local file record
func (s *LocalStore) PutFile(f *LocalFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(filesBucket)).Put([]byte(f.EntryID), data)
	})
}

// GetFile retrieves a local file record by entry ID
func (s *LocalStore) GetFile(entryID string) (*LocalFile, error) {
	var f *LocalFile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(filesBucket)).Get([]byte(entryID))
		if data == nil {
			return types.ErrNotFound
		}
		f = &LocalFile{}
		return json.Unmarshal(data, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFiles returns all local file records
func (s *LocalStore) ListFiles() ([]*LocalFile, error) {
	var files []*LocalFile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).ForEach(func(_, v []byte) error {
			f := &LocalFile{}
			if err := json.Unmarshal(v, f); err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFile removes a local file record
func (s *LocalStore) DeleteFile(entryID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).Delete([]byte(entryID))
	})
}

// Identity is the agent's persisted pairing state.
type Identity struct {
	MirrorID   string
	Credential string
	OriginURL  string
}

// SaveIdentity persists the identity obtained from pairing.
func (s *LocalStore) SaveIdentity(id *Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(configBucket))
		if err := b.Put([]byte(mirrorIDKey), []byte(id.MirrorID)); err != nil {
			return err
		}
		if err := b.Put([]byte(credentialKey), []byte(id.Credential)); err != nil {
			return err
		}
		return b.Put([]byte(originURLKey), []byte(id.OriginURL))
	})
}

// LoadIdentity returns the persisted identity, or ErrNotFound when the
// agent has never paired.
func (s *LocalStore) LoadIdentity() (*Identity, error) {
	var id *Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(configBucket))
		cred := b.Get([]byte(credentialKey))
		if cred == nil {
			return types.ErrNotFound
		}
		id = &Identity{
			MirrorID:   string(b.Get([]byte(mirrorIDKey))),
			Credential: string(cred),
			OriginURL:  string(b.Get([]byte(originURLKey))),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}
