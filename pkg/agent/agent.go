package agent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coldstore/coldstore/pkg/heartbeat"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/policy"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the agent's runtime settings.
type Config struct {
	OriginURL         string
	DataDir           string
	ContentDir        string
	MaxFiles          int
	DownloadRate      int64 // Bytes/sec cap for served downloads, 0 = unlimited
	HeartbeatInterval time.Duration
}

// Agent is the mirror-side daemon: it holds the local file set, answers
// sync instructions from the origin, sends heartbeats, and serves verified
// files to end users.
type Agent struct {
	cfg        Config
	store      *LocalStore
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex // Guards identity, originURL and heartbeat startup
	identity  *Identity
	started   bool
	hbRunning bool

	syncMu sync.Mutex // One sync instruction applied at a time

	stopCh chan struct{}
}

// New creates an agent over the given local store. If the agent has paired
// before, its identity is loaded; otherwise Pair must be called first.
func New(cfg Config, store *LocalStore) (*Agent, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if err := os.MkdirAll(cfg.ContentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     log.WithComponent("agent"),
		stopCh:     make(chan struct{}),
	}

	identity, err := store.LoadIdentity()
	if err == nil {
		a.identity = identity
		if a.cfg.OriginURL == "" {
			a.cfg.OriginURL = identity.OriginURL
		}
	} else if err != types.ErrNotFound {
		return nil, err
	}
	return a, nil
}

// Paired reports whether the agent holds a credential.
func (a *Agent) Paired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity != nil
}

// MirrorID returns the agent's registered mirror ID, or "" before pairing.
func (a *Agent) MirrorID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity == nil {
		return ""
	}
	return a.identity.MirrorID
}

func (a *Agent) credential() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity == nil {
		return ""
	}
	return a.identity.Credential
}

func (a *Agent) originURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.OriginURL
}

func (a *Agent) setOriginURL(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.OriginURL = url
}

type redeemRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	DirectURL string `json:"direct_url"`
	TunnelURL string `json:"tunnel_url,omitempty"`
	MaxFiles  int    `json:"max_files"`
}

type redeemResponse struct {
	MirrorID   string `json:"mirror_id"`
	Credential string `json:"credential"`
}

// Pair redeems a pairing code at the origin and persists the credential it
// returns. The code is single-use; a failed redemption leaves the agent
// unpaired. On a running agent a successful pair also brings up the
// heartbeat sender.
func (a *Agent) Pair(ctx context.Context, code, name, directURL, tunnelURL string) error {
	originURL := a.originURL()
	if originURL == "" {
		return fmt.Errorf("origin URL is not configured")
	}

	body, err := json.Marshal(&redeemRequest{
		Code:      code,
		Name:      name,
		DirectURL: directURL,
		TunnelURL: tunnelURL,
		MaxFiles:  a.cfg.MaxFiles,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, originURL+"/api/mirrors/redeem", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pairing rejected with status %d: %s", resp.StatusCode, string(data))
	}

	var rr redeemResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("failed to decode pairing response: %w", err)
	}

	identity := &Identity{
		MirrorID:   rr.MirrorID,
		Credential: rr.Credential,
		OriginURL:  originURL,
	}
	if err := a.store.SaveIdentity(identity); err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}

	a.mu.Lock()
	a.identity = identity
	a.startHeartbeatLocked()
	a.mu.Unlock()

	a.logger.Info().Str("mirror_id", rr.MirrorID).Msg("paired with origin")
	return nil
}

// Start begins the agent's background loops. An unpaired agent starts
// without a heartbeat sender; a later Pair brings it up.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.startHeartbeatLocked()
	return nil
}

func (a *Agent) startHeartbeatLocked() {
	if !a.started || a.identity == nil || a.hbRunning {
		return
	}
	a.hbRunning = true
	go a.heartbeatLoop()
}

// Stop stops the agent's background loops
func (a *Agent) Stop() {
	close(a.stopCh)
}

func (a *Agent) heartbeatLoop() {
	// Send one immediately so the origin sees us without waiting a full
	// interval after restart.
	a.sendHeartbeat()

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sendHeartbeat()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() {
	files, err := a.store.ListFiles()
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list files for heartbeat")
		return
	}
	var bytesStored int64
	for _, f := range files {
		bytesStored += f.Size
	}

	body, err := json.Marshal(&heartbeat.Report{
		FileCount:   len(files),
		BytesStored: bytesStored,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal heartbeat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.originURL()+"/api/mirrors/heartbeat", bytes.NewReader(body))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to build heartbeat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.credential())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn().Err(err).Msg("heartbeat delivery failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Warn().Int("status", resp.StatusCode).Msg("heartbeat rejected by origin")
	}
}

// ApplySync executes one sync instruction: evictions first to free space,
// then fetches, then capacity enforcement over whatever remains. Only one
// instruction is applied at a time.
func (a *Agent) ApplySync(ctx context.Context, instruction *types.SyncInstruction) (*types.SyncReport, error) {
	if !a.syncMu.TryLock() {
		return nil, types.ErrSyncInFlight
	}
	defer a.syncMu.Unlock()

	report := &types.SyncReport{}

	for _, entryID := range instruction.Evict {
		if err := a.evict(entryID); err != nil {
			a.logger.Error().Err(err).Str("entry_id", entryID).Msg("eviction failed")
			continue
		}
		report.Results = append(report.Results, &types.SyncResult{
			EntryID: entryID,
			Action:  types.SyncActionEvict,
		})
	}

	for _, item := range instruction.Fetch {
		result := a.fetchOne(ctx, item)
		report.Results = append(report.Results, result)
	}

	extra := a.enforceCapacity()
	report.Results = append(report.Results, extra...)

	return report, nil
}

// fetchOne pulls one entry from the origin with all-or-nothing semantics:
// the file lands in the content directory only after its SHA-256 matches.
func (a *Agent) fetchOne(ctx context.Context, item *types.FetchItem) *types.SyncResult {
	logger := log.WithEntryID(a.logger, item.EntryID)

	path, err := a.download(ctx, item)
	if err != nil {
		if err == types.ErrHashMismatch {
			logger.Warn().Msg("fetched content failed hash verification")
			return &types.SyncResult{
				EntryID: item.EntryID,
				Action:  types.SyncActionVerifyFail,
				Detail:  "sha256 mismatch",
			}
		}
		logger.Warn().Err(err).Msg("fetch failed")
		return &types.SyncResult{
			EntryID: item.EntryID,
			Action:  types.SyncActionFetchFail,
			Detail:  err.Error(),
		}
	}

	lf := &LocalFile{
		EntryID:   item.EntryID,
		Name:      item.Name,
		Path:      path,
		Size:      item.Size,
		Hash:      item.Hash,
		Downloads: item.Downloads,
		CreatedAt: item.CreatedAt,
		State:     types.VerifyStateVerified,
		SyncedAt:  time.Now().UTC(),
	}
	if err := a.store.PutFile(lf); err != nil {
		os.Remove(path)
		return &types.SyncResult{
			EntryID: item.EntryID,
			Action:  types.SyncActionFetchFail,
			Detail:  fmt.Sprintf("failed to index file: %v", err),
		}
	}

	logger.Info().Str("name", item.Name).Msg("file synced")
	return &types.SyncResult{
		EntryID: item.EntryID,
		Action:  types.SyncActionPush,
	}
}

func (a *Agent) download(ctx context.Context, item *types.FetchItem) (string, error) {
	url := a.originURL() + "/api/mirrors/content/" + item.EntryID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.credential())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("origin returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(a.cfg.ContentDir, ".fetch-*")
	if err != nil {
		return "", err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if hex.EncodeToString(hasher.Sum(nil)) != item.Hash {
		return "", types.ErrHashMismatch
	}

	final := filepath.Join(a.cfg.ContentDir, item.EntryID)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	return final, nil
}

func (a *Agent) evict(entryID string) error {
	f, err := a.store.GetFile(entryID)
	if err == types.ErrNotFound {
		// Already gone; eviction is idempotent.
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return a.store.DeleteFile(entryID)
}

// enforceCapacity evicts the lowest-ranked holdings until the file count
// fits MaxFiles. Ranking uses the same policy as the origin, over the
// metadata that rode in on the fetch items.
func (a *Agent) enforceCapacity() []*types.SyncResult {
	files, err := a.store.ListFiles()
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list files for capacity check")
		return nil
	}
	if a.cfg.MaxFiles <= 0 || len(files) <= a.cfg.MaxFiles {
		return nil
	}

	byID := make(map[string]*LocalFile, len(files))
	entries := make([]*types.CatalogEntry, 0, len(files))
	for _, f := range files {
		byID[f.EntryID] = f
		entries = append(entries, &types.CatalogEntry{
			ID:        f.EntryID,
			Name:      f.Name,
			Hash:      f.Hash,
			Size:      f.Size,
			Downloads: f.Downloads,
			CreatedAt: f.CreatedAt,
		})
	}

	ranked := policy.Rank(entries)
	var results []*types.SyncResult
	for _, victim := range ranked[a.cfg.MaxFiles:] {
		if err := a.evict(victim.ID); err != nil {
			a.logger.Error().Err(err).Str("entry_id", victim.ID).Msg("capacity eviction failed")
			continue
		}
		a.logger.Info().Str("entry_id", victim.ID).Str("name", byID[victim.ID].Name).Msg("evicted for capacity")
		results = append(results, &types.SyncResult{
			EntryID: victim.ID,
			Action:  types.SyncActionEvict,
			Detail:  "capacity",
		})
	}
	return results
}

// OpenVerified opens a verified local file for serving. Unverified or
// unknown entries are not served.
func (a *Agent) OpenVerified(entryID string) (*LocalFile, io.ReadCloser, error) {
	f, err := a.store.GetFile(entryID)
	if err != nil {
		return nil, nil, err
	}
	if f.State != types.VerifyStateVerified {
		return nil, nil, types.ErrNotFound
	}
	rc, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, types.ErrNotFound
		}
		return nil, nil, err
	}
	return f, rc, nil
}

// RecordDownload bumps the local served-download counter for an entry.
func (a *Agent) RecordDownload(entryID string) {
	f, err := a.store.GetFile(entryID)
	if err != nil {
		return
	}
	f.LocalDownloads++
	if err := a.store.PutFile(f); err != nil {
		a.logger.Error().Err(err).Str("entry_id", entryID).Msg("failed to record download")
	}
}
