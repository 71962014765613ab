package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeOrigin serves content by entry ID and answers pairing redemptions.
type fakeOrigin struct {
	content map[string][]byte

	mu         sync.Mutex
	heartbeats int
}

func (o *fakeOrigin) heartbeatCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.heartbeats
}

func (o *fakeOrigin) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/mirrors/redeem", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "good-code" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "pairing code already used"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"mirror_id":  "m-test",
			"credential": "secret-credential",
		})
	})
	mux.HandleFunc("POST /api/mirrors/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.heartbeats++
		o.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/mirrors/content/{entry_id}", func(w http.ResponseWriter, r *http.Request) {
		data, ok := o.content[r.PathValue("entry_id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	})
	return mux
}

func newTestAgent(t *testing.T, originURL string, maxFiles int) *Agent {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a, err := New(Config{
		OriginURL:  originURL,
		DataDir:    filepath.Join(dir, "data"),
		ContentDir: filepath.Join(dir, "content"),
		MaxFiles:   maxFiles,
	}, store)
	require.NoError(t, err)
	return a
}

func pairTestAgent(t *testing.T, a *Agent) {
	t.Helper()
	require.NoError(t, a.Pair(context.Background(), "good-code", "test-mirror", "http://mirror.test", ""))
}

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestPairPersistsIdentity(t *testing.T) {
	origin := &fakeOrigin{}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	require.False(t, a.Paired())

	pairTestAgent(t, a)
	assert.True(t, a.Paired())
	assert.Equal(t, "m-test", a.MirrorID())

	// Identity survives a restart
	reopened, err := New(Config{
		OriginURL:  srv.URL,
		DataDir:    a.cfg.DataDir,
		ContentDir: a.cfg.ContentDir,
		MaxFiles:   10,
	}, a.store)
	require.NoError(t, err)
	assert.True(t, reopened.Paired())
	assert.Equal(t, "m-test", reopened.MirrorID())
}

func TestPairRejectedCode(t *testing.T) {
	origin := &fakeOrigin{}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	err := a.Pair(context.Background(), "used-code", "test-mirror", "http://mirror.test", "")
	assert.Error(t, err)
	assert.False(t, a.Paired())
}

func TestApplySyncFetchesAndVerifies(t *testing.T) {
	payload := []byte("archived file contents")
	origin := &fakeOrigin{content: map[string][]byte{"e1": payload}}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	pairTestAgent(t, a)

	report, err := a.ApplySync(context.Background(), &types.SyncInstruction{
		Fetch: []*types.FetchItem{{
			EntryID: "e1",
			Name:    "file.bin",
			Hash:    sha256hex(payload),
			Size:    int64(len(payload)),
		}},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, types.SyncActionPush, report.Results[0].Action)

	// Content landed on disk byte-exact
	f, err := a.store.GetFile("e1")
	require.NoError(t, err)
	assert.Equal(t, types.VerifyStateVerified, f.State)
	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestApplySyncHashMismatchNeverCommits(t *testing.T) {
	origin := &fakeOrigin{content: map[string][]byte{"e1": []byte("corrupted bytes")}}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	pairTestAgent(t, a)

	report, err := a.ApplySync(context.Background(), &types.SyncInstruction{
		Fetch: []*types.FetchItem{{
			EntryID: "e1",
			Name:    "file.bin",
			Hash:    sha256hex([]byte("what the origin promised")),
		}},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, types.SyncActionVerifyFail, report.Results[0].Action)

	// Nothing indexed, nothing served, nothing left on disk
	_, err = a.store.GetFile("e1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, _, err = a.OpenVerified("e1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	entries, err := os.ReadDir(a.cfg.ContentDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplySyncFetchFailure(t *testing.T) {
	origin := &fakeOrigin{content: map[string][]byte{}}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	pairTestAgent(t, a)

	report, err := a.ApplySync(context.Background(), &types.SyncInstruction{
		Fetch: []*types.FetchItem{{EntryID: "missing", Name: "x", Hash: "00"}},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, types.SyncActionFetchFail, report.Results[0].Action)
}

func TestApplySyncEvict(t *testing.T) {
	payload := []byte("soon to be gone")
	origin := &fakeOrigin{content: map[string][]byte{"e1": payload}}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	pairTestAgent(t, a)

	_, err := a.ApplySync(context.Background(), &types.SyncInstruction{
		Fetch: []*types.FetchItem{{EntryID: "e1", Name: "x", Hash: sha256hex(payload)}},
	})
	require.NoError(t, err)
	f, err := a.store.GetFile("e1")
	require.NoError(t, err)

	report, err := a.ApplySync(context.Background(), &types.SyncInstruction{Evict: []string{"e1"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, types.SyncActionEvict, report.Results[0].Action)

	_, err = a.store.GetFile("e1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))

	// Evicting again is a no-op, not an error
	report, err = a.ApplySync(context.Background(), &types.SyncInstruction{Evict: []string{"e1"}})
	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
}

func TestCapacityEvictsLowestRanked(t *testing.T) {
	payloads := map[string][]byte{
		"hot":  []byte("hot file"),
		"warm": []byte("warm file"),
		"cold": []byte("cold file"),
	}
	origin := &fakeOrigin{content: payloads}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 2)
	pairTestAgent(t, a)

	report, err := a.ApplySync(context.Background(), &types.SyncInstruction{
		Fetch: []*types.FetchItem{
			{EntryID: "hot", Name: "hot", Hash: sha256hex(payloads["hot"]), Downloads: 100},
			{EntryID: "warm", Name: "warm", Hash: sha256hex(payloads["warm"]), Downloads: 50},
			{EntryID: "cold", Name: "cold", Hash: sha256hex(payloads["cold"]), Downloads: 1},
		},
	})
	require.NoError(t, err)

	// 3 pushes plus 1 capacity eviction of the least popular
	var evicted []string
	for _, r := range report.Results {
		if r.Action == types.SyncActionEvict {
			evicted = append(evicted, r.EntryID)
		}
	}
	assert.Equal(t, []string{"cold"}, evicted)

	files, err := a.store.ListFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestApplySyncSingleFlight(t *testing.T) {
	a := newTestAgent(t, "http://origin.invalid", 10)
	a.identity = &Identity{MirrorID: "m", Credential: "c", OriginURL: "http://origin.invalid"}

	a.syncMu.Lock()
	_, err := a.ApplySync(context.Background(), &types.SyncInstruction{})
	assert.ErrorIs(t, err, types.ErrSyncInFlight)
	a.syncMu.Unlock()

	_, err = a.ApplySync(context.Background(), &types.SyncInstruction{})
	assert.NoError(t, err)
}

func TestHeartbeatReportsHoldings(t *testing.T) {
	origin := &fakeOrigin{content: map[string][]byte{"e1": []byte("x")}}
	srv := httptest.NewServer(origin.handler())
	defer srv.Close()

	a := newTestAgent(t, srv.URL, 10)
	pairTestAgent(t, a)

	a.sendHeartbeat()
	assert.Equal(t, 1, origin.heartbeatCount())
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.PutFile(&LocalFile{
		EntryID: "e1", Name: "a.bin", Path: "/tmp/a.bin",
		Size: 3, Hash: "aa", State: types.VerifyStateVerified, SyncedAt: now,
	}))

	f, err := store.GetFile("e1")
	require.NoError(t, err)
	assert.Equal(t, "a.bin", f.Name)

	files, err := store.ListFiles()
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, store.DeleteFile("e1"))
	_, err = store.GetFile("e1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
