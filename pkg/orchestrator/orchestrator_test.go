package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeSource serves a fixed approved set.
type fakeSource struct {
	entries []*types.CatalogEntry
}

func (f *fakeSource) ListApproved() ([]*types.CatalogEntry, error) { return f.entries, nil }
func (f *fakeSource) Get(id string) (*types.CatalogEntry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, types.ErrNotFound
}
func (f *fakeSource) Open(id string) (io.ReadCloser, error) { return nil, types.ErrNotFound }

// fakeClient acknowledges every item, recording what it was asked to do.
type fakeClient struct {
	mu           sync.Mutex
	instructions []*types.SyncInstruction
	err          error
	block        chan struct{} // when set, Sync waits until closed
}

func (c *fakeClient) Sync(ctx context.Context, mirror *types.Mirror, instruction *types.SyncInstruction) (*types.SyncReport, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.instructions = append(c.instructions, instruction)
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	report := &types.SyncReport{}
	for _, item := range instruction.Fetch {
		report.Results = append(report.Results, &types.SyncResult{EntryID: item.EntryID, Action: types.SyncActionPush})
	}
	for _, id := range instruction.Evict {
		report.Results = append(report.Results, &types.SyncResult{EntryID: id, Action: types.SyncActionEvict})
	}
	return report, nil
}

func (c *fakeClient) calls() []*types.SyncInstruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.SyncInstruction(nil), c.instructions...)
}

func entry(id string, downloads int64) *types.CatalogEntry {
	return &types.CatalogEntry{
		ID:        id,
		Name:      id + ".bin",
		Hash:      "hash-" + id,
		Size:      100,
		Downloads: downloads,
		Status:    types.EntryStatusApproved,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func setup(t *testing.T, entries []*types.CatalogEntry, client SyncClient) (*Orchestrator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewOrchestrator(store, &fakeSource{entries: entries}, client, nil, time.Hour), store
}

func addMirror(t *testing.T, store storage.Store, id string, status types.MirrorStatus, maxFiles int) {
	t.Helper()
	require.NoError(t, store.CreateMirror(&types.Mirror{
		ID:         id,
		Name:       id,
		Status:     status,
		Credential: "cred-" + id,
		Endpoints:  types.Endpoints{Direct: "http://" + id},
		MaxFiles:   maxFiles,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestSyncPushesTopEntriesUpToCapacity(t *testing.T) {
	client := &fakeClient{}
	orch, store := setup(t, []*types.CatalogEntry{
		entry("e1", 50), entry("e2", 40), entry("e3", 30), entry("e4", 20),
	}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 2)

	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))

	calls := client.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Fetch, 2)
	assert.Equal(t, "e1", calls[0].Fetch[0].EntryID)
	assert.Equal(t, "e2", calls[0].Fetch[1].EntryID)
	assert.Empty(t, calls[0].Evict)

	// Outcomes landed in the index
	files, err := store.ListMirrorFiles("m1")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.Equal(t, types.VerifyStateVerified, f.State)
	}

	// And in the audit log
	logs, err := store.ListSyncLogs("m1", 100)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestSyncEvictsDisplacedEntries(t *testing.T) {
	client := &fakeClient{}
	orch, store := setup(t, []*types.CatalogEntry{
		entry("hot", 100), entry("cold", 1),
	}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 1)

	// The mirror currently holds the cold entry
	require.NoError(t, store.PutMirrorFile(&types.MirrorFile{
		MirrorID: "m1", EntryID: "cold", State: types.VerifyStateVerified, SyncedAt: time.Now(),
	}))

	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))

	calls := client.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Fetch, 1)
	assert.Equal(t, "hot", calls[0].Fetch[0].EntryID)
	assert.Equal(t, []string{"cold"}, calls[0].Evict)

	files, err := store.ListMirrorFiles("m1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "hot", files[0].EntryID)
}

func TestSyncIsIdempotentWhenConverged(t *testing.T) {
	client := &fakeClient{}
	orch, store := setup(t, []*types.CatalogEntry{entry("e1", 10)}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 5)

	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))
	require.Len(t, client.calls(), 1)

	// Second pass over an unchanged catalog pushes nothing at all
	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))
	assert.Len(t, client.calls(), 1)

	logs, err := store.ListSyncLogs("m1", 100)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSyncSkipsIneligibleMirrors(t *testing.T) {
	client := &fakeClient{}
	orch, store := setup(t, []*types.CatalogEntry{entry("e1", 10)}, client)
	addMirror(t, store, "pending", types.MirrorStatusPending, 5)
	addMirror(t, store, "offline", types.MirrorStatusOffline, 5)
	addMirror(t, store, "rejected", types.MirrorStatusRejected, 5)
	addMirror(t, store, "online", types.MirrorStatusOnline, 5)

	orch.SyncAll(context.Background())

	// Only the online mirror was contacted
	assert.Len(t, client.calls(), 1)

	err := orch.SyncMirror(context.Background(), "offline")
	assert.Error(t, err)
}

func TestSyncFailureLeavesIndexUntouched(t *testing.T) {
	client := &fakeClient{err: types.ErrUnreachable}
	orch, store := setup(t, []*types.CatalogEntry{entry("e1", 10)}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 5)

	err := orch.SyncMirror(context.Background(), "m1")
	assert.ErrorIs(t, err, types.ErrUnreachable)

	files, err := store.ListMirrorFiles("m1")
	require.NoError(t, err)
	assert.Empty(t, files)

	// The failure itself is on the audit trail
	logs, err := store.ListSyncLogs("m1", 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, types.SyncActionFetchFail, logs[0].Action)
}

func TestPartialReportApplied(t *testing.T) {
	// A client whose report downgrades one fetch to a verify failure
	client := &verifyFailClient{failID: "e2"}
	orch, store := setup(t, []*types.CatalogEntry{entry("e1", 20), entry("e2", 10)}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 5)

	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))

	files, err := store.ListMirrorFiles("m1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "e1", files[0].EntryID)

	logs, err := store.ListSyncLogs("m1", 100)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	// The failed entry is retried on the next pass
	require.NoError(t, orch.SyncMirror(context.Background(), "m1"))
	assert.Equal(t, 2, client.syncs)
}

type verifyFailClient struct {
	failID string
	syncs  int
}

func (c *verifyFailClient) Sync(ctx context.Context, mirror *types.Mirror, instruction *types.SyncInstruction) (*types.SyncReport, error) {
	c.syncs++
	report := &types.SyncReport{}
	for _, item := range instruction.Fetch {
		if item.EntryID == c.failID {
			report.Results = append(report.Results, &types.SyncResult{
				EntryID: item.EntryID, Action: types.SyncActionVerifyFail, Detail: "sha256 mismatch",
			})
			continue
		}
		report.Results = append(report.Results, &types.SyncResult{EntryID: item.EntryID, Action: types.SyncActionPush})
	}
	return report, nil
}

func TestSingleInFlightPerMirror(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	orch, store := setup(t, []*types.CatalogEntry{entry("e1", 10)}, client)
	addMirror(t, store, "m1", types.MirrorStatusOnline, 5)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- orch.SyncMirror(context.Background(), "m1")
	}()

	// Wait until the first pass is inside the client call
	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return orch.inFlight["m1"]
	}, time.Second, 5*time.Millisecond)

	err := orch.SyncMirror(context.Background(), "m1")
	assert.ErrorIs(t, err, types.ErrSyncInFlight)

	close(client.block)
	require.NoError(t, <-firstDone)

	// With the first pass finished the mirror can sync again
	orch.mu.Lock()
	assert.False(t, orch.inFlight["m1"])
	orch.mu.Unlock()
}
