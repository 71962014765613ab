package heartbeat

import (
	"testing"
	"time"

	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/registry"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestMonitor(t *testing.T, timeout time.Duration) (*Monitor, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reg := registry.NewRegistry(store, nil)
	return NewMonitor(reg, timeout), store
}

func putMirror(t *testing.T, store storage.Store, id string, status types.MirrorStatus, lastHeartbeat time.Time) *types.Mirror {
	t.Helper()
	m := &types.Mirror{
		ID:            id,
		Name:          "mirror-" + id,
		Status:        status,
		Credential:    "cred-" + id,
		MaxFiles:      10,
		LastHeartbeat: lastHeartbeat,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateMirror(m))
	return m
}

func TestRecordMarksOnline(t *testing.T) {
	monitor, store := newTestMonitor(t, time.Minute)
	m := putMirror(t, store, "m1", types.MirrorStatusApproved, time.Time{})

	require.NoError(t, monitor.Record(m, 3, 999))

	got, err := store.GetMirror("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MirrorStatusOnline, got.Status)
	assert.Equal(t, 3, got.FileCount)
	assert.Equal(t, int64(999), got.BytesStored)
	assert.False(t, got.LastHeartbeat.IsZero())
}

func TestRecordRefusesPendingAndRejected(t *testing.T) {
	monitor, store := newTestMonitor(t, time.Minute)

	pending := putMirror(t, store, "m1", types.MirrorStatusPending, time.Time{})
	rejected := putMirror(t, store, "m2", types.MirrorStatusRejected, time.Time{})

	assert.Error(t, monitor.Record(pending, 0, 0))
	assert.Error(t, monitor.Record(rejected, 0, 0))

	// Neither gained liveness
	for _, id := range []string{"m1", "m2"} {
		got, err := store.GetMirror(id)
		require.NoError(t, err)
		assert.NotEqual(t, types.MirrorStatusOnline, got.Status)
	}
}

func TestSweepMarksSilentMirrorsOffline(t *testing.T) {
	monitor, store := newTestMonitor(t, time.Minute)

	now := time.Now().UTC()
	putMirror(t, store, "silent", types.MirrorStatusOnline, now.Add(-5*time.Minute))
	putMirror(t, store, "chatty", types.MirrorStatusOnline, now.Add(-10*time.Second))
	putMirror(t, store, "approved", types.MirrorStatusApproved, time.Time{})

	require.NoError(t, monitor.Sweep())

	got, err := store.GetMirror("silent")
	require.NoError(t, err)
	assert.Equal(t, types.MirrorStatusOffline, got.Status)

	got, err = store.GetMirror("chatty")
	require.NoError(t, err)
	assert.Equal(t, types.MirrorStatusOnline, got.Status)

	// Approved-but-never-online mirrors are not the sweep's business
	got, err = store.GetMirror("approved")
	require.NoError(t, err)
	assert.Equal(t, types.MirrorStatusApproved, got.Status)
}

func TestRecoveryAfterSweep(t *testing.T) {
	monitor, store := newTestMonitor(t, time.Minute)

	now := time.Now().UTC()
	m := putMirror(t, store, "m1", types.MirrorStatusOnline, now.Add(-5*time.Minute))

	require.NoError(t, monitor.Sweep())
	got, err := store.GetMirror("m1")
	require.NoError(t, err)
	require.Equal(t, types.MirrorStatusOffline, got.Status)

	// A fresh heartbeat brings it straight back
	m.Status = got.Status
	require.NoError(t, monitor.Record(got, 1, 10))

	got, err = store.GetMirror("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MirrorStatusOnline, got.Status)
}
