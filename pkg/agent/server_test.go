package agent

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coldstore/coldstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServedAgent(t *testing.T) (*Agent, *Server) {
	t.Helper()
	a := newTestAgent(t, "http://origin.invalid", 10)
	a.identity = &Identity{MirrorID: "m-test", Credential: "secret", OriginURL: "http://origin.invalid"}
	return a, NewServer(a, "127.0.0.1:0")
}

func placeFile(t *testing.T, a *Agent, entryID string, data []byte, state types.VerifyState) {
	t.Helper()
	path := filepath.Join(a.cfg.ContentDir, entryID)
	require.NoError(t, os.WriteFile(path, data, 0644))
	require.NoError(t, a.store.PutFile(&LocalFile{
		EntryID: entryID,
		Name:    entryID + ".bin",
		Path:    path,
		Size:    int64(len(data)),
		State:   state,
	}))
}

func TestDownloadServesVerifiedFile(t *testing.T) {
	a, srv := newServedAgent(t)
	payload := []byte("the archived bytes")
	placeFile(t, a, "e1", payload, types.VerifyStateVerified)

	req := httptest.NewRequest(http.MethodGet, "/download/e1", nil)
	req.SetPathValue("entry_id", "e1")
	rec := httptest.NewRecorder()
	srv.handleDownload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "e1.bin")

	// The served-download counter advanced
	f, err := a.store.GetFile("e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.LocalDownloads)
}

func TestDownloadRefusesUnverified(t *testing.T) {
	a, srv := newServedAgent(t)
	placeFile(t, a, "e1", []byte("not yet checked"), types.VerifyStateUnverified)

	req := httptest.NewRequest(http.MethodGet, "/download/e1", nil)
	req.SetPathValue("entry_id", "e1")
	rec := httptest.NewRecorder()
	srv.handleDownload(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadUnknownEntry(t *testing.T) {
	_, srv := newServedAgent(t)

	req := httptest.NewRequest(http.MethodGet, "/download/nope", nil)
	req.SetPathValue("entry_id", "nope")
	rec := httptest.NewRecorder()
	srv.handleDownload(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncEndpointRequiresCredential(t *testing.T) {
	_, srv := newServedAgent(t)
	handler := srv.requireCredential(srv.handleSync)

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncEndpointAppliesInstruction(t *testing.T) {
	a, srv := newServedAgent(t)
	placeFile(t, a, "e1", []byte("bye"), types.VerifyStateVerified)

	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(`{"fetch":[],"evict":["e1"]}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.requireCredential(srv.handleSync)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := a.store.GetFile("e1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSyncEndpointConflictWhenBusy(t *testing.T) {
	a, srv := newServedAgent(t)
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(`{"fetch":[],"evict":[]}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.requireCredential(srv.handleSync)(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPairWhileRunningStartsHeartbeat(t *testing.T) {
	origin := &fakeOrigin{}
	originSrv := httptest.NewServer(origin.handler())
	defer originSrv.Close()

	// An unpaired agent starts, serves /pair, and brings the heartbeat
	// sender up once pairing succeeds, all without a restart.
	a := newTestAgent(t, originSrv.URL, 10)
	require.NoError(t, a.Start())
	defer a.Stop()
	require.False(t, a.Paired())

	srv := NewServer(a, "127.0.0.1:0")
	body := strings.NewReader(`{"code":"good-code","name":"attic-pi","direct_url":"http://pi.example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/pair", body)
	rec := httptest.NewRecorder()
	srv.handlePair(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, a.Paired())
	assert.Equal(t, "m-test", a.MirrorID())

	require.Eventually(t, func() bool {
		return origin.heartbeatCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPairRefusedWhenAlreadyPaired(t *testing.T) {
	_, srv := newServedAgent(t)

	body := strings.NewReader(`{"code":"good-code","name":"again","direct_url":"http://x"}`)
	req := httptest.NewRequest(http.MethodPost, "/pair", body)
	rec := httptest.NewRecorder()
	srv.handlePair(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	a, srv := newServedAgent(t)
	placeFile(t, a, "e1", []byte("12345"), types.VerifyStateVerified)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"file_count":1`)
	assert.Contains(t, rec.Body.String(), `"bytes_stored":5`)
}
