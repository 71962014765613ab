package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldstore/coldstore/pkg/catalog"
	"github.com/coldstore/coldstore/pkg/heartbeat"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/metrics"
	"github.com/coldstore/coldstore/pkg/orchestrator"
	"github.com/coldstore/coldstore/pkg/pairing"
	"github.com/coldstore/coldstore/pkg/registry"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the origin's HTTP surface. Mirror-facing routes authenticate by
// mirror credential; admin routes by the operator's admin token.
type Server struct {
	store        storage.Store
	registry     *registry.Registry
	pairing      *pairing.Service
	monitor      *heartbeat.Monitor
	orchestrator *orchestrator.Orchestrator
	catalog      catalog.Source
	adminToken   string
	listenAddr   string
	httpServer   *http.Server
	logger       zerolog.Logger
}

// Deps bundles the subsystems the server fronts.
type Deps struct {
	Store        storage.Store
	Registry     *registry.Registry
	Pairing      *pairing.Service
	Monitor      *heartbeat.Monitor
	Orchestrator *orchestrator.Orchestrator
	Catalog      catalog.Source
}

// NewServer creates the origin API server
func NewServer(deps Deps, listenAddr, adminToken string) *Server {
	return &Server{
		store:        deps.Store,
		registry:     deps.Registry,
		pairing:      deps.Pairing,
		monitor:      deps.Monitor,
		orchestrator: deps.Orchestrator,
		catalog:      deps.Catalog,
		adminToken:   adminToken,
		listenAddr:   listenAddr,
		logger:       log.WithComponent("api"),
	}
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Mirror-facing
	mux.HandleFunc("POST /api/mirrors/redeem", s.handleRedeem)
	mux.HandleFunc("POST /api/mirrors/heartbeat", s.requireMirror(s.handleHeartbeat))
	mux.HandleFunc("GET /api/mirrors/content/{entry_id}", s.requireMirrorFn(s.handleContent))

	// Admin
	mux.HandleFunc("POST /api/pairing-codes", s.requireAdmin(s.handleIssueCode))
	mux.HandleFunc("GET /api/mirrors", s.requireAdmin(s.handleListMirrors))
	mux.HandleFunc("GET /api/mirrors/{id}/status", s.requireAdmin(s.handleMirrorStatus))
	mux.HandleFunc("POST /api/mirrors/{id}/approve", s.requireAdmin(s.handleApprove))
	mux.HandleFunc("POST /api/mirrors/{id}/reject", s.requireAdmin(s.handleReject))
	mux.HandleFunc("POST /api/mirrors/{id}/trigger-sync", s.requireAdmin(s.handleTriggerSync))
	mux.HandleFunc("GET /api/mirrors/{id}/logs", s.requireAdmin(s.handleLogs))

	s.httpServer = &http.Server{
		Addr:    s.listenAddr,
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.listenAddr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// requireMirror authenticates the caller as a registered mirror and passes
// it through the request context.
func (s *Server) requireMirror(next func(http.ResponseWriter, *http.Request, *types.Mirror)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mirror, err := s.registry.Authenticate(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		next(w, r, mirror)
	}
}

// requireMirrorFn is requireMirror for handlers that don't need the mirror
// beyond authentication.
func (s *Server) requireMirrorFn(next http.HandlerFunc) http.HandlerFunc {
	return s.requireMirror(func(w http.ResponseWriter, r *http.Request, _ *types.Mirror) {
		next(w, r)
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || bearerToken(r) != s.adminToken {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mirrors, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	counts := make(map[types.MirrorStatus]int)
	for _, m := range mirrors {
		counts[m.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"mirrors": counts,
	})
}

type redeemRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	DirectURL string `json:"direct_url"`
	TunnelURL string `json:"tunnel_url,omitempty"`
	MaxFiles  int    `json:"max_files"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" || req.DirectURL == "" {
		writeError(w, http.StatusBadRequest, "code, name and direct_url are required")
		return
	}
	if req.MaxFiles <= 0 {
		writeError(w, http.StatusBadRequest, "max_files must be positive")
		return
	}

	mirror, err := s.pairing.Redeem(req.Code, req.Name, req.DirectURL, req.TunnelURL, req.MaxFiles)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidCode):
			writeError(w, http.StatusNotFound, "unknown pairing code")
		case errors.Is(err, types.ErrExpiredCode):
			writeError(w, http.StatusGone, "pairing code expired")
		case errors.Is(err, types.ErrAlreadyConsumed):
			writeError(w, http.StatusConflict, "pairing code already used")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// The credential crosses the wire exactly once, here.
	writeJSON(w, http.StatusOK, map[string]string{
		"mirror_id":  mirror.ID,
		"credential": mirror.Credential,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, mirror *types.Mirror) {
	var report heartbeat.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid heartbeat body")
		return
	}

	if err := s.monitor.Record(mirror, report.FileCount, report.BytesStored); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleContent streams catalog content to an authenticated mirror.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entry_id")

	entry, err := s.catalog.Get(entryID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown entry")
			return
		}
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	if entry.Status != types.EntryStatusApproved {
		writeError(w, http.StatusNotFound, "unknown entry")
		return
	}

	rc, err := s.catalog.Open(entryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open content")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug().Err(err).Str("entry_id", entryID).Msg("content stream aborted")
	}
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.pairing.IssueCode()
	if err != nil {
		if errors.Is(err, types.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "too many outstanding pairing codes")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.PairingCodesIssued.Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":       code.Code,
		"expires_at": code.ExpiresAt,
	})
}

// mirrorView is the admin-facing mirror representation. The credential is
// deliberately absent.
type mirrorView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        types.MirrorStatus `json:"status"`
	Endpoint      string             `json:"endpoint"`
	MaxFiles      int                `json:"max_files"`
	FileCount     int                `json:"file_count"`
	BytesStored   int64              `json:"bytes_stored"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	CreatedAt     time.Time          `json:"created_at"`
}

func viewOf(m *types.Mirror) *mirrorView {
	return &mirrorView{
		ID:            m.ID,
		Name:          m.Name,
		Status:        m.Status,
		Endpoint:      m.Endpoints.Effective(),
		MaxFiles:      m.MaxFiles,
		FileCount:     m.FileCount,
		BytesStored:   m.BytesStored,
		LastHeartbeat: m.LastHeartbeat,
		CreatedAt:     m.CreatedAt,
	}
}

func (s *Server) handleListMirrors(w http.ResponseWriter, r *http.Request) {
	mirrors, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]*mirrorView, 0, len(mirrors))
	for _, m := range mirrors {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleMirrorStatus(w http.ResponseWriter, r *http.Request) {
	mirror, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "mirror not found")
		return
	}

	files, err := s.store.ListMirrorFiles(mirror.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mirror":        viewOf(mirror),
		"synced_files":  len(files),
		"sync_eligible": registry.SyncEligible(mirror),
		"routable":      registry.Routable(mirror),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	mirror, err := s.registry.Approve(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(mirror))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	mirror, err := s.registry.Reject(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(mirror))
}

// handleTriggerSync starts an out-of-cycle sync pass for one mirror. The
// pass runs in the background; 202 means started, 409 means one is already
// running.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	mirror, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "mirror not found")
		return
	}
	if !registry.SyncEligible(mirror) {
		writeError(w, http.StatusConflict, fmt.Sprintf("mirror is %s and not sync-eligible", mirror.Status))
		return
	}

	go func() {
		if err := s.orchestrator.SyncMirror(context.Background(), mirror.ID); err != nil {
			s.logger.Warn().Err(err).Str("mirror_id", mirror.ID).Msg("triggered sync failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	mirrorID := r.PathValue("id")
	if _, err := s.registry.Get(mirrorID); err != nil {
		writeError(w, http.StatusNotFound, "mirror not found")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.store.ListSyncLogs(mirrorID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
