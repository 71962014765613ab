package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/metrics"
	"github.com/coldstore/coldstore/pkg/ratelimit"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the agent's HTTP surface: a control side for the origin
// (authenticated by the mirror credential) and a public download side for
// end users.
type Server struct {
	agent      *Agent
	listenAddr string
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the agent HTTP server
func NewServer(agent *Agent, listenAddr string) *Server {
	return &Server{
		agent:      agent,
		listenAddr: listenAddr,
		logger:     log.WithComponent("agent-server"),
	}
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /pair", s.handlePair)
	mux.HandleFunc("POST /sync", s.requireCredential(s.handleSync))
	mux.HandleFunc("GET /download/{entry_id}", s.handleDownload)

	s.httpServer = &http.Server{
		Addr:    s.listenAddr,
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.listenAddr).Msg("agent server listening")
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

// requireCredential authenticates the origin by the mirror's own
// credential. Only the party that issued the credential can present it.
func (s *Server) requireCredential(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := s.agent.credential()
		if credential == "" {
			writeError(w, http.StatusServiceUnavailable, "mirror is not paired")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token != credential {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	files, err := s.agent.store.ListFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	var bytesStored int64
	for _, f := range files {
		bytesStored += f.Size
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"paired":       s.agent.Paired(),
		"file_count":   len(files),
		"bytes_stored": bytesStored,
	})
}

type pairRequest struct {
	OriginURL string `json:"origin_url,omitempty"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	DirectURL string `json:"direct_url"`
	TunnelURL string `json:"tunnel_url,omitempty"`
}

// handlePair pairs a running agent without restarting it: on success the
// agent's heartbeat sender comes up. Re-pairing an already paired agent is
// refused.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if s.agent.Paired() {
		writeError(w, http.StatusConflict, "mirror is already paired")
		return
	}

	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" || req.DirectURL == "" {
		writeError(w, http.StatusBadRequest, "code, name and direct_url are required")
		return
	}
	if req.OriginURL != "" {
		s.agent.setOriginURL(req.OriginURL)
	}

	if err := s.agent.Pair(r.Context(), req.Code, req.Name, req.DirectURL, req.TunnelURL); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mirror_id": s.agent.MirrorID()})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var instruction types.SyncInstruction
	if err := json.NewDecoder(r.Body).Decode(&instruction); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync instruction")
		return
	}

	report, err := s.agent.ApplySync(r.Context(), &instruction)
	if err != nil {
		if err == types.ErrSyncInFlight {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDownload serves a verified file to an end user, paced by the
// configured bandwidth cap. Unverified content is never served.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entry_id")

	f, rc, err := s.agent.OpenVerified(entryID)
	if err != nil {
		if err == types.ErrNotFound {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer rc.Close()

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", f.Size))

	// Client disconnects cancel r.Context() and abort the pacing wait.
	limited := ratelimit.NewWriter(r.Context(), w, s.agent.cfg.DownloadRate)
	written, err := io.Copy(limited, rc)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("aborted").Inc()
		s.logger.Debug().Err(err).Str("entry_id", entryID).Int64("written", written).Msg("download aborted")
		return
	}

	metrics.DownloadsTotal.WithLabelValues("completed").Inc()
	metrics.DownloadBytesTotal.Add(float64(written))
	s.agent.RecordDownload(entryID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
