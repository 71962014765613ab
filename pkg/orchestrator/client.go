package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coldstore/coldstore/pkg/types"
)

// DefaultSyncTimeout bounds one full sync round-trip, including the agent's
// downloads. Large batches on slow links need room.
const DefaultSyncTimeout = 30 * time.Minute

// HTTPSyncClient pushes sync instructions to mirror agents over HTTP.
type HTTPSyncClient struct {
	httpClient *http.Client
}

// NewHTTPSyncClient creates a sync client. A zero timeout selects the
// default.
func NewHTTPSyncClient(timeout time.Duration) *HTTPSyncClient {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &HTTPSyncClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Sync POSTs the instruction to the mirror's effective endpoint and decodes
// its report. Network failures map to types.ErrUnreachable so callers can
// treat them as transient.
func (c *HTTPSyncClient) Sync(ctx context.Context, mirror *types.Mirror, instruction *types.SyncInstruction) (*types.SyncReport, error) {
	endpoint := mirror.Endpoints.Effective()
	if endpoint == "" {
		return nil, fmt.Errorf("%w: mirror %s has no endpoint", types.ErrUnreachable, mirror.ID)
	}

	body, err := json.Marshal(instruction)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync instruction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+mirror.Credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mirror returned status %d: %s", resp.StatusCode, string(data))
	}

	var report types.SyncReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode sync report: %w", err)
	}
	return &report, nil
}
