package heartbeat

import (
	"fmt"
	"time"

	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/metrics"
	"github.com/coldstore/coldstore/pkg/registry"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the heartbeat cadence mirrors are expected to keep.
	DefaultInterval = 60 * time.Second

	// DefaultTimeoutMultiple of the interval with no heartbeat marks a
	// mirror offline.
	DefaultTimeoutMultiple = 3
)

// Report is the heartbeat payload a mirror sends alongside its credential.
type Report struct {
	FileCount   int   `json:"file_count"`
	BytesStored int64 `json:"bytes_stored"`
}

// Monitor consumes liveness pings and sweeps the fleet for mirrors that
// went quiet. It runs on its own timer, fully decoupled from sync timing.
type Monitor struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewMonitor creates a monitor. A zero timeout selects the default
// (3× the 60s heartbeat interval).
func NewMonitor(reg *registry.Registry, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeoutMultiple * DefaultInterval
	}
	return &Monitor{
		registry: reg,
		timeout:  timeout,
		logger:   log.WithComponent("heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Record processes one heartbeat from a mirror. Pending and rejected
// mirrors never participate in liveness tracking.
func (m *Monitor) Record(mirror *types.Mirror, fileCount int, bytesStored int64) error {
	switch mirror.Status {
	case types.MirrorStatusPending, types.MirrorStatusRejected:
		return fmt.Errorf("mirror %s is %s and not heartbeat-eligible", mirror.ID, mirror.Status)
	}

	if _, err := m.registry.MarkOnline(mirror.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := m.registry.UpdateCounters(mirror.ID, fileCount, bytesStored); err != nil {
		return err
	}

	metrics.HeartbeatsTotal.Inc()
	m.logger.Debug().Str("mirror_id", mirror.ID).Int("file_count", fileCount).Msg("heartbeat")
	return nil
}

// Sweep marks online mirrors offline once no heartbeat has arrived within
// the timeout window.
func (m *Monitor) Sweep() error {
	mirrors, err := m.registry.List()
	if err != nil {
		return fmt.Errorf("failed to list mirrors: %w", err)
	}

	now := time.Now()
	for _, mirror := range mirrors {
		if mirror.Status != types.MirrorStatusOnline {
			continue
		}
		if now.Sub(mirror.LastHeartbeat) > m.timeout {
			m.logger.Warn().
				Str("mirror_id", mirror.ID).
				Dur("silent_for", now.Sub(mirror.LastHeartbeat)).
				Msg("no heartbeat within timeout")
			if _, err := m.registry.MarkOffline(mirror.ID); err != nil {
				m.logger.Error().Err(err).Str("mirror_id", mirror.ID).Msg("failed to mark mirror offline")
			}
		}
	}
	return nil
}

// Start begins the timeout sweep loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	// Sweeping at a fraction of the timeout bounds offline detection lag.
	ticker := time.NewTicker(m.timeout / DefaultTimeoutMultiple)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Sweep(); err != nil {
				m.logger.Error().Err(err).Msg("heartbeat sweep failed")
			}
		case <-m.stopCh:
			return
		}
	}
}
