package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coldstore/coldstore/pkg/catalog"
	"github.com/coldstore/coldstore/pkg/events"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/metrics"
	"github.com/coldstore/coldstore/pkg/policy"
	"github.com/coldstore/coldstore/pkg/registry"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval between orchestration passes.
const DefaultInterval = 300 * time.Second

// SyncClient delivers a sync instruction to a mirror agent and returns its
// per-item report.
type SyncClient interface {
	Sync(ctx context.Context, mirror *types.Mirror, instruction *types.SyncInstruction) (*types.SyncReport, error)
}

// Orchestrator computes each eligible mirror's desired file set and pushes
// the delta. Sync per mirror is one unit: a mirror never has two passes in
// flight, while distinct mirrors sync in parallel.
type Orchestrator struct {
	store    storage.Store
	catalog  catalog.Source
	client   SyncClient
	broker   *events.Broker
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	stopCh chan struct{}
}

// NewOrchestrator creates an orchestrator. A zero interval selects the
// default 300s cycle.
func NewOrchestrator(store storage.Store, src catalog.Source, client SyncClient, broker *events.Broker, interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		store:    store,
		catalog:  src,
		client:   client,
		broker:   broker,
		interval: interval,
		logger:   log.WithComponent("orchestrator"),
		inFlight: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the orchestration loop
func (o *Orchestrator) Start() {
	go o.run()
}

// Stop stops the orchestration loop
func (o *Orchestrator) Stop() {
	close(o.stopCh)
}

func (o *Orchestrator) run() {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	var sub events.Subscriber
	if o.broker != nil {
		sub = o.broker.Subscribe()
		defer o.broker.Unsubscribe(sub)
	}

	for {
		select {
		case <-ticker.C:
			o.SyncAll(context.Background())
		case event := <-sub:
			// A freshly approved entry should start replicating before
			// the next full cycle.
			if event != nil && event.Type == events.EventEntryApproved {
				o.SyncAll(context.Background())
			}
		case <-o.stopCh:
			return
		}
	}
}

// SyncAll runs one orchestration pass over every eligible mirror. Mirrors
// are synced concurrently; the call returns when all finish.
func (o *Orchestrator) SyncAll(ctx context.Context) {
	metrics.SyncCyclesTotal.Inc()

	mirrors, err := o.store.ListMirrors()
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list mirrors")
		return
	}

	var wg sync.WaitGroup
	for _, mirror := range mirrors {
		if !registry.SyncEligible(mirror) {
			continue
		}
		wg.Add(1)
		go func(m *types.Mirror) {
			defer wg.Done()
			if err := o.SyncMirror(ctx, m.ID); err != nil {
				o.logger.Warn().Err(err).Str("mirror_id", m.ID).Msg("sync pass failed")
			}
		}(mirror)
	}
	wg.Wait()
}

// SyncMirror runs one sync pass for a single mirror. Fails with
// types.ErrSyncInFlight when a pass is already running for it.
func (o *Orchestrator) SyncMirror(ctx context.Context, mirrorID string) error {
	if !o.acquire(mirrorID) {
		return types.ErrSyncInFlight
	}
	defer o.release(mirrorID)

	mirror, err := o.store.GetMirror(mirrorID)
	if err != nil {
		return err
	}
	if !registry.SyncEligible(mirror) {
		return fmt.Errorf("mirror %s is %s and not sync-eligible", mirrorID, mirror.Status)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)

	logger := log.WithMirrorID(o.logger, mirror.ID)

	instruction, err := o.computeDelta(mirror)
	if err != nil {
		return err
	}
	if instruction.Empty() {
		// Desired and current sets already converge.
		return nil
	}

	logger.Info().
		Int("fetch", len(instruction.Fetch)).
		Int("evict", len(instruction.Evict)).
		Msg("pushing sync instruction")

	report, err := o.client.Sync(ctx, mirror, instruction)
	if err != nil {
		// Transient: the delta is recomputed and retried next pass.
		o.appendLog(mirror.ID, "", types.SyncActionFetchFail, fmt.Sprintf("sync push failed: %v", err))
		return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}

	o.applyReport(logger, mirror, report)

	if o.broker != nil {
		o.broker.Publish(&events.Event{
			Type:     events.EventSyncCompleted,
			MirrorID: mirror.ID,
		})
	}
	return nil
}

// computeDelta builds the fetch/evict instruction from the priority policy
// and the mirror's current holdings.
func (o *Orchestrator) computeDelta(mirror *types.Mirror) (*types.SyncInstruction, error) {
	approved, err := o.catalog.ListApproved()
	if err != nil {
		return nil, fmt.Errorf("failed to list approved entries: %w", err)
	}

	desired := policy.Select(approved, mirror.MaxFiles)
	desiredByID := make(map[string]*types.CatalogEntry, len(desired))
	for _, entry := range desired {
		desiredByID[entry.ID] = entry
	}

	current, err := o.store.ListMirrorFiles(mirror.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror files: %w", err)
	}
	currentIDs := make(map[string]bool, len(current))
	for _, mf := range current {
		currentIDs[mf.EntryID] = true
	}

	instruction := &types.SyncInstruction{}
	for _, entry := range desired {
		if !currentIDs[entry.ID] {
			instruction.Fetch = append(instruction.Fetch, &types.FetchItem{
				EntryID:   entry.ID,
				Name:      entry.Name,
				Hash:      entry.Hash,
				Size:      entry.Size,
				Downloads: entry.Downloads,
				CreatedAt: entry.CreatedAt,
			})
		}
	}
	for _, mf := range current {
		if _, ok := desiredByID[mf.EntryID]; !ok {
			instruction.Evict = append(instruction.Evict, mf.EntryID)
		}
	}
	return instruction, nil
}

// applyReport folds the agent's outcomes into the MirrorFile index and the
// sync log. Failed fetches stay absent and are retried next pass.
func (o *Orchestrator) applyReport(logger zerolog.Logger, mirror *types.Mirror, report *types.SyncReport) {
	now := time.Now().UTC()
	for _, result := range report.Results {
		switch result.Action {
		case types.SyncActionPush:
			mf := &types.MirrorFile{
				MirrorID: mirror.ID,
				EntryID:  result.EntryID,
				State:    types.VerifyStateVerified,
				SyncedAt: now,
			}
			if err := o.store.PutMirrorFile(mf); err != nil {
				logger.Error().Err(err).Str("entry_id", result.EntryID).Msg("failed to record mirror file")
				continue
			}
		case types.SyncActionEvict:
			if err := o.store.DeleteMirrorFile(mirror.ID, result.EntryID); err != nil {
				logger.Error().Err(err).Str("entry_id", result.EntryID).Msg("failed to delete mirror file")
				continue
			}
		}
		o.appendLog(mirror.ID, result.EntryID, result.Action, result.Detail)
	}
}

func (o *Orchestrator) appendLog(mirrorID, entryID string, action types.SyncAction, detail string) {
	metrics.SyncActionsTotal.WithLabelValues(string(action)).Inc()
	err := o.store.AppendSyncLog(&types.SyncLogEntry{
		MirrorID: mirrorID,
		EntryID:  entryID,
		Action:   action,
		Detail:   detail,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to append sync log")
	}
}

func (o *Orchestrator) acquire(mirrorID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[mirrorID] {
		return false
	}
	o.inFlight[mirrorID] = true
	return true
}

func (o *Orchestrator) release(mirrorID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, mirrorID)
}
