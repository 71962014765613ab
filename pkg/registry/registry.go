package registry

import (
	"fmt"
	"time"

	"github.com/coldstore/coldstore/pkg/events"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/rs/zerolog"
)

// Registry is the origin-side view of the mirror fleet. It owns status
// transitions: pending→approved→{online,offline}, pending→rejected, and
// never backward out of rejected.
type Registry struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewRegistry creates a registry over the given store. The broker may be
// nil when no one listens for fleet events.
func NewRegistry(store storage.Store, broker *events.Broker) *Registry {
	return &Registry{
		store:  store,
		broker: broker,
		logger: log.WithComponent("registry"),
	}
}

// Get retrieves a mirror by ID
func (r *Registry) Get(id string) (*types.Mirror, error) {
	return r.store.GetMirror(id)
}

// List returns all registered mirrors
func (r *Registry) List() ([]*types.Mirror, error) {
	return r.store.ListMirrors()
}

// Authenticate resolves a mirror credential to its mirror. Every
// authenticated mirror call goes through here.
func (r *Registry) Authenticate(credential string) (*types.Mirror, error) {
	if credential == "" {
		return nil, fmt.Errorf("empty credential: %w", types.ErrNotFound)
	}
	return r.store.GetMirrorByCredential(credential)
}

// Approve moves a pending mirror into the approved pool, making it eligible
// for heartbeat tracking and sync targeting.
func (r *Registry) Approve(id string) (*types.Mirror, error) {
	mirror, err := r.transition(id, types.MirrorStatusApproved)
	if err != nil {
		return nil, err
	}
	r.publish(events.EventMirrorApproved, mirror)
	r.logger.Info().Str("mirror_id", id).Msg("mirror approved")
	return mirror, nil
}

// Reject refuses a pending mirror. Rejection is terminal.
func (r *Registry) Reject(id string) (*types.Mirror, error) {
	mirror, err := r.transition(id, types.MirrorStatusRejected)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("mirror_id", id).Msg("mirror rejected")
	return mirror, nil
}

// MarkOnline records liveness: approved→online on first heartbeat,
// offline→online on recovery, online→online refreshes the timestamp.
func (r *Registry) MarkOnline(id string, at time.Time) (*types.Mirror, error) {
	mirror, err := r.store.GetMirror(id)
	if err != nil {
		return nil, err
	}

	wasOffline := mirror.Status != types.MirrorStatusOnline
	if mirror.Status != types.MirrorStatusOnline {
		if !canTransition(mirror.Status, types.MirrorStatusOnline) {
			return nil, fmt.Errorf("mirror %s is %s, not heartbeat-eligible", id, mirror.Status)
		}
		mirror.Status = types.MirrorStatusOnline
	}
	mirror.LastHeartbeat = at

	if err := r.store.UpdateMirror(mirror); err != nil {
		return nil, err
	}
	if wasOffline {
		r.publish(events.EventMirrorOnline, mirror)
	}
	return mirror, nil
}

// MarkOffline transitions an online mirror to offline. Its MirrorFile
// records are kept; it may still serve stale content if reached directly.
func (r *Registry) MarkOffline(id string) (*types.Mirror, error) {
	mirror, err := r.transition(id, types.MirrorStatusOffline)
	if err != nil {
		return nil, err
	}
	r.publish(events.EventMirrorOffline, mirror)
	r.logger.Warn().Str("mirror_id", id).Msg("mirror marked offline")
	return mirror, nil
}

// UpdateCounters stores the holdings counters a mirror reported with its
// heartbeat.
func (r *Registry) UpdateCounters(id string, fileCount int, bytesStored int64) error {
	mirror, err := r.store.GetMirror(id)
	if err != nil {
		return err
	}
	mirror.FileCount = fileCount
	mirror.BytesStored = bytesStored
	return r.store.UpdateMirror(mirror)
}

// SyncEligible reports whether the orchestrator should target this mirror.
// Offline mirrors keep their records but receive no new pushes.
func SyncEligible(m *types.Mirror) bool {
	return m.Status == types.MirrorStatusApproved || m.Status == types.MirrorStatusOnline
}

// Routable reports whether end-user downloads may be redirected to this
// mirror.
func Routable(m *types.Mirror) bool {
	return m.Status == types.MirrorStatusOnline
}

func (r *Registry) transition(id string, to types.MirrorStatus) (*types.Mirror, error) {
	mirror, err := r.store.GetMirror(id)
	if err != nil {
		return nil, err
	}

	if !canTransition(mirror.Status, to) {
		return nil, fmt.Errorf("invalid mirror status transition %s -> %s", mirror.Status, to)
	}

	mirror.Status = to
	if err := r.store.UpdateMirror(mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

// canTransition encodes the mirror lifecycle. Rejected is terminal, and a
// mirror never returns to pending.
func canTransition(from, to types.MirrorStatus) bool {
	switch from {
	case types.MirrorStatusPending:
		return to == types.MirrorStatusApproved || to == types.MirrorStatusRejected
	case types.MirrorStatusApproved:
		return to == types.MirrorStatusOnline || to == types.MirrorStatusOffline
	case types.MirrorStatusOnline:
		return to == types.MirrorStatusOffline || to == types.MirrorStatusOnline
	case types.MirrorStatusOffline:
		return to == types.MirrorStatusOnline
	default: // rejected
		return false
	}
}

func (r *Registry) publish(eventType events.EventType, mirror *types.Mirror) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     eventType,
		MirrorID: mirror.ID,
		Message:  fmt.Sprintf("mirror %s is %s", mirror.Name, mirror.Status),
	})
}
