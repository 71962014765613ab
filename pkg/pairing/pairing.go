package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/coldstore/coldstore/pkg/events"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long an issued code stays redeemable.
	DefaultTTL = 15 * time.Minute

	// DefaultMaxOutstanding caps unconsumed, unexpired codes.
	DefaultMaxOutstanding = 10
)

// Service issues and redeems pairing codes that admit new mirrors into the
// registry. Codes are single-use: redemption consumes the code and creates
// the mirror atomically, and a consumed code is never reusable even if the
// resulting mirror is later rejected.
type Service struct {
	store          storage.Store
	broker         *events.Broker
	ttl            time.Duration
	maxOutstanding int
	logger         zerolog.Logger
	stopCh         chan struct{}
}

// NewService creates a pairing service. Zero values select the defaults;
// a nil broker disables event publishing.
func NewService(store storage.Store, broker *events.Broker, ttl time.Duration, maxOutstanding int) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstanding
	}
	return &Service{
		store:          store,
		broker:         broker,
		ttl:            ttl,
		maxOutstanding: maxOutstanding,
		logger:         log.WithComponent("pairing"),
		stopCh:         make(chan struct{}),
	}
}

// IssueCode creates a new pairing code for the operator to hand to a mirror
// out-of-band. Fails with types.ErrRateLimited when too many unconsumed
// codes are already outstanding.
func (s *Service) IssueCode() (*types.PairingCode, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate pairing code: %w", err)
	}

	now := time.Now().UTC()
	code := &types.PairingCode{
		Code:      hex.EncodeToString(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.IssuePairingCode(code, s.maxOutstanding, now); err != nil {
		if errors.Is(err, types.ErrRateLimited) {
			return nil, types.ErrRateLimited
		}
		return nil, fmt.Errorf("failed to persist pairing code: %w", err)
	}

	s.logger.Info().Time("expires_at", code.ExpiresAt).Msg("pairing code issued")
	return code, nil
}

// Redeem validates a code and admits a new mirror in pending status,
// issuing a fresh credential. Fails with types.ErrInvalidCode,
// types.ErrExpiredCode or types.ErrAlreadyConsumed.
func (s *Service) Redeem(code, name, directURL, tunnelURL string, maxFiles int) (*types.Mirror, error) {
	credential, err := newCredential()
	if err != nil {
		return nil, err
	}

	mirror := &types.Mirror{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     types.MirrorStatusPending,
		Credential: credential,
		Endpoints: types.Endpoints{
			Direct: directURL,
			Tunnel: tunnelURL,
		},
		MaxFiles:  maxFiles,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.RedeemPairingCode(code, time.Now(), mirror); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("mirror_id", mirror.ID).
		Str("name", name).
		Msg("pairing code redeemed, mirror pending approval")

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventMirrorPaired,
			MirrorID: mirror.ID,
			Message:  name,
		})
	}

	return mirror, nil
}

// Sweep deletes expired codes. Consumed codes are kept until expiry so a
// second redemption attempt still gets the distinct AlreadyConsumed error.
func (s *Service) Sweep() error {
	codes, err := s.store.ListPairingCodes()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, code := range codes {
		if code.Expired(now) {
			if err := s.store.DeletePairingCode(code.Code); err != nil {
				s.logger.Error().Err(err).Msg("failed to delete expired pairing code")
			}
		}
	}
	return nil
}

// Start begins the expired-code garbage collection loop
func (s *Service) Start() {
	go s.run()
}

// Stop stops the garbage collection loop
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) run() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Error().Err(err).Msg("pairing code sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

func newCredential() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
