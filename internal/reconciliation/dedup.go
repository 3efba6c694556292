package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rental-payments-ledger/internal/domain/webhook"
)

// DedupStore fronts the durable event store with a process-local bloom filter.
// A negative filter answer skips the lookup and goes straight to the insert,
// whose unique id still catches deliveries seen by other replicas.
type DedupStore struct {
	repo   webhook.Repository
	filter *bloom.BloomFilter
	mu     sync.RWMutex
	logger *slog.Logger

	lookups        uint64
	filterRejected uint64
}

func NewDedupStore(logger *slog.Logger, repo webhook.Repository, expectedItems uint, falsePositiveRate float64) *DedupStore {
	if expectedItems == 0 {
		expectedItems = 100000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &DedupStore{
		repo:   repo,
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		logger: logger,
	}
}

func (s *DedupStore) remember(id string) {
	s.mu.Lock()
	s.filter.AddString(id)
	s.mu.Unlock()
}

// Lookup returns the stored record of id, or nil when the id is unknown
func (s *DedupStore) Lookup(ctx context.Context, id string) (*webhook.Record, error) {
	s.mu.Lock()
	s.lookups++
	mayExist := s.filter.TestString(id)
	if !mayExist {
		s.filterRejected++
	}
	s.mu.Unlock()

	if !mayExist {
		return nil, nil
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, webhook.ErrEventNotFound{}) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Store persists a new record. For a known id it returns the prior record and
// ErrDuplicateEvent; the prior record is nil if it could not be read back.
func (s *DedupStore) Store(ctx context.Context, rec *webhook.Record) (*webhook.Record, error) {
	err := s.repo.Store(ctx, rec)
	if err == nil {
		s.remember(rec.ID)
		return rec, nil
	}
	if !errors.Is(err, webhook.ErrDuplicateEvent{}) {
		return nil, err
	}

	s.remember(rec.ID)
	prior, getErr := s.repo.GetByID(ctx, rec.ID)
	if getErr != nil {
		s.logger.Warn("Failed to read prior outcome of duplicate event", "event_id", rec.ID, "error", getErr)
		return nil, err
	}
	return prior, err
}

func (s *DedupStore) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	return s.repo.MarkProcessed(ctx, id, now)
}

func (s *DedupStore) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	return s.repo.MarkFailed(ctx, id, reason, now)
}

// FilterStats reports how many lookups the bloom filter answered on its own
func (s *DedupStore) FilterStats() (lookups, rejected uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups, s.filterRejected
}
