package reconciliation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/rental-payments-ledger/internal/domain/journal"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/domain/transaction"
	"github.com/rental-payments-ledger/internal/domain/webhook"
)

type inlineTx struct{}

func (inlineTx) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// memoryEventRepo is an in-process webhook.Repository with the same unique-id semantics
type memoryEventRepo struct {
	mu      sync.Mutex
	records map[string]*webhook.Record
}

func newMemoryEventRepo() *memoryEventRepo {
	return &memoryEventRepo{records: map[string]*webhook.Record{}}
}

func (r *memoryEventRepo) GetByID(_ context.Context, id string) (*webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, webhook.ErrEventNotFound{EventID: id}
	}
	cp := *rec
	return &cp, nil
}

func (r *memoryEventRepo) IsProcessed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && rec.Processed, nil
}

func (r *memoryEventRepo) Store(_ context.Context, rec *webhook.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return webhook.ErrDuplicateEvent{EventID: rec.ID}
	}
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *memoryEventRepo) finish(id string, status webhook.Status, reason *string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return webhook.ErrEventNotFound{EventID: id}
	}
	rec.Status = status
	rec.Processed = true
	rec.ProcessingError = reason
	rec.ProcessedAt = &now
	return nil
}

func (r *memoryEventRepo) MarkProcessed(_ context.Context, id string, now time.Time) error {
	return r.finish(id, webhook.StatusProcessed, nil, now)
}

func (r *memoryEventRepo) MarkFailed(_ context.Context, id, reason string, now time.Time) error {
	return r.finish(id, webhook.StatusFailed, &reason, now)
}

func (r *memoryEventRepo) MarkExhausted(_ context.Context, id, reason string, now time.Time) error {
	return r.finish(id, webhook.StatusExhausted, &reason, now)
}

func (r *memoryEventRepo) IncrementRetry(_ context.Context, id string, expected int, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.RetryCount != expected || (rec.Status != webhook.StatusReceived && rec.Status != webhook.StatusFailed) {
		return false, nil
	}
	rec.RetryCount++
	rec.LastRetryAt = &now
	return true, nil
}

func (r *memoryEventRepo) ListUnprocessed(_ context.Context, limit, maxAttempts int, receivedBefore time.Time) ([]*webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Record
	for _, rec := range r.records {
		if rec.Status == webhook.StatusFailed || (rec.Status == webhook.StatusReceived && rec.ReceivedAt.Before(receivedBefore)) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		iSpent, jSpent := out[i].RetryCount >= maxAttempts, out[j].RetryCount >= maxAttempts
		if iSpent != jSpent {
			return iSpent
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryEventRepo) PurgeProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.Processed && rec.Status != webhook.StatusFailed && rec.ProcessedAt != nil && rec.ProcessedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, evt *webhook.Event) error {
	return m.Called(ctx, evt).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n shared.Notification) {
	m.Called(ctx, n)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreditPaymentTx(ctx context.Context, tx pgx.Tx, payment *transaction.Transaction) ([]*journal.Entry, error) {
	args := m.Called(ctx, tx, payment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}

func (m *MockLedger) RestoreReservationTx(ctx context.Context, tx pgx.Tx, txn *transaction.Transaction) ([]*journal.Entry, error) {
	args := m.Called(ctx, tx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}

func (m *MockLedger) Record(ctx context.Context, entries ...*journal.Entry) {
	m.Called(ctx, entries)
}

type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) Create(ctx context.Context, txn *transaction.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) LockByProviderReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) Update(ctx context.Context, txn *transaction.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

func (m *MockTransactionRepo) SumCompletedRentalIncome(ctx context.Context, bookingID, recipientID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, bookingID, recipientID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepo) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*transaction.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) WithTx(tx pgx.Tx) transaction.Repository {
	return m
}
