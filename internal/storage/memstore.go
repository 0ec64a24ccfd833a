// internal/storage/memstore.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/pkg/errors"
)

// MemoryStore is a mutex-serialized in-memory SubmissionStore. It backs
// local development and the package tests; the confirm transition holds the
// store lock end to end, giving the same linearizability as the Redis Lua
// script.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[string]*submission.Submission
	counters    *submission.Counters
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*submission.Submission),
	}
}

// Close releases nothing; it exists to satisfy the store contract
func (ms *MemoryStore) Close() error { return nil }

// Ping always succeeds
func (ms *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateSubmission stores a new pending submission
func (ms *MemoryStore) CreateSubmission(ctx context.Context, sub *submission.Submission) error {
	if err := sub.Validate(); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, err.Error())
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.submissions[sub.ID]; exists {
		return errors.WrapWithField(errors.ErrAlreadyExists, "submission_id", sub.ID)
	}

	cp := *sub
	ms.submissions[sub.ID] = &cp
	return nil
}

// GetSubmission retrieves a submission by id
func (ms *MemoryStore) GetSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	sub, exists := ms.submissions[id]
	if !exists {
		return nil, errors.WrapWithField(errors.ErrNotFound, "submission_id", id)
	}

	cp := *sub
	return &cp, nil
}

// ListPending returns pending submissions created at or after the given
// time, oldest first
func (ms *MemoryStore) ListPending(ctx context.Context, createdAfter time.Time) ([]*submission.Submission, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := createdAfter.Unix()
	subs := make([]*submission.Submission, 0)
	for _, sub := range ms.submissions {
		if sub.Status == submission.Pending && sub.CreatedAt >= cutoff {
			cp := *sub
			subs = append(subs, &cp)
		}
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt < subs[j].CreatedAt })
	return subs, nil
}

// ListConfirmed returns up to limit confirmed submissions ordered by slot
func (ms *MemoryStore) ListConfirmed(ctx context.Context, limit int64) ([]*submission.Submission, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	subs := make([]*submission.Submission, 0)
	for _, sub := range ms.submissions {
		if sub.Status == submission.Confirmed {
			cp := *sub
			subs = append(subs, &cp)
		}
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].SlotNumber < subs[j].SlotNumber })
	if limit > 0 && int64(len(subs)) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

// ConfirmSubmission executes the confirm transition under the store lock
func (ms *MemoryStore) ConfirmSubmission(ctx context.Context, id, txHash string, now time.Time) (ConfirmResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	sub, exists := ms.submissions[id]
	if !exists {
		return ConfirmResult{}, errors.WrapWithField(errors.ErrNotFound, "submission_id", id)
	}

	if sub.Status == submission.Confirmed {
		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, SlotNumber: sub.SlotNumber}, nil
	}
	if sub.Status != submission.Pending {
		return ConfirmResult{Outcome: OutcomeNotPending}, nil
	}

	if ms.counters == nil {
		return ConfirmResult{}, errors.Wrap(errors.ErrInternal, "counters not initialized")
	}
	if ms.counters.UsedSlots >= ms.counters.TotalCapacity {
		return ConfirmResult{Outcome: OutcomeCapacityExhausted}, nil
	}

	ms.counters.UsedSlots++
	ms.counters.TotalValueCollected += sub.PaymentAmount
	ms.counters.LastUpdated = now.Unix()

	sub.Status = submission.Confirmed
	sub.ConfirmedAt = now.Unix()
	sub.SlotNumber = ms.counters.UsedSlots
	if txHash != "" {
		sub.TransactionHash = txHash
	}

	return ConfirmResult{Outcome: OutcomeConfirmed, SlotNumber: sub.SlotNumber}, nil
}

// Counters returns a snapshot of the singleton counters record
func (ms *MemoryStore) Counters(ctx context.Context) (*submission.Counters, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.counters == nil {
		return nil, errors.Wrap(errors.ErrNotFound, "counters not initialized")
	}

	cp := *ms.counters
	return &cp, nil
}

// InitCounters creates the counters record if absent and pins the capacity
func (ms *MemoryStore) InitCounters(ctx context.Context, capacity int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.counters == nil {
		ms.counters = &submission.Counters{
			TotalCapacity: capacity,
			LastUpdated:   time.Now().Unix(),
		}
		return nil
	}

	ms.counters.TotalCapacity = capacity
	return nil
}
