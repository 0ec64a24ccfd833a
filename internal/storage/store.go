// Package storage provides durable keyed storage for submissions and the
// singleton slot counters, including the serialized confirm transition that
// allocates slot numbers.
package storage

import (
	"context"
	"time"

	"github.com/cmatc13/slotwall/internal/submission"
)

// ConfirmOutcome is the result of the atomic confirm transition.
type ConfirmOutcome int

const (
	// OutcomeConfirmed means the submission transitioned pending -> confirmed
	// and was assigned a new slot number.
	OutcomeConfirmed ConfirmOutcome = iota
	// OutcomeAlreadyConfirmed means the submission was confirmed earlier;
	// the existing slot number is returned and no state changed.
	OutcomeAlreadyConfirmed
	// OutcomeCapacityExhausted means no slots remain; state is untouched.
	OutcomeCapacityExhausted
	// OutcomeNotPending means the submission exists but is not confirmable
	// (expired); state is untouched.
	OutcomeNotPending
)

// ConfirmResult carries the outcome of a confirm transition and, for
// confirmed and already-confirmed outcomes, the slot number.
type ConfirmResult struct {
	Outcome    ConfirmOutcome
	SlotNumber int64
}

// SubmissionStore is the contract both the Redis and in-memory backends
// implement. ConfirmSubmission is the only mutation of a submission after
// creation and the sole writer of slot numbers and counters; every
// implementation must make it atomic and linearizable with respect to all
// other ConfirmSubmission calls.
type SubmissionStore interface {
	// CreateSubmission stores a new pending submission.
	CreateSubmission(ctx context.Context, sub *submission.Submission) error

	// GetSubmission returns the submission with the given id, or
	// errors.ErrNotFound.
	GetSubmission(ctx context.Context, id string) (*submission.Submission, error)

	// ListPending returns pending submissions created at or after the given
	// time, oldest first.
	ListPending(ctx context.Context, createdAfter time.Time) ([]*submission.Submission, error)

	// ListConfirmed returns up to limit confirmed submissions ordered by
	// slot number.
	ListConfirmed(ctx context.Context, limit int64) ([]*submission.Submission, error)

	// ConfirmSubmission atomically transitions the submission to confirmed:
	// terminal-status guard, capacity check, serialized increment of the
	// used-slot counter, field writes and value accumulation happen as one
	// unit. txHash may be empty for balance-based confirmations.
	ConfirmSubmission(ctx context.Context, id, txHash string, now time.Time) (ConfirmResult, error)

	// Counters returns the singleton counters record.
	Counters(ctx context.Context) (*submission.Counters, error)

	// InitCounters creates the counters record if absent and pins the
	// configured capacity.
	InitCounters(ctx context.Context, capacity int64) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
