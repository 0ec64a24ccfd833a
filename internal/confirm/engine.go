// Package confirm implements the confirmation procedure: the single state
// transition that turns a pending submission into a permanently numbered,
// confirmed record. Both trigger paths (the background reconciler and the
// manual verifier) funnel through Engine.Confirm, which is idempotent and
// delegates all shared-state mutation to the store's atomic transition.
package confirm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cmatc13/slotwall/internal/events"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/pkg/logging"
	"github.com/cmatc13/slotwall/pkg/metrics"
)

// EvidenceKind distinguishes the two observation paths
type EvidenceKind string

const (
	// BalanceEvidence is an observed address balance meeting the required
	// amount (reconciler path).
	BalanceEvidence EvidenceKind = "balance"
	// TransactionEvidence is a specific ledger transaction matching
	// recipient and amount (manual path).
	TransactionEvidence EvidenceKind = "transaction"
)

// Evidence is the observed proof of payment for one submission
type Evidence struct {
	Kind EvidenceKind

	// ObservedBalance is the address balance in ether (balance evidence).
	ObservedBalance float64

	// TransactionHash, Recipient and Value describe the matched ledger
	// transaction (transaction evidence).
	TransactionHash string
	Recipient       string
	Value           float64
}

// NewBalanceEvidence builds evidence from an observed address balance
func NewBalanceEvidence(observed float64) Evidence {
	return Evidence{Kind: BalanceEvidence, ObservedBalance: observed}
}

// NewTransactionEvidence builds evidence from a specific ledger transaction
func NewTransactionEvidence(hash, recipient string, value float64) Evidence {
	return Evidence{
		Kind:            TransactionEvidence,
		TransactionHash: hash,
		Recipient:       recipient,
		Value:           value,
	}
}

// Outcome is the caller-visible result of a confirmation attempt
type Outcome string

const (
	// OutcomeConfirmed means this call performed the transition and the
	// submission now holds the returned slot.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeAlreadyConfirmed means an earlier call performed the
	// transition; the existing slot is returned and nothing changed.
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	// OutcomeRejected means the evidence did not hold; the submission
	// stays pending and the caller may retry.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCapacityExhausted means no slots remain; nothing changed.
	OutcomeCapacityExhausted Outcome = "capacity_exhausted"
)

// Result carries the outcome of a confirmation attempt. SlotNumber is set
// for confirmed and already-confirmed outcomes; Reason for rejections.
type Result struct {
	Outcome    Outcome
	SlotNumber int64
	Reason     string
}

// Engine is the sole writer of slot numbers and counters. It is safe for
// concurrent use: the terminal-status guard plus the store's serialized
// transition make overlapping calls on the same submission converge on one
// confirmation and one slot.
type Engine struct {
	store     storage.SubmissionStore
	publisher events.Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a confirmation engine. publisher and metrics may be nil.
func NewEngine(store storage.SubmissionStore, publisher events.Publisher, logger *logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Confirm attempts to confirm the submission with the given evidence.
// It returns an error only for store failures and unknown ids; evidence
// mismatches and capacity exhaustion are outcomes, not errors.
func (e *Engine) Confirm(ctx context.Context, id string, ev Evidence) (Result, error) {
	sub, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return Result{}, err
	}

	// Idempotence fast path. This also makes overlapping reconciler and
	// manual-verifier calls on the same submission safe: the loser of the
	// race lands here or in the store's own terminal guard.
	if sub.IsConfirmed() {
		return e.finish(Result{
			Outcome:    OutcomeAlreadyConfirmed,
			SlotNumber: sub.SlotNumber,
		}, ev), nil
	}

	if reason := validateEvidence(sub, ev); reason != "" {
		return e.finish(Result{Outcome: OutcomeRejected, Reason: reason}, ev), nil
	}

	res, err := e.store.ConfirmSubmission(ctx, id, ev.TransactionHash, time.Now())
	if err != nil {
		return Result{}, err
	}

	switch res.Outcome {
	case storage.OutcomeConfirmed:
		e.logger.Info("submission confirmed",
			"submission_id", id,
			"slot_number", res.SlotNumber,
			"path", string(ev.Kind))
		e.publish(ctx, sub, res.SlotNumber, ev)
		return e.finish(Result{Outcome: OutcomeConfirmed, SlotNumber: res.SlotNumber}, ev), nil

	case storage.OutcomeAlreadyConfirmed:
		return e.finish(Result{Outcome: OutcomeAlreadyConfirmed, SlotNumber: res.SlotNumber}, ev), nil

	case storage.OutcomeCapacityExhausted:
		return e.finish(Result{Outcome: OutcomeCapacityExhausted}, ev), nil

	case storage.OutcomeNotPending:
		return e.finish(Result{Outcome: OutcomeRejected, Reason: "submission is not pending"}, ev), nil

	default:
		return Result{}, fmt.Errorf("unexpected store outcome %d", res.Outcome)
	}
}

// validateEvidence returns an empty string when the evidence holds, or the
// rejection reason
func validateEvidence(sub *submission.Submission, ev Evidence) string {
	switch ev.Kind {
	case BalanceEvidence:
		if ev.ObservedBalance < sub.PaymentAmount {
			return fmt.Sprintf("observed balance %.8f below required %.8f",
				ev.ObservedBalance, sub.PaymentAmount)
		}
	case TransactionEvidence:
		if !strings.EqualFold(ev.Recipient, sub.PaymentAddress) {
			return "transaction recipient does not match payment address"
		}
		if ev.Value < sub.PaymentAmount {
			return fmt.Sprintf("transaction value %.8f below required %.8f",
				ev.Value, sub.PaymentAmount)
		}
	default:
		return fmt.Sprintf("unknown evidence kind %q", ev.Kind)
	}
	return ""
}

func (e *Engine) publish(ctx context.Context, sub *submission.Submission, slot int64, ev Evidence) {
	if e.publisher != nil {
		err := e.publisher.PublishConfirmation(&events.ConfirmationEvent{
			SubmissionID:    sub.ID,
			SlotNumber:      slot,
			Amount:          sub.PaymentAmount,
			Path:            string(ev.Kind),
			TransactionHash: ev.TransactionHash,
			ConfirmedAt:     time.Now().Unix(),
		})
		if err != nil {
			// The transition has committed; delivery failures are log-only.
			e.logger.WithError(err).Warn("failed to publish confirmation event",
				"submission_id", sub.ID)
		}
	}

	if e.metrics != nil {
		if counters, err := e.store.Counters(ctx); err == nil {
			e.metrics.SlotsUsed.Set(float64(counters.UsedSlots))
			e.metrics.SlotCapacity.Set(float64(counters.TotalCapacity))
			e.metrics.TotalValueCollected.Set(counters.TotalValueCollected)
		}
	}
}

func (e *Engine) finish(res Result, ev Evidence) Result {
	if e.metrics != nil {
		e.metrics.ConfirmationCount.WithLabelValues(string(ev.Kind), string(res.Outcome)).Inc()
	}
	return res
}
