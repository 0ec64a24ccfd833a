// Package verifier implements the on-demand confirmation path: a submitter
// claims a specific ledger transaction paid for their submission, and the
// verifier checks that claim against the ledger before handing it to the
// confirmation engine. Unlike the balance-based reconciler, this path can
// attribute a payment to one submission precisely.
package verifier

import (
	"context"

	"github.com/cmatc13/slotwall/internal/confirm"
	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/pkg/errors"
	"github.com/cmatc13/slotwall/pkg/logging"
)

// Status is the caller-visible result of a verification attempt
type Status string

const (
	// StatusConfirmed means this call confirmed the submission.
	StatusConfirmed Status = "confirmed"
	// StatusAlreadyConfirmed means the submission was confirmed earlier.
	StatusAlreadyConfirmed Status = "already_confirmed"
	// StatusInvalid means the claimed transaction could not be validated;
	// the submission stays pending and the caller may retry.
	StatusInvalid Status = "invalid"
	// StatusCapacityExhausted means no slots remain.
	StatusCapacityExhausted Status = "capacity_exhausted"
)

// Result carries the verification status and, when confirmed, the slot
type Result struct {
	Status     Status
	SlotNumber int64
}

// Verifier validates user-supplied transaction hashes against the ledger
type Verifier struct {
	store   storage.SubmissionStore
	gateway ledger.Gateway
	engine  *confirm.Engine
	logger  *logging.Logger
}

// New creates a manual verifier
func New(store storage.SubmissionStore, gateway ledger.Gateway, engine *confirm.Engine, logger *logging.Logger) *Verifier {
	return &Verifier{
		store:   store,
		gateway: gateway,
		engine:  engine,
		logger:  logger,
	}
}

// Verify checks the claimed transaction and confirms the submission when
// the transaction pays the submission's address at least the required
// amount. Gateway failures and mismatches surface as StatusInvalid and
// leave the submission pending; unknown ids return errors.ErrNotFound.
func (v *Verifier) Verify(ctx context.Context, id, txHash string) (Result, error) {
	sub, err := v.store.GetSubmission(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if sub.IsConfirmed() {
		return Result{Status: StatusAlreadyConfirmed, SlotNumber: sub.SlotNumber}, nil
	}

	transfer, err := v.gateway.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ledger.ErrTxNotFound) {
			v.logger.Debug("claimed transaction not found on ledger",
				"submission_id", id, "transaction_hash", txHash)
			return Result{Status: StatusInvalid}, nil
		}
		// Transient gateway failure: not a negative confirmation, but this
		// call cannot succeed. The submission stays pending and retryable.
		v.logger.WithError(err).Warn("ledger gateway failed during manual verification",
			"submission_id", id, "transaction_hash", txHash)
		return Result{Status: StatusInvalid}, nil
	}

	ev := confirm.NewTransactionEvidence(txHash, transfer.Recipient, transfer.Value)
	res, err := v.engine.Confirm(ctx, id, ev)
	if err != nil {
		return Result{}, err
	}

	switch res.Outcome {
	case confirm.OutcomeConfirmed:
		return Result{Status: StatusConfirmed, SlotNumber: res.SlotNumber}, nil
	case confirm.OutcomeAlreadyConfirmed:
		return Result{Status: StatusAlreadyConfirmed, SlotNumber: res.SlotNumber}, nil
	case confirm.OutcomeCapacityExhausted:
		return Result{Status: StatusCapacityExhausted}, nil
	default:
		v.logger.Info("manual verification rejected",
			"submission_id", id, "reason", res.Reason)
		return Result{Status: StatusInvalid}, nil
	}
}
