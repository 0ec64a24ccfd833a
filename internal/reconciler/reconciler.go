// Package reconciler implements the periodic background path: it scans
// recently created pending submissions and asks the ledger for a
// balance-based confirmation signal for each.
//
// The balance check is deliberately naive: every submission shares one
// operator address, and the sweep compares that address's total balance
// against each submission's own required amount. With several submissions
// pending at once, a single deposit can satisfy more than one of them; the
// manual verifier is the precise path.
package reconciler

import (
	"context"
	"time"

	"github.com/cmatc13/slotwall/internal/confirm"
	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/pkg/errors"
	"github.com/cmatc13/slotwall/pkg/logging"
	"github.com/cmatc13/slotwall/pkg/metrics"
)

// ErrSweepInProgress is returned by SweepNow when a sweep is already running.
var ErrSweepInProgress = errors.New("a reconciliation sweep is already in progress")

// Reconciler periodically sweeps pending submissions for balance evidence
type Reconciler struct {
	store   storage.SubmissionStore
	gateway ledger.Gateway
	engine  *confirm.Engine
	logger  *logging.Logger
	metrics *metrics.Metrics

	interval        time.Duration
	freshnessWindow time.Duration

	// sem holds a single token; a sweep runs only while holding it, so
	// ticks never overlap no matter how slow the ledger is.
	sem chan struct{}
}

// New creates a reconciler. The metrics collector may be nil.
func New(
	store storage.SubmissionStore,
	gateway ledger.Gateway,
	engine *confirm.Engine,
	logger *logging.Logger,
	m *metrics.Metrics,
	interval time.Duration,
	freshnessWindow time.Duration,
) *Reconciler {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}

	return &Reconciler{
		store:           store,
		gateway:         gateway,
		engine:          engine,
		logger:          logger,
		metrics:         m,
		interval:        interval,
		freshnessWindow: freshnessWindow,
		sem:             sem,
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		"interval", r.interval.String(),
		"freshness_window", r.freshnessWindow.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.SweepNow(ctx); err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					r.logger.Warn("skipping tick, previous sweep still running")
					if r.metrics != nil {
						r.metrics.SweepSkipped.Inc()
					}
					continue
				}
				r.logger.WithError(err).Error("reconciliation sweep failed")
			}
		}
	}
}

// SweepNow runs one sweep immediately. It returns ErrSweepInProgress when
// another sweep (scheduled or triggered) is still running.
func (r *Reconciler) SweepNow(ctx context.Context) error {
	select {
	case <-r.sem:
	default:
		return ErrSweepInProgress
	}
	defer func() { r.sem <- struct{}{} }()

	return r.sweep(ctx)
}

// sweep examines every fresh pending submission. Per-submission failures
// are logged and skipped; they neither abort the remaining submissions nor
// mark anything expired.
func (r *Reconciler) sweep(ctx context.Context) error {
	start := time.Now()

	cutoff := start.Add(-r.freshnessWindow)
	pending, err := r.store.ListPending(ctx, cutoff)
	if err != nil {
		return errors.WrapWithOperation(err, "Sweep")
	}

	if r.metrics != nil {
		defer func() {
			r.metrics.SweepDuration.Observe(time.Since(start).Seconds())
			r.metrics.SweepSubmissions.Observe(float64(len(pending)))
		}()
	}

	if len(pending) == 0 {
		return nil
	}

	r.logger.Debug("sweeping pending submissions", "count", len(pending))

	for _, sub := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		balance, err := r.gateway.BalanceOf(ctx, sub.PaymentAddress)
		if err != nil {
			// Transient by definition; the submission stays pending and is
			// retried on the next tick.
			r.logger.WithError(err).Warn("balance query failed, skipping submission",
				"submission_id", sub.ID)
			continue
		}

		if balance < sub.PaymentAmount {
			continue
		}

		res, err := r.engine.Confirm(ctx, sub.ID, confirm.NewBalanceEvidence(balance))
		if err != nil {
			r.logger.WithError(err).Warn("confirmation failed, skipping submission",
				"submission_id", sub.ID)
			continue
		}

		switch res.Outcome {
		case confirm.OutcomeConfirmed:
			r.logger.Info("reconciler confirmed submission",
				"submission_id", sub.ID,
				"slot_number", res.SlotNumber,
				"observed_balance", balance)
		case confirm.OutcomeCapacityExhausted:
			// No later submission in this sweep can succeed either.
			r.logger.Warn("slot capacity exhausted, ending sweep")
			return nil
		}
	}

	return nil
}
