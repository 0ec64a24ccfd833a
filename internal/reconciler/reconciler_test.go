package reconciler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/slotwall/internal/confirm"
	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/pkg/errors"
	"github.com/cmatc13/slotwall/pkg/logging"
)

// fakeGateway serves canned balances per address and can be made to block
// or fail. It satisfies ledger.Gateway.
type fakeGateway struct {
	mu       sync.Mutex
	balances map[string]float64
	failing  map[string]bool
	block    chan struct{}
	calls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances: make(map[string]float64),
		failing:  make(map[string]bool),
	}
}

func (g *fakeGateway) BalanceOf(ctx context.Context, address string) (float64, error) {
	g.mu.Lock()
	block := g.block
	g.calls++
	fail := g.failing[address]
	balance := g.balances[address]
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if fail {
		return 0, errors.Wrap(errors.ErrGatewayUnavailable, "balance query failed")
	}
	return balance, nil
}

func (g *fakeGateway) TransactionByHash(ctx context.Context, hash string) (*ledger.Transfer, error) {
	return nil, ledger.ErrTxNotFound
}

func (g *fakeGateway) Ping(ctx context.Context) error { return nil }

func (g *fakeGateway) Close() {}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:       logging.ErrorLevel,
		Output:      io.Discard,
		ServiceName: "test",
	})
}

func newTestReconciler(t *testing.T, capacity int64, gateway *fakeGateway) (*Reconciler, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.InitCounters(context.Background(), capacity))
	engine := confirm.NewEngine(store, nil, testLogger(), nil)
	rec := New(store, gateway, engine, testLogger(), nil, time.Minute, 24*time.Hour)
	return rec, store
}

func newPending(t *testing.T, store *storage.MemoryStore, address string) *submission.Submission {
	t.Helper()
	sub, err := submission.New(address, 0.001)
	require.NoError(t, err)
	require.NoError(t, store.CreateSubmission(context.Background(), sub))
	return sub
}

func TestSweepConfirmsFundedSubmissions(t *testing.T) {
	gateway := newFakeGateway()
	rec, store := newTestReconciler(t, 10, gateway)
	ctx := context.Background()

	funded := newPending(t, store, "0x0000000000000000000000000000000000000001")
	unfunded := newPending(t, store, "0x0000000000000000000000000000000000000002")
	gateway.balances[funded.PaymentAddress] = 0.0015

	require.NoError(t, rec.SweepNow(ctx))

	got, err := store.GetSubmission(ctx, funded.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Confirmed, got.Status)
	assert.Equal(t, int64(1), got.SlotNumber)

	got, err = store.GetSubmission(ctx, unfunded.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Pending, got.Status)
}

func TestSweepSkipsFailingAddressAndContinues(t *testing.T) {
	gateway := newFakeGateway()
	rec, store := newTestReconciler(t, 10, gateway)
	ctx := context.Background()

	broken := newPending(t, store, "0x0000000000000000000000000000000000000001")
	healthy := newPending(t, store, "0x0000000000000000000000000000000000000002")
	gateway.failing[broken.PaymentAddress] = true
	gateway.balances[healthy.PaymentAddress] = 1.0

	require.NoError(t, rec.SweepNow(ctx))

	// The failing submission stays pending and retryable; the healthy one
	// is confirmed in the same sweep.
	got, err := store.GetSubmission(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Pending, got.Status)

	got, err = store.GetSubmission(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Confirmed, got.Status)
}

func TestSweepHonorsFreshnessWindow(t *testing.T) {
	gateway := newFakeGateway()
	rec, store := newTestReconciler(t, 10, gateway)
	ctx := context.Background()

	stale, err := submission.New("0x0000000000000000000000000000000000000001", 0.001)
	require.NoError(t, err)
	stale.CreatedAt = time.Now().Add(-48 * time.Hour).Unix()
	require.NoError(t, store.CreateSubmission(ctx, stale))
	gateway.balances[stale.PaymentAddress] = 1.0

	require.NoError(t, rec.SweepNow(ctx))

	// Outside the window the submission is never queried, let alone
	// confirmed.
	assert.Zero(t, gateway.calls)

	got, err := store.GetSubmission(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Pending, got.Status)
}

func TestSweepNowIsSingleFlight(t *testing.T) {
	gateway := newFakeGateway()
	rec, store := newTestReconciler(t, 10, gateway)
	ctx := context.Background()

	sub := newPending(t, store, "0x0000000000000000000000000000000000000001")
	gateway.balances[sub.PaymentAddress] = 1.0

	release := make(chan struct{})
	gateway.block = release

	done := make(chan error, 1)
	go func() { done <- rec.SweepNow(ctx) }()

	// Wait until the first sweep is inside the gateway call.
	require.Eventually(t, func() bool {
		gateway.mu.Lock()
		defer gateway.mu.Unlock()
		return gateway.calls > 0
	}, time.Second, 5*time.Millisecond)

	err := rec.SweepNow(ctx)
	assert.True(t, errors.Is(err, ErrSweepInProgress))

	close(release)
	require.NoError(t, <-done)

	// The token is back; a fresh sweep runs fine.
	gateway.block = nil
	assert.NoError(t, rec.SweepNow(ctx))
}

func TestSweepStopsWhenCapacityExhausted(t *testing.T) {
	gateway := newFakeGateway()
	rec, store := newTestReconciler(t, 1, gateway)
	ctx := context.Background()

	var subs []*submission.Submission
	for i := 0; i < 3; i++ {
		sub := newPending(t, store, "0x0000000000000000000000000000000000000001")
		subs = append(subs, sub)
	}
	gateway.balances["0x0000000000000000000000000000000000000001"] = 1.0

	require.NoError(t, rec.SweepNow(ctx))

	var confirmed int
	for _, sub := range subs {
		got, err := store.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		if got.Status == submission.Confirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}
