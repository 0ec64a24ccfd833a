package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/slotwall/internal/confirm"
	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/reconciler"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/internal/verifier"
	"github.com/cmatc13/slotwall/pkg/config"
	"github.com/cmatc13/slotwall/pkg/logging"
	"github.com/cmatc13/slotwall/pkg/metrics"
)

const testAddress = "0xAb5801a7D398351b8bE11C439e05C5b3259aec9B"

type fakeGateway struct {
	balances  map[string]float64
	transfers map[string]*ledger.Transfer
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances:  make(map[string]float64),
		transfers: make(map[string]*ledger.Transfer),
	}
}

func (g *fakeGateway) BalanceOf(ctx context.Context, address string) (float64, error) {
	return g.balances[address], nil
}

func (g *fakeGateway) TransactionByHash(ctx context.Context, hash string) (*ledger.Transfer, error) {
	transfer, ok := g.transfers[hash]
	if !ok {
		return nil, ledger.ErrTxNotFound
	}
	return transfer, nil
}

func (g *fakeGateway) Ping(ctx context.Context) error { return nil }

func (g *fakeGateway) Close() {}

func testConfig(capacity int64) *config.Config {
	return &config.Config{
		Log: config.LogConfig{Level: "error"},
		API: config.APIConfig{
			Port:               "0",
			CORSAllowedOrigins: []string{"*"},
			VerifyRateLimit:    1000,
		},
		Redis:   config.RedisConfig{Address: "localhost:6379"},
		Storage: config.StorageConfig{Backend: "memory"},
		Ledger:  config.LedgerConfig{RPCURL: "http://localhost:8545", Timeout: time.Second},
		Payment: config.PaymentConfig{
			Address:  testAddress,
			Amount:   0.001,
			Capacity: capacity,
		},
		Reconciler: config.ReconcilerConfig{
			Interval:        time.Minute,
			FreshnessWindow: 24 * time.Hour,
		},
		Metrics: config.MetricsConfig{Namespace: "slotwall"},
	}
}

type testEnv struct {
	server  *Server
	store   *storage.MemoryStore
	gateway *fakeGateway
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	logger := logging.New(logging.Config{
		Level:       logging.ErrorLevel,
		Output:      io.Discard,
		ServiceName: "test",
	})
	store := storage.NewMemoryStore()
	require.NoError(t, store.InitCounters(context.Background(), cfg.Payment.Capacity))

	gateway := newFakeGateway()
	engine := confirm.NewEngine(store, nil, logger, nil)
	rec := reconciler.New(store, gateway, engine, logger, nil,
		cfg.Reconciler.Interval, cfg.Reconciler.FreshnessWindow)
	v := verifier.New(store, gateway, engine, logger)

	m := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
	server := NewServer(cfg, store, v, rec, gateway, logger, m)

	return &testEnv{server: server, store: store, gateway: gateway}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateSubmission(t *testing.T) {
	env := newTestEnv(t, testConfig(10))

	rec := env.do(t, http.MethodPost, "/api/v1/submissions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.NotEmpty(t, data["submission_id"])
	assert.Equal(t, testAddress, data["payment_address"])
	assert.Equal(t, 0.001, data["payment_amount"])
	assert.Equal(t, string(submission.Pending), data["status"])
}

func TestCreateSubmissionRefusedWhenFull(t *testing.T) {
	env := newTestEnv(t, testConfig(1))
	ctx := context.Background()

	sub, err := submission.New(testAddress, 0.001)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSubmission(ctx, sub))
	_, err = env.store.ConfirmSubmission(ctx, sub.ID, "", time.Now())
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/submissions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "capacity_exhausted", resp.Error)
}

func TestGetSubmission(t *testing.T) {
	env := newTestEnv(t, testConfig(10))

	rec := env.do(t, http.MethodPost, "/api/v1/submissions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeResponse(t, rec).Data.(map[string]interface{})["submission_id"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/submissions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, id, data["submission_id"])
	assert.Equal(t, string(submission.Pending), data["status"])
	assert.NotContains(t, data, "slot_number")

	rec = env.do(t, http.MethodGet, "/api/v1/submissions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifySubmission(t *testing.T) {
	env := newTestEnv(t, testConfig(10))

	rec := env.do(t, http.MethodPost, "/api/v1/submissions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeResponse(t, rec).Data.(map[string]interface{})["submission_id"].(string)

	// Missing hash.
	rec = env.do(t, http.MethodPost, "/api/v1/submissions/"+id+"/verify", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown transaction: not an error, but not a confirmation either.
	rec = env.do(t, http.MethodPost, "/api/v1/submissions/"+id+"/verify",
		map[string]string{"transaction_hash": "0xmissing"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid", resp.Error)

	// Matching transaction confirms and reports the slot.
	env.gateway.transfers["0xabc"] = &ledger.Transfer{Recipient: testAddress, Value: 0.002}
	rec = env.do(t, http.MethodPost, "/api/v1/submissions/"+id+"/verify",
		map[string]string{"transaction_hash": "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeResponse(t, rec)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, string(verifier.StatusConfirmed), data["status"])
	assert.Equal(t, float64(1), data["slot_number"])

	// A repeat claim is idempotent.
	rec = env.do(t, http.MethodPost, "/api/v1/submissions/"+id+"/verify",
		map[string]string{"transaction_hash": "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, string(verifier.StatusAlreadyConfirmed), data["status"])

	// Unknown submission id.
	rec = env.do(t, http.MethodPost, "/api/v1/submissions/no-such-id/verify",
		map[string]string{"transaction_hash": "0xabc"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifySubmissionCapacityExhausted(t *testing.T) {
	env := newTestEnv(t, testConfig(1))
	ctx := context.Background()

	// Take the only slot out-of-band, then create a straggler directly in
	// the store (intake would refuse it at zero capacity).
	winner, err := submission.New(testAddress, 0.001)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSubmission(ctx, winner))

	straggler, err := submission.New(testAddress, 0.001)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSubmission(ctx, straggler))

	_, err = env.store.ConfirmSubmission(ctx, winner.ID, "", time.Now())
	require.NoError(t, err)

	env.gateway.transfers["0xabc"] = &ledger.Transfer{Recipient: testAddress, Value: 0.002}
	rec := env.do(t, http.MethodPost, "/api/v1/submissions/"+straggler.ID+"/verify",
		map[string]string{"transaction_hash": "0xabc"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "capacity_exhausted", resp.Error)
}

func TestListConfirmed(t *testing.T) {
	env := newTestEnv(t, testConfig(10))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sub, err := submission.New(testAddress, 0.001)
		require.NoError(t, err)
		require.NoError(t, env.store.CreateSubmission(ctx, sub))
		_, err = env.store.ConfirmSubmission(ctx, sub.ID, "", time.Now())
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/submissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	subs := decodeResponse(t, rec).Data.([]interface{})
	require.Len(t, subs, 3)
	for i, raw := range subs {
		entry := raw.(map[string]interface{})
		assert.Equal(t, float64(i+1), entry["slot_number"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/submissions?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResponse(t, rec).Data.([]interface{}), 2)

	rec = env.do(t, http.MethodGet, "/api/v1/submissions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, testConfig(10))
	ctx := context.Background()

	sub, err := submission.New(testAddress, 0.001)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSubmission(ctx, sub))
	_, err = env.store.ConfirmSubmission(ctx, sub.ID, "", time.Now())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, float64(10), data["total_capacity"])
	assert.Equal(t, float64(1), data["used_slots"])
	assert.Equal(t, float64(9), data["available_slots"])
	assert.InDelta(t, 0.001, data["total_value_collected"], 1e-12)
}

func TestAdminSweepRequiresJWT(t *testing.T) {
	cfg := testConfig(10)
	cfg.Auth.JWTSecret = "test-secret"
	env := newTestEnv(t, cfg)

	sub, err := submission.New(testAddress, 0.001)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSubmission(context.Background(), sub))
	env.gateway.balances[testAddress] = 1.0

	rec := env.do(t, http.MethodPost, "/api/v1/admin/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tokenAuth := jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	_, token, err := tokenAuth.Encode(map[string]interface{}{"sub": "admin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	got, err := env.store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Confirmed, got.Status)
}

func TestAdminRoutesAbsentWithoutSecret(t *testing.T) {
	env := newTestEnv(t, testConfig(10))

	rec := env.do(t, http.MethodPost, "/api/v1/admin/sweep", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(10))

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
