// Package ledger provides read-only access to the external value-transfer
// ledger the payment engine observes. The gateway is network-fallible and
// keeps no local state; every call is bounded by a configured timeout and a
// timed-out call is a transient failure, never a negative confirmation.
package ledger

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"github.com/cmatc13/slotwall/pkg/errors"
	"github.com/cmatc13/slotwall/pkg/metrics"
)

// ErrTxNotFound is returned when the ledger has no record of the
// transaction (including transactions seen but not yet mined).
var ErrTxNotFound = errors.New("transaction not found on ledger")

// Transfer describes the payment-relevant details of a ledger transaction.
type Transfer struct {
	// Recipient is the destination address, hex-encoded.
	Recipient string
	// Value is the transferred amount in ether.
	Value float64
}

// Gateway is the read-only ledger contract the engine depends on. Both
// operations are idempotent, side-effect-free queries; both fail with
// errors.ErrGatewayUnavailable on network, timeout, or parse errors.
type Gateway interface {
	// BalanceOf returns the current balance of the address in ether.
	BalanceOf(ctx context.Context, address string) (float64, error)

	// TransactionByHash returns the transfer details of a mined
	// transaction, or ErrTxNotFound.
	TransactionByHash(ctx context.Context, hash string) (*Transfer, error)

	// Ping checks connectivity to the ledger RPC endpoint.
	Ping(ctx context.Context) error

	// Close releases the gateway's connection.
	Close()
}

// EthGateway implements Gateway against an Ethereum JSON-RPC endpoint.
type EthGateway struct {
	client  *ethclient.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewEthGateway dials the RPC endpoint and returns a gateway whose calls
// are bounded by the given timeout. The metrics collector may be nil.
func NewEthGateway(rpcURL string, timeout time.Duration, m *metrics.Metrics) (*EthGateway, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrGatewayUnavailable, "failed to connect to ledger RPC at %s: %v", rpcURL, err)
	}

	return &EthGateway{
		client:  client,
		timeout: timeout,
		metrics: m,
	}, nil
}

// BalanceOf returns the current balance of the address in ether
func (g *EthGateway) BalanceOf(ctx context.Context, address string) (float64, error) {
	if !common.IsHexAddress(address) {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "invalid ledger address: %s", address)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	wei, err := g.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	g.observe("balance_of", start, err)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrGatewayUnavailable, "balance query failed: %v", err)
	}

	return weiToEther(wei), nil
}

// TransactionByHash returns the transfer details of a mined transaction
func (g *EthGateway) TransactionByHash(ctx context.Context, hash string) (*Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	tx, isPending, err := g.client.TransactionByHash(ctx, common.HexToHash(hash))
	g.observe("transaction_by_hash", start, err)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, errors.Wrapf(errors.ErrGatewayUnavailable, "transaction query failed: %v", err)
	}

	// A transaction still in the mempool can be dropped or replaced, so it
	// is not usable evidence yet.
	if isPending {
		return nil, ErrTxNotFound
	}

	// Contract creations carry no recipient.
	if tx.To() == nil {
		return nil, ErrTxNotFound
	}

	return &Transfer{
		Recipient: tx.To().Hex(),
		Value:     weiToEther(tx.Value()),
	}, nil
}

// Ping checks connectivity by asking for the current chain id
func (g *EthGateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.client.ChainID(ctx); err != nil {
		return errors.Wrapf(errors.ErrGatewayUnavailable, "ledger RPC unreachable: %v", err)
	}
	return nil
}

// Close releases the underlying RPC connection
func (g *EthGateway) Close() {
	g.client.Close()
}

func (g *EthGateway) observe(operation string, start time.Time, err error) {
	if g.metrics != nil {
		g.metrics.ObserveGatewayCall(operation, start, err)
	}
}

func weiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(params.Ether))
	eth, _ := f.Float64()
	return eth
}
