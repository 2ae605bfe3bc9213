package types

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ProtocolHandle defines the capability set of one external protocol adapter.
// The engine only ever calls through this interface and never inspects the concrete type.
// Every call receives the price table fetched once for the current action.
type ProtocolHandle interface {
	// UniqueID returns the stable identity of the adapter, e.g. "arb/camelot/v3/eth-usdc".
	UniqueID() string

	// Deposit returns the transactions entering the protocol with amountIn of input
	// and the USD trading loss those transactions are expected to incur.
	Deposit(ctx context.Context, owner common.Address, amountIn sdkmath.Int, input TokenMeta, prices PriceTable, slippage float64) ([]TransactionIntent, float64, error)

	// WithdrawAndClaim returns the transactions exiting percentage (0..1] of the position
	// into output, claiming pending rewards on the way.
	WithdrawAndClaim(ctx context.Context, owner common.Address, percentage float64, output TokenMeta, slippage float64, prices PriceTable) (WithdrawResult, error)

	// Claim returns the claim transactions and the claimed rewards keyed by symbol.
	Claim(ctx context.Context, owner common.Address, prices PriceTable) ([]TransactionIntent, map[string]RewardBalance, error)

	// USDBalanceOf returns the USD value of owner's position.
	USDBalanceOf(ctx context.Context, owner common.Address, prices PriceTable) (float64, error)

	// PendingRewards returns owner's unclaimed rewards keyed by reward token address.
	PendingRewards(ctx context.Context, owner common.Address, prices PriceTable) (map[common.Address]RewardBalance, error)
}

// WithdrawResult is what a protocol returns from WithdrawAndClaim.
type WithdrawResult struct {
	Transactions []TransactionIntent
	OutputToken  TokenMeta
	MinOut       sdkmath.Int
	TradingLoss  float64
}

// PriceOracle supplies the USD price table for one action.
type PriceOracle interface {
	TokenPrices(ctx context.Context) (PriceTable, error)
}

// StaticOracle serves a fixed price table.
type StaticOracle PriceTable

func (s StaticOracle) TokenPrices(context.Context) (PriceTable, error) {
	return PriceTable(s).Normalized(), nil
}
