package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// TransactionIntent is one unsigned call handed to an external signer. The engine never
// inspects Data.
type TransactionIntent struct {
	To    common.Address `json:"to"`
	Data  []byte         `json:"data"`
	Value sdkmath.Int    `json:"value,omitempty"` // native value, nil when the call carries none
	Chain string         `json:"chain"`
	Label string         `json:"label,omitempty"` // e.g., "swap-fee/treasury"
}

// HasValue reports whether the intent carries a native value.
func (t TransactionIntent) HasValue() bool {
	return !t.Value.IsNil() && t.Value.IsPositive()
}

// RewardBalance is one pending or claimed reward token.
type RewardBalance struct {
	Symbol   string      `json:"symbol"`
	Balance  sdkmath.Int `json:"balance"`
	USDValue float64     `json:"usd_value"`
	Decimals int         `json:"decimals"`
}
