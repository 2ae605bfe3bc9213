package types

import (
	sdkmath "cosmossdk.io/math"
)

// FeeParameters are the tunable parts of the action planner. A set is stored per
// configuration name and versioned, with one version active at a time.
type FeeParameters struct {
	SwapFeeRate        sdkmath.LegacyDec `json:"swap_fee_rate"`
	ReferralFeeRate    sdkmath.LegacyDec `json:"referral_fee_rate"`
	MinWithdrawUSD     float64           `json:"min_withdraw_usd"`
	RebalanceThreshold float64           `json:"rebalance_threshold"`
	MaxConcurrentReads int               `json:"max_concurrent_reads"`
}
