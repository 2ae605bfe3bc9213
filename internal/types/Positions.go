/*

This file contains the concentrated-liquidity position record. It is read fresh from chain state
for every operation and never cached across calls.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/holiman/uint256"
)

// LiquidityPosition mirrors a Uniswap-V3 style NonfungiblePositionManager position.
type LiquidityPosition struct {
	TickLower            int          `json:"tick_lower"`
	TickUpper            int          `json:"tick_upper"`
	Liquidity            sdkmath.Int  `json:"liquidity"`
	FeeGrowthInside0Last *uint256.Int `json:"fee_growth_inside0_last_x128"` // Q128.128
	FeeGrowthInside1Last *uint256.Int `json:"fee_growth_inside1_last_x128"` // Q128.128
	TokensOwed0          *uint256.Int `json:"tokens_owed0"`
	TokensOwed1          *uint256.Int `json:"tokens_owed1"`
}

// FeeGrowthOutside is a tick's pair of fee-growth-outside counters.
type FeeGrowthOutside struct {
	Token0 *uint256.Int `json:"outer_fee_growth0"`
	Token1 *uint256.Int `json:"outer_fee_growth1"`
}
