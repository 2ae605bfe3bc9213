/*

This file contains the default fee and planning parameters for the vault engine.

These values match the fee schedule the vaults were launched with. They are used when no active
parameter set is found in the database and the configuration file leaves a value unset.

*/

package config

import (
	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/types"
)

// DefaultParametersName is the configuration name under which fee parameters are stored.
const DefaultParametersName = "default"

// DefaultFeeParameters provides the baseline parameters of the action planner.
var DefaultFeeParameters = types.FeeParameters{
	SwapFeeRate: sdkmath.LegacyNewDecWithPrec(299, 5), // 0.299% of every deposit and withdrawal.
	// Rationale: Charged once per action on the user's input (deposit) or on the USD value
	// leaving the vault (withdraw). Claims are never charged.

	ReferralFeeRate: sdkmath.LegacyNewDecWithPrec(7, 1), // 70% of the swap fee goes to the referrer.
	// Rationale: Only applies when the owner was referred. The treasury keeps the rest.

	MinWithdrawUSD: 1, // Withdraw at least $1 from a position.
	// Rationale: Tiny exits cost more in slippage and gas than they return. A withdrawal
	// smaller than this is bumped up to this value, capped at the whole position.

	RebalanceThreshold: 0.05, // Report a position for rebalancing once it drifts 5% over target.
	// Rationale: Below 5% the cost of moving capital outweighs the benefit of the target mix.

	MaxConcurrentReads: 8, // At most 8 protocol balance reads in flight.
	// Rationale: Balance reads hit public RPC endpoints that rate limit aggressively.
}
