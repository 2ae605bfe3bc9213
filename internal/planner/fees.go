package planner

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
)

const (
	labelReferralFee = "swap-fee/referral"
	labelTreasuryFee = "swap-fee/treasury"
)

// feeTransactions moves fee of token out of the owner's wallet. When owner has a referrer,
// ReferralFeeRate of the fee goes to the referrer first and the rest to the treasury.
func (r *execution) feeTransactions(ctx context.Context, token types.TokenMeta, fee sdkmath.Int) ([]types.TransactionIntent, error) {
	if fee.IsNil() || !fee.IsPositive() {
		return nil, nil
	}
	cfg := r.planner.cfg
	platformFee := fee

	var txs []types.TransactionIntent
	if r.planner.referrals != nil {
		referrer, ok, err := r.planner.referrals.Referrer(ctx, r.params.Owner)
		if err != nil {
			return nil, fmt.Errorf("resolve referrer: %w", err)
		}
		if ok {
			referralFee := utils.MulDec(fee, cfg.ReferralFeeRate)
			platformFee = fee.Sub(referralFee)
			if referralFee.IsPositive() {
				tx, err := r.planner.builder.Transfer(token, referrer, referralFee, labelReferralFee)
				if err != nil {
					return nil, fmt.Errorf("referral fee transfer: %w", err)
				}
				txs = append(txs, tx)
			}
		}
	}

	if platformFee.IsPositive() {
		tx, err := r.planner.builder.Transfer(token, cfg.Treasury, platformFee, labelTreasuryFee)
		if err != nil {
			return nil, fmt.Errorf("treasury fee transfer: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
