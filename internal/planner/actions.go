package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
)

// execution is the state of one Execute call.
type execution struct {
	planner  *Planner
	tree     strategy.Tree
	params   Params
	prices   types.PriceTable
	progress *progress
	plan     *Plan
}

// deposit charges the swap fee on amount and splits the remainder over every allocation
// with a nonzero weight. Fee transfers come first, then each allocation's transactions in
// tree order.
func (r *execution) deposit(ctx context.Context, input types.TokenMeta, amount sdkmath.Int) error {
	fee := utils.MulDec(amount, r.planner.cfg.SwapFeeRate)
	afterFee := amount.Sub(fee)

	if fee.IsPositive() {
		price, err := r.price(input.Symbol)
		if err != nil {
			return err
		}
		feeTxs, err := r.feeTransactions(ctx, input, fee)
		if err != nil {
			return err
		}
		feeAmount, err := utils.SDKIntToFloat64(fee, input.Decimals)
		if err != nil {
			return fmt.Errorf("swap fee value: %w", err)
		}
		r.plan.Transactions = append(r.plan.Transactions, feeTxs...)
		r.plan.SwapFee = r.plan.SwapFee.Add(fee)
		r.plan.SwapFeeUSD += feeAmount * price
	}

	plannerLogger.Debug().
		Str("token", input.Symbol).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("Deposit fee extracted")

	// ===== SPLIT ACROSS ALLOCATIONS =====
	for _, entry := range r.tree.Flatten() {
		if entry.Allocation.Weight == 0 {
			continue
		}
		share, err := utils.MulBasisPoints(afterFee, entry.Allocation.Weight)
		if err != nil {
			return fmt.Errorf("share of %s: %w", entry.ProtocolID(), err)
		}
		if share.IsZero() {
			plannerLogger.Debug().Str("protocol", entry.ProtocolID()).Msg("Share truncated to zero, skipping")
			continue
		}

		txs, loss, err := entry.Allocation.Protocol.Deposit(ctx, r.params.Owner, share, input, r.prices, r.params.Slippage)
		if err != nil {
			return capabilityError("deposit", entry, err)
		}
		if !isFinite(loss) {
			return capabilityError("deposit", entry, fmt.Errorf("trading loss is %f", loss))
		}

		r.plan.Transactions = append(r.plan.Transactions, txs...)
		r.plan.TradingLossUSD += loss
		r.plan.Legs = append(r.plan.Legs, Leg{
			ProtocolID:   entry.ProtocolID(),
			Category:     entry.Category,
			Chain:        entry.Chain,
			Transactions: len(txs),
			TradingLoss:  loss,
			AmountIn:     share,
		})
		r.progress.report(entry.ProtocolID()+"-deposit", loss)
	}
	return nil
}

// withdraw exits params.Percentage of every funded allocation with a nonzero weight and
// appends the swap fee sized on the requested share of each USD balance. Raising a small
// exit to the minimum does not raise the fee.
func (r *execution) withdraw(ctx context.Context) error {
	entries := r.entries(func(e strategy.Entry) bool { return e.Allocation.Weight > 0 })

	balances, err := r.planner.readBalances(ctx, entries, r.params.Owner, r.prices, r.progress)
	if err != nil {
		return err
	}

	minUSD := r.planner.cfg.MinWithdrawUSD
	feeBaseUSD := 0.0
	for i, entry := range entries {
		balance := balances[i]
		if balance == 0 {
			continue
		}
		pct := r.params.Percentage
		if balance*pct < minUSD {
			// small exits pay too much slippage, so at least minUSD is withdrawn
			pct = math.Min(1, minUSD/balance)
		}

		res, err := entry.Allocation.Protocol.WithdrawAndClaim(ctx, r.params.Owner, pct, r.params.OutputToken, r.params.Slippage, r.prices)
		if err != nil {
			return capabilityError("withdrawAndClaim", entry, err)
		}
		if !isFinite(res.TradingLoss) {
			return capabilityError("withdrawAndClaim", entry, fmt.Errorf("trading loss is %f", res.TradingLoss))
		}

		r.appendWithdrawLeg(entry, res, pct, balance)
		feeBaseUSD += balance * r.params.Percentage
	}

	return r.withdrawFee(ctx, feeBaseUSD)
}

func (r *execution) appendWithdrawLeg(entry strategy.Entry, res types.WithdrawResult, pct, balance float64) {
	r.plan.Transactions = append(r.plan.Transactions, res.Transactions...)
	r.plan.TradingLossUSD += res.TradingLoss
	r.plan.WithdrawnUSD += balance * pct
	r.plan.Legs = append(r.plan.Legs, Leg{
		ProtocolID:   entry.ProtocolID(),
		Category:     entry.Category,
		Chain:        entry.Chain,
		Transactions: len(res.Transactions),
		TradingLoss:  res.TradingLoss,
		Percentage:   pct,
		MinOut:       res.MinOut,
		USDBalance:   balance,
	})
	r.progress.report(entry.ProtocolID()+"-withdraw", res.TradingLoss)
}

func (r *execution) withdrawFee(ctx context.Context, baseUSD float64) error {
	feeUSD := baseUSD * feeRateFloat(r.planner.cfg.SwapFeeRate)
	if feeUSD <= 0 {
		return nil
	}
	output := r.params.OutputToken
	price, err := r.price(output.Symbol)
	if err != nil {
		return err
	}
	fee, err := utils.Float64ToSDKInt(feeUSD/price, output.Decimals)
	if err != nil {
		return fmt.Errorf("withdraw fee amount: %w", err)
	}
	if fee.IsZero() {
		return nil
	}
	feeTxs, err := r.feeTransactions(ctx, output, fee)
	if err != nil {
		return err
	}
	r.plan.Transactions = append(r.plan.Transactions, feeTxs...)
	r.plan.SwapFee = r.plan.SwapFee.Add(fee)
	r.plan.SwapFeeUSD += feeUSD
	return nil
}

// claim collects pending rewards of every allocation with a nonzero weight. No fee is charged.
func (r *execution) claim(ctx context.Context) error {
	claimed := make(map[string]types.RewardBalance)
	for _, entry := range r.entries(func(e strategy.Entry) bool { return e.Allocation.Weight > 0 }) {
		txs, rewards, err := entry.Allocation.Protocol.Claim(ctx, r.params.Owner, r.prices)
		if err != nil {
			return capabilityError("claim", entry, err)
		}
		mergeRewards(claimed, rewards)

		r.plan.Transactions = append(r.plan.Transactions, txs...)
		r.plan.Legs = append(r.plan.Legs, Leg{
			ProtocolID:   entry.ProtocolID(),
			Category:     entry.Category,
			Chain:        entry.Chain,
			Transactions: len(txs),
		})
		r.progress.report(entry.ProtocolID()+"-claim", 0)
	}
	r.plan.ClaimedRewards = claimed
	return nil
}

// rebalance exits every funded allocation whose weight is zero into the intermediate token
// and deposits the realized value, net of slippage, through the deposit pipeline.
func (r *execution) rebalance(ctx context.Context) error {
	cfg := r.planner.cfg
	entries := r.entries(func(e strategy.Entry) bool { return e.Allocation.Weight == 0 })

	// ===== EXIT ZERO-WEIGHT ALLOCATIONS =====
	balances, err := r.planner.readBalances(ctx, entries, r.params.Owner, r.prices, r.progress)
	if err != nil {
		return err
	}

	realized := 0.0
	for i, entry := range entries {
		balance := balances[i]
		if balance == 0 {
			continue
		}
		res, err := entry.Allocation.Protocol.WithdrawAndClaim(ctx, r.params.Owner, 1, cfg.IntermediateToken, r.params.Slippage, r.prices)
		if err != nil {
			return capabilityError("withdrawAndClaim", entry, err)
		}
		if !isFinite(res.TradingLoss) {
			return capabilityError("withdrawAndClaim", entry, fmt.Errorf("trading loss is %f", res.TradingLoss))
		}
		r.appendWithdrawLeg(entry, res, 1, balance)
		realized += balance * (100 - r.params.Slippage) / 100
	}
	r.plan.RealizedUSD = realized

	plannerLogger.Info().
		Float64("withdrawnUSD", r.plan.WithdrawnUSD).
		Float64("realizedUSD", realized).
		Msg("Rebalance exit phase complete")

	if realized <= 0 {
		return nil
	}

	// ===== RE-ENTER THROUGH DEPOSIT =====
	price, err := r.price(cfg.IntermediateToken.Symbol)
	if err != nil {
		return err
	}
	amount, err := utils.Float64ToSDKInt(realized/price, cfg.IntermediateToken.Decimals)
	if err != nil {
		return fmt.Errorf("rebalance deposit amount: %w", err)
	}
	if amount.IsZero() {
		return nil
	}
	return r.deposit(ctx, cfg.IntermediateToken, amount)
}

func (r *execution) entries(keep func(strategy.Entry) bool) []strategy.Entry {
	var out []strategy.Entry
	for _, e := range r.tree.Flatten() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *execution) price(symbol string) (float64, error) {
	price, ok := r.prices.Price(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingPrice, symbol)
	}
	if !isFinite(price) || price <= 0 {
		return 0, errors.Join(ErrMissingPrice, fmt.Errorf("price of %s is %f", symbol, price))
	}
	return price, nil
}

// mergeRewards adds rewards into into, summing balances and USD values per key.
func mergeRewards[K comparable](into, rewards map[K]types.RewardBalance) {
	for key, reward := range rewards {
		existing, ok := into[key]
		if !ok {
			if reward.Balance.IsNil() {
				reward.Balance = sdkmath.ZeroInt()
			}
			into[key] = reward
			continue
		}
		if !reward.Balance.IsNil() {
			existing.Balance = existing.Balance.Add(reward.Balance)
		}
		existing.USDValue += reward.USDValue
		into[key] = existing
	}
}

func feeRateFloat(rate sdkmath.LegacyDec) float64 {
	f, err := rate.Float64()
	if err != nil {
		return 0
	}
	return f
}
