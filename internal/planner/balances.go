package planner

import (
	"context"
	"fmt"

	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// readBalances reads the USD balance of every entry concurrently. The result is indexed
// like entries.
func (p *Planner) readBalances(ctx context.Context, entries []strategy.Entry, owner common.Address, prices types.PriceTable, prog *progress) ([]float64, error) {
	balances := make([]float64, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxConcurrentReads > 0 {
		g.SetLimit(p.cfg.MaxConcurrentReads)
	}
	for i, entry := range entries {
		g.Go(func() error {
			balance, err := entry.Allocation.Protocol.USDBalanceOf(gctx, owner, prices)
			if err != nil {
				return capabilityError("usdBalanceOf", entry, err)
			}
			if !isFinite(balance) || balance < 0 {
				return capabilityError("usdBalanceOf", entry, fmt.Errorf("%w: %f", ErrInvalidBalance, balance))
			}
			balances[i] = balance
			prog.report(entry.ProtocolID()+"-balance", 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

// ProtocolBalance is the USD balance of one allocation.
type ProtocolBalance struct {
	ProtocolID string  `json:"protocol_id"`
	Category   string  `json:"category"`
	Chain      string  `json:"chain"`
	Weight     float64 `json:"weight"`
	USDBalance float64 `json:"usd_balance"`
}

// USDBalance returns the owner's total USD balance over every allocation of tree.
func (p *Planner) USDBalance(ctx context.Context, tree strategy.Tree, owner common.Address) (float64, []ProtocolBalance, error) {
	prices, err := p.prices(ctx)
	if err != nil {
		return 0, nil, err
	}
	return p.usdBalance(ctx, tree, owner, prices)
}

func (p *Planner) usdBalance(ctx context.Context, tree strategy.Tree, owner common.Address, prices types.PriceTable) (float64, []ProtocolBalance, error) {
	entries := tree.Flatten()
	balances, err := p.readBalances(ctx, entries, owner, prices, nil)
	if err != nil {
		return 0, nil, err
	}
	total := 0.0
	out := make([]ProtocolBalance, len(entries))
	for i, e := range entries {
		total += balances[i]
		out[i] = ProtocolBalance{
			ProtocolID: e.ProtocolID(),
			Category:   e.Category,
			Chain:      e.Chain,
			Weight:     e.Allocation.Weight,
			USDBalance: balances[i],
		}
	}
	return total, out, nil
}

// PendingRewards merges the unclaimed rewards of every allocation with a nonzero weight by
// reward token address.
func (p *Planner) PendingRewards(ctx context.Context, tree strategy.Tree, owner common.Address) (map[common.Address]types.RewardBalance, error) {
	prices, err := p.prices(ctx)
	if err != nil {
		return nil, err
	}
	return p.pendingRewards(ctx, tree, owner, prices)
}

func (p *Planner) pendingRewards(ctx context.Context, tree strategy.Tree, owner common.Address, prices types.PriceTable) (map[common.Address]types.RewardBalance, error) {
	var entries []strategy.Entry
	for _, e := range tree.Flatten() {
		if e.Allocation.Weight > 0 {
			entries = append(entries, e)
		}
	}

	results := make([]map[common.Address]types.RewardBalance, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxConcurrentReads > 0 {
		g.SetLimit(p.cfg.MaxConcurrentReads)
	}
	for i, entry := range entries {
		g.Go(func() error {
			rewards, err := entry.Allocation.Protocol.PendingRewards(gctx, owner, prices)
			if err != nil {
				return capabilityError("pendingRewards", entry, err)
			}
			results[i] = rewards
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[common.Address]types.RewardBalance)
	for _, rewards := range results {
		mergeRewards(merged, rewards)
	}
	return merged, nil
}

// BalanceBreakdown compares an allocation's current share of the portfolio with its target.
type BalanceBreakdown struct {
	ProtocolBalance
	CurrentWeight float64 `json:"current_weight"`
	WeightDiff    float64 `json:"weight_diff"`
	// ExitPercentage is the fraction of the position to withdraw to get back to target,
	// 1 for zero-weight allocations and 0 when within the rebalance threshold.
	ExitPercentage float64 `json:"exit_percentage"`
}

// Breakdown is the portfolio overview: total USD value including pending rewards, the
// reward value and the per-allocation drift from target.
type Breakdown struct {
	TotalUSD   float64            `json:"total_usd"`
	RewardsUSD float64            `json:"rewards_usd"`
	Protocols  []BalanceBreakdown `json:"protocols"`
}

// Breakdown reads balances and rewards and reports how far each allocation drifted.
func (p *Planner) Breakdown(ctx context.Context, tree strategy.Tree, owner common.Address) (*Breakdown, error) {
	prices, err := p.prices(ctx)
	if err != nil {
		return nil, err
	}

	var (
		balanceTotal float64
		balances     []ProtocolBalance
		rewards      map[common.Address]types.RewardBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balanceTotal, balances, err = p.usdBalance(gctx, tree, owner, prices)
		return err
	})
	g.Go(func() error {
		var err error
		rewards, err = p.pendingRewards(gctx, tree, owner, prices)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Breakdown{}
	for _, r := range rewards {
		out.RewardsUSD += r.USDValue
	}
	out.TotalUSD = balanceTotal + out.RewardsUSD

	threshold := p.cfg.RebalanceThreshold
	for _, b := range balances {
		row := BalanceBreakdown{ProtocolBalance: b}
		if out.TotalUSD > 0 {
			row.CurrentWeight = b.USDBalance / out.TotalUSD
		}
		row.WeightDiff = row.CurrentWeight - b.Weight
		switch {
		case b.Weight == 0:
			row.ExitPercentage = 1
		case row.WeightDiff > threshold && b.USDBalance > 0:
			row.ExitPercentage = row.WeightDiff * out.TotalUSD / b.USDBalance
		}
		out.Protocols = append(out.Protocols, row)
	}
	return out, nil
}

func (p *Planner) prices(ctx context.Context) (types.PriceTable, error) {
	prices, err := p.oracle.TokenPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPriceOracle, err)
	}
	return prices.Normalized(), nil
}
