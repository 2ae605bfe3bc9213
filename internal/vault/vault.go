package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidVaultName = errors.New("vault name is invalid")
	ErrNilPlanner       = errors.New("planner is nil")
	ErrJournalFailed    = errors.New("plan journal failed")
)

var vaultLogger = logger.GetForComponent("vault")

// Vault owns one normalized strategy. The strategy is validated once in New and is
// read-only afterwards.
type Vault struct {
	name    string
	tree    strategy.Tree
	mapping strategy.WeightMapping
	planner *planner.Planner
	journal Journal
}

type Option func(*Vault)

// WithJournal records every successful plan in j.
func WithJournal(j Journal) Option {
	return func(v *Vault) { v.journal = j }
}

// New normalizes raw against mapping. A vault is only returned when every strategy
// invariant holds.
func New(name string, raw strategy.Tree, mapping strategy.WeightMapping, p *planner.Planner, opts ...Option) (*Vault, error) {
	if name == "" {
		return nil, ErrInvalidVaultName
	}
	if p == nil {
		return nil, ErrNilPlanner
	}

	tree, validated, err := strategy.Normalize(raw, mapping)
	if err != nil {
		vaultLogger.Error().Err(err).Str("vault", name).Msg("Strategy validation failed")
		return nil, fmt.Errorf("vault %s: %w", name, err)
	}

	v := &Vault{name: name, tree: tree, mapping: validated, planner: p}
	for _, opt := range opts {
		opt(v)
	}

	vaultLogger.Info().
		Str("vault", name).
		Int("categories", len(tree.Categories)).
		Int("allocations", tree.Len()).
		Msg("Vault constructed")
	return v, nil
}

func (v *Vault) Name() string { return v.name }

// Strategy returns a copy of the normalized strategy.
func (v *Vault) Strategy() strategy.Tree {
	return v.tree.Clone()
}

// WeightMapping returns a copy of the validated category weights.
func (v *Vault) WeightMapping() strategy.WeightMapping {
	out := make(strategy.WeightMapping, len(v.mapping))
	for k, w := range v.mapping {
		out[k] = w
	}
	return out
}

// Export returns a category's normalized bucket for import into another vault.
func (v *Vault) Export(category string) strategy.ChainBucket {
	return v.tree.Bucket(category)
}

// Deposit plans a deposit of params.Amount of params.InputToken.
func (v *Vault) Deposit(ctx context.Context, params planner.Params) (*planner.Plan, error) {
	return v.run(ctx, planner.ActionDeposit, params)
}

// Withdraw plans the exit of params.Percentage of every position into params.OutputToken.
func (v *Vault) Withdraw(ctx context.Context, params planner.Params) (*planner.Plan, error) {
	return v.run(ctx, planner.ActionWithdraw, params)
}

// ClaimAndSwap plans claiming every pending reward.
func (v *Vault) ClaimAndSwap(ctx context.Context, params planner.Params) (*planner.Plan, error) {
	return v.run(ctx, planner.ActionClaim, params)
}

// Rebalance plans exiting zero-weight positions and redepositing the proceeds.
func (v *Vault) Rebalance(ctx context.Context, params planner.Params) (*planner.Plan, error) {
	return v.run(ctx, planner.ActionRebalance, params)
}

// Execute plans an action given by name.
func (v *Vault) Execute(ctx context.Context, action planner.Action, params planner.Params) (*planner.Plan, error) {
	return v.run(ctx, action, params)
}

// run plans the action and journals it. When only the journal fails the plan is still
// returned alongside an ErrJournalFailed error.
func (v *Vault) run(ctx context.Context, action planner.Action, params planner.Params) (*planner.Plan, error) {
	plan, err := v.planner.Execute(ctx, action, v.tree, params)
	if err != nil {
		return nil, fmt.Errorf("vault %s %s: %w", v.name, action, err)
	}
	if v.journal == nil {
		return plan, nil
	}
	if err := v.journal.SavePlan(ctx, v.name, params.Owner, plan); err != nil {
		vaultLogger.Warn().Err(err).Str("vault", v.name).Str("action", string(action)).Msg("Failed to journal plan")
		return plan, fmt.Errorf("%w: %w", ErrJournalFailed, err)
	}
	return plan, nil
}

// USDBalance returns owner's total balance and the per-allocation split.
func (v *Vault) USDBalance(ctx context.Context, owner common.Address) (float64, []planner.ProtocolBalance, error) {
	return v.planner.USDBalance(ctx, v.tree, owner)
}

// PendingRewards returns owner's unclaimed rewards merged by reward token.
func (v *Vault) PendingRewards(ctx context.Context, owner common.Address) (map[common.Address]types.RewardBalance, error) {
	return v.planner.PendingRewards(ctx, v.tree, owner)
}

// Breakdown reports owner's drift from the target weights.
func (v *Vault) Breakdown(ctx context.Context, owner common.Address) (*planner.Breakdown, error) {
	return v.planner.Breakdown(ctx, v.tree, owner)
}
