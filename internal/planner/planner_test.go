package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/metrics"
	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
	"github.com/elys-network/vaultengine/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	treasury = common.HexToAddress("0x2222222222222222222222222222222222222222")
	referrer = common.HexToAddress("0x3333333333333333333333333333333333333333")
	usdc     = types.TokenMeta{Symbol: "USDC", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6, Chain: "arbitrum"}
	weth     = types.TokenMeta{Symbol: "weth", Address: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), Decimals: 18, Chain: "arbitrum"}
)

type fakeProtocol struct {
	id         string
	balance    float64
	balanceErr error
	depositErr  error
	withdrawErr error
	claimErr    error
	loss       float64
	minOut     sdkmath.Int
	rewards    map[string]types.RewardBalance
	pending    map[common.Address]types.RewardBalance

	mu          sync.Mutex
	deposits    []sdkmath.Int
	withdrawals []float64
	outputs     []string
	claims      int
}

func (f *fakeProtocol) UniqueID() string { return f.id }

func (f *fakeProtocol) Deposit(_ context.Context, _ common.Address, amountIn sdkmath.Int, _ types.TokenMeta, _ types.PriceTable, _ float64) ([]types.TransactionIntent, float64, error) {
	if f.depositErr != nil {
		return nil, 0, f.depositErr
	}
	f.mu.Lock()
	f.deposits = append(f.deposits, amountIn)
	f.mu.Unlock()
	return []types.TransactionIntent{
		{Label: f.id + "/approve", Chain: "arbitrum"},
		{Label: f.id + "/deposit", Chain: "arbitrum"},
	}, f.loss, nil
}

func (f *fakeProtocol) WithdrawAndClaim(_ context.Context, _ common.Address, percentage float64, output types.TokenMeta, _ float64, _ types.PriceTable) (types.WithdrawResult, error) {
	if f.withdrawErr != nil {
		return types.WithdrawResult{}, f.withdrawErr
	}
	f.mu.Lock()
	f.withdrawals = append(f.withdrawals, percentage)
	f.outputs = append(f.outputs, output.Symbol)
	f.mu.Unlock()
	return types.WithdrawResult{
		Transactions: []types.TransactionIntent{{Label: f.id + "/withdraw", Chain: "arbitrum"}},
		OutputToken:  output,
		MinOut:       f.minOut,
		TradingLoss:  f.loss,
	}, nil
}

func (f *fakeProtocol) Claim(context.Context, common.Address, types.PriceTable) ([]types.TransactionIntent, map[string]types.RewardBalance, error) {
	if f.claimErr != nil {
		return nil, nil, f.claimErr
	}
	f.mu.Lock()
	f.claims++
	f.mu.Unlock()
	return []types.TransactionIntent{{Label: f.id + "/claim", Chain: "arbitrum"}}, f.rewards, nil
}

func (f *fakeProtocol) USDBalanceOf(context.Context, common.Address, types.PriceTable) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeProtocol) PendingRewards(context.Context, common.Address, types.PriceTable) (map[common.Address]types.RewardBalance, error) {
	return f.pending, nil
}

type staticReferrals map[common.Address]common.Address

func (s staticReferrals) Referrer(_ context.Context, who common.Address) (common.Address, bool, error) {
	r, ok := s[who]
	return r, ok, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Treasury = treasury
	cfg.IntermediateToken = usdc
	return cfg
}

func newTestPlanner(t *testing.T, opts ...Option) *Planner {
	t.Helper()
	p, err := New(testConfig(), types.StaticOracle{"usdc": 1, "weth": 2500}, opts...)
	require.NoError(t, err)
	return p
}

func normalized(t *testing.T, build func(*strategy.Tree), mapping strategy.WeightMapping) strategy.Tree {
	t.Helper()
	var raw strategy.Tree
	build(&raw)
	tree, _, err := strategy.Normalize(raw, mapping)
	require.NoError(t, err)
	return tree
}

func labels(txs []types.TransactionIntent) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Label
	}
	return out
}

func decodeFee(t *testing.T, tx types.TransactionIntent) (common.Address, string) {
	t.Helper()
	tb, err := wallet.NewTransactionBuilder()
	require.NoError(t, err)
	to, amount, err := tb.DecodeTransfer(tx.Data)
	require.NoError(t, err)
	return to, amount.String()
}

func TestExecute_DepositSplitsAfterFee(t *testing.T) {
	a := &fakeProtocol{id: "A", loss: 1.25}
	b := &fakeProtocol{id: "B", loss: 0.75}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 0.6)
		tr.Add("gold", "arbitrum", b, 0.4)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner:      owner,
		Amount:     sdkmath.NewInt(1_000_000_000),
		InputToken: usdc,
		Slippage:   0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{labelTreasuryFee, "A/approve", "A/deposit", "B/approve", "B/deposit"}, labels(plan.Transactions))
	to, amount := decodeFee(t, plan.Transactions[0])
	assert.Equal(t, treasury, to)
	assert.Equal(t, "2990000", amount)
	assert.Equal(t, usdc.Address, plan.Transactions[0].To)

	require.Len(t, a.deposits, 1)
	require.Len(t, b.deposits, 1)
	assert.Equal(t, "598206000", a.deposits[0].String())
	assert.Equal(t, "398804000", b.deposits[0].String())

	assert.Equal(t, "2990000", plan.SwapFee.String())
	assert.InDelta(t, 2.99, plan.SwapFeeUSD, 1e-9)
	assert.InDelta(t, 2.0, plan.TradingLossUSD, 1e-9)
	assert.Equal(t, []string{"A", "B"}, plan.ProtocolIDs())
}

func TestExecute_DepositSharesNeverExceedAmount(t *testing.T) {
	protocols := []*fakeProtocol{{id: "p1"}, {id: "p2"}, {id: "p3"}}
	tree := normalized(t, func(tr *strategy.Tree) {
		for _, p := range protocols {
			tr.Add("bond", "op", p, 1)
		}
	}, strategy.WeightMapping{"bond": 1})

	amount := sdkmath.NewInt(999_999)
	plan, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: amount, InputToken: usdc,
	})
	require.NoError(t, err)

	total := plan.SwapFee
	for _, p := range protocols {
		require.Len(t, p.deposits, 1)
		total = total.Add(p.deposits[0])
	}
	assert.True(t, total.LTE(amount))
}

func TestExecute_DepositWithReferral(t *testing.T) {
	a := &fakeProtocol{id: "A"}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
	}, strategy.WeightMapping{"gold": 1})

	p := newTestPlanner(t, WithReferrals(staticReferrals{owner: referrer}))
	plan, err := p.Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(1_000_000_000), InputToken: usdc,
	})
	require.NoError(t, err)

	require.Equal(t, []string{labelReferralFee, labelTreasuryFee, "A/approve", "A/deposit"}, labels(plan.Transactions))
	to, amount := decodeFee(t, plan.Transactions[0])
	assert.Equal(t, referrer, to)
	assert.Equal(t, "2093000", amount)
	to, amount = decodeFee(t, plan.Transactions[1])
	assert.Equal(t, treasury, to)
	assert.Equal(t, "897000", amount)
}

func TestExecute_DepositSkipsZeroWeight(t *testing.T) {
	a := &fakeProtocol{id: "A"}
	idle := &fakeProtocol{id: "idle"}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
		tr.Add("legacy", "arbitrum", idle, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(5_000_000), InputToken: usdc,
	})
	require.NoError(t, err)
	assert.Empty(t, idle.deposits)
	assert.Equal(t, []string{"A"}, plan.ProtocolIDs())
}

func TestExecute_DepositCapabilityFailure(t *testing.T) {
	boom := errors.New("rpc down")
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "A"}, 1)
		tr.Add("gold", "base", &fakeProtocol{id: "B", depositErr: boom}, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(5_000_000), InputToken: usdc,
	})
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrCapabilityFailure)
	assert.ErrorIs(t, err, boom)

	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, "deposit", capErr.Capability)
	assert.Equal(t, "B", capErr.ProtocolID)
	assert.Equal(t, "gold", capErr.Category)
	assert.Equal(t, "base", capErr.Chain)
}

func TestExecute_CapabilityFailurePropagates(t *testing.T) {
	boom := errors.New("rpc down")
	cases := []struct {
		name       string
		action     Action
		params     Params
		failing    *fakeProtocol
		weight     float64
		capability string
	}{
		{
			name:       "withdraw",
			action:     ActionWithdraw,
			params:     Params{Owner: owner, Percentage: 0.5, OutputToken: usdc, Slippage: 1},
			failing:    &fakeProtocol{id: "B", balance: 40, withdrawErr: boom},
			weight:     1,
			capability: "withdrawAndClaim",
		},
		{
			name:       "claim",
			action:     ActionClaim,
			params:     Params{Owner: owner},
			failing:    &fakeProtocol{id: "B", claimErr: boom},
			weight:     1,
			capability: "claim",
		},
		{
			name:       "rebalance exit",
			action:     ActionRebalance,
			params:     Params{Owner: owner, Slippage: 1},
			failing:    &fakeProtocol{id: "B", balance: 40, withdrawErr: boom},
			weight:     0,
			capability: "withdrawAndClaim",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree := normalized(t, func(tr *strategy.Tree) {
				tr.Add("gold", "arbitrum", &fakeProtocol{id: "A", balance: 100}, 1)
				if tc.weight > 0 {
					tr.Add("gold", "base", tc.failing, tc.weight)
				} else {
					tr.Add("legacy", "base", tc.failing, 1)
				}
			}, strategy.WeightMapping{"gold": 1})

			plan, err := newTestPlanner(t).Execute(context.Background(), tc.action, tree, tc.params)
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, ErrCapabilityFailure)
			assert.ErrorIs(t, err, boom)

			var capErr *CapabilityError
			require.True(t, errors.As(err, &capErr))
			assert.Equal(t, tc.capability, capErr.Capability)
			assert.Equal(t, "B", capErr.ProtocolID)
			assert.Equal(t, "base", capErr.Chain)
		})
	}
}

func TestExecute_DepositOrderAcrossCategoriesAndChains(t *testing.T) {
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "g-arb-1"}, 1)
		tr.Add("bond", "base", &fakeProtocol{id: "b-base"}, 1)
		tr.Add("gold", "base", &fakeProtocol{id: "g-base"}, 1)
		tr.Add("bond", "arbitrum", &fakeProtocol{id: "b-arb"}, 1)
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "g-arb-2"}, 1)
	}, strategy.WeightMapping{"gold": 0.5, "bond": 0.5})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(10_000_000), InputToken: usdc,
	})
	require.NoError(t, err)

	// categories in first-seen order, chains grouped within a category
	assert.Equal(t, []string{
		labelTreasuryFee,
		"g-arb-1/approve", "g-arb-1/deposit",
		"g-arb-2/approve", "g-arb-2/deposit",
		"g-base/approve", "g-base/deposit",
		"b-base/approve", "b-base/deposit",
		"b-arb/approve", "b-arb/deposit",
	}, labels(plan.Transactions))
	assert.Equal(t, []string{"g-arb-1", "g-arb-2", "g-base", "b-base", "b-arb"}, plan.ProtocolIDs())
}

func TestExecute_DepositMissingPrice(t *testing.T) {
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "A"}, 1)
	}, strategy.WeightMapping{"gold": 1})

	dai := types.TokenMeta{Symbol: "dai", Address: common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"), Decimals: 18}
	_, err := newTestPlanner(t).Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(5_000_000), InputToken: dai,
	})
	assert.ErrorIs(t, err, ErrMissingPrice)
}

func TestExecute_Withdraw(t *testing.T) {
	a := &fakeProtocol{id: "A", balance: 600, loss: 0.3, minOut: sdkmath.NewInt(299_000_000)}
	dust := &fakeProtocol{id: "dust", balance: 0.5}
	empty := &fakeProtocol{id: "empty"}
	idle := &fakeProtocol{id: "idle", balance: 50}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 0.5)
		tr.Add("gold", "arbitrum", dust, 0.3)
		tr.Add("gold", "base", empty, 0.2)
		tr.Add("legacy", "base", idle, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionWithdraw, tree, Params{
		Owner: owner, Percentage: 0.5, OutputToken: usdc, Slippage: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A/withdraw", "dust/withdraw", labelTreasuryFee}, labels(plan.Transactions))
	assert.Equal(t, []float64{0.5}, a.withdrawals)
	// 0.5 * $0.5 is under the $1 minimum, so the whole position exits
	assert.Equal(t, []float64{1}, dust.withdrawals)
	assert.Empty(t, empty.withdrawals)
	assert.Empty(t, idle.withdrawals)
	assert.Equal(t, []string{"USDC"}, a.outputs)

	assert.InDelta(t, 300.5, plan.WithdrawnUSD, 1e-9)
	// the fee follows the requested 50%, not the raised exit of the dust position
	wantFee, err := utils.Float64ToSDKInt((600*0.5+0.5*0.5)*0.00299, 6)
	require.NoError(t, err)
	_, amount := decodeFee(t, plan.Transactions[2])
	assert.Equal(t, wantFee.String(), amount)
	assert.Equal(t, "299000000", plan.Legs[0].MinOut.String())
	assert.InDelta(t, 0.3, plan.TradingLossUSD, 1e-9)
}

func TestExecute_WithdrawFeeInNonStableOutput(t *testing.T) {
	a := &fakeProtocol{id: "A", balance: 2500}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionWithdraw, tree, Params{
		Owner: owner, Percentage: 1, OutputToken: weth,
	})
	require.NoError(t, err)

	// $2500 * 0.00299 at $2500/weth
	want, err := utils.Float64ToSDKInt(2500*0.00299/2500, 18)
	require.NoError(t, err)
	assert.Equal(t, want.String(), plan.SwapFee.String())
	assert.Equal(t, weth.Address, plan.Transactions[len(plan.Transactions)-1].To)
}

func TestExecute_WithdrawBalanceReadFailure(t *testing.T) {
	boom := errors.New("balance unavailable")
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "A", balance: 10}, 1)
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "B", balanceErr: boom}, 1)
	}, strategy.WeightMapping{"gold": 1})

	_, err := newTestPlanner(t).Execute(context.Background(), ActionWithdraw, tree, Params{
		Owner: owner, Percentage: 0.5, OutputToken: usdc,
	})
	assert.ErrorIs(t, err, boom)
	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, "usdBalanceOf", capErr.Capability)
	assert.Equal(t, "B", capErr.ProtocolID)
}

func TestExecute_ClaimMergesRewards(t *testing.T) {
	a := &fakeProtocol{id: "A", rewards: map[string]types.RewardBalance{
		"arb": {Symbol: "arb", Balance: sdkmath.NewInt(100), USDValue: 1.5, Decimals: 18},
	}}
	b := &fakeProtocol{id: "B", rewards: map[string]types.RewardBalance{
		"arb": {Symbol: "arb", Balance: sdkmath.NewInt(50), USDValue: 0.75, Decimals: 18},
		"gmx": {Symbol: "gmx", Balance: sdkmath.NewInt(7), USDValue: 2, Decimals: 18},
	}}
	idle := &fakeProtocol{id: "idle"}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
		tr.Add("gold", "arbitrum", b, 1)
		tr.Add("legacy", "arbitrum", idle, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionClaim, tree, Params{Owner: owner})
	require.NoError(t, err)

	assert.Equal(t, []string{"A/claim", "B/claim"}, labels(plan.Transactions))
	assert.Zero(t, idle.claims)
	assert.True(t, plan.SwapFee.IsZero())
	require.Len(t, plan.ClaimedRewards, 2)
	assert.Equal(t, "150", plan.ClaimedRewards["arb"].Balance.String())
	assert.InDelta(t, 2.25, plan.ClaimedRewards["arb"].USDValue, 1e-9)
	assert.Equal(t, "7", plan.ClaimedRewards["gmx"].Balance.String())
}

func TestExecute_RebalanceExitsZeroWeight(t *testing.T) {
	a := &fakeProtocol{id: "A", balance: 900}
	old := &fakeProtocol{id: "old", balance: 100}
	gone := &fakeProtocol{id: "gone"}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
		tr.Add("legacy", "arbitrum", old, 1)
		tr.Add("legacy", "base", gone, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionRebalance, tree, Params{
		Owner: owner, Slippage: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"old/withdraw", labelTreasuryFee, "A/approve", "A/deposit"}, labels(plan.Transactions))
	assert.Equal(t, []float64{1}, old.withdrawals)
	assert.Equal(t, []string{"USDC"}, old.outputs)
	assert.Empty(t, gone.withdrawals)
	assert.Empty(t, a.withdrawals)

	assert.InDelta(t, 100, plan.WithdrawnUSD, 1e-9)
	assert.InDelta(t, 99, plan.RealizedUSD, 1e-9)
	// $99 in USDC minus the 0.299% swap fee
	assert.Equal(t, "296010", plan.SwapFee.String())
	require.Len(t, a.deposits, 1)
	assert.Equal(t, "98703990", a.deposits[0].String())
}

func TestExecute_RebalanceNothingToExit(t *testing.T) {
	a := &fakeProtocol{id: "A", balance: 900}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
	}, strategy.WeightMapping{"gold": 1})

	plan, err := newTestPlanner(t).Execute(context.Background(), ActionRebalance, tree, Params{Owner: owner})
	require.NoError(t, err)
	assert.Empty(t, plan.Transactions)
	assert.Empty(t, a.deposits)
}

func TestExecute_ProgressFromConcurrentReads(t *testing.T) {
	var protocols []*fakeProtocol
	tree := normalized(t, func(tr *strategy.Tree) {
		for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
			p := &fakeProtocol{id: id, balance: 100}
			protocols = append(protocols, p)
			tr.Add("gold", "arbitrum", p, 1)
		}
	}, strategy.WeightMapping{"gold": 1})

	var steps []string
	_, err := newTestPlanner(t).Execute(context.Background(), ActionWithdraw, tree, Params{
		Owner: owner, Percentage: 0.1, OutputToken: usdc,
		// appends without locking, safe only because calls are serialized
		Progress: func(step string, _ float64) { steps = append(steps, step) },
	})
	require.NoError(t, err)
	assert.Len(t, steps, 2*len(protocols))
	assert.Contains(t, steps, "p4-balance")
	assert.Contains(t, steps, "p6-withdraw")
}

func TestExecute_InvalidParams(t *testing.T) {
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "A"}, 1)
	}, strategy.WeightMapping{"gold": 1})
	p := newTestPlanner(t)
	ctx := context.Background()

	_, err := p.Execute(ctx, ActionDeposit, tree, Params{Owner: owner, Amount: sdkmath.ZeroInt(), InputToken: usdc})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = p.Execute(ctx, ActionDeposit, tree, Params{Amount: sdkmath.NewInt(1), InputToken: usdc})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = p.Execute(ctx, ActionWithdraw, tree, Params{Owner: owner, Percentage: 1.5, OutputToken: usdc})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = p.Execute(ctx, ActionWithdraw, tree, Params{Owner: owner, Percentage: 0.5, OutputToken: usdc, Slippage: 120})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = p.Execute(ctx, Action("stake"), tree, Params{Owner: owner})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Rebalance ")
	require.NoError(t, err)
	assert.Equal(t, ActionRebalance, a)

	_, err = ParseAction("zapIn")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Treasury = common.Address{}
	_, err := New(cfg, types.StaticOracle{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.SwapFeeRate = sdkmath.LegacyOneDec()
	_, err = New(cfg, types.StaticOracle{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBreakdown(t *testing.T) {
	rewardToken := common.HexToAddress("0x912CE59144191C1204E64559FE8253a0e49E6548")
	a := &fakeProtocol{id: "A", balance: 72, pending: map[common.Address]types.RewardBalance{
		rewardToken: {Symbol: "arb", Balance: sdkmath.NewInt(10), USDValue: 6},
	}}
	b := &fakeProtocol{id: "B", balance: 18, pending: map[common.Address]types.RewardBalance{
		rewardToken: {Symbol: "arb", Balance: sdkmath.NewInt(5), USDValue: 4},
	}}
	idle := &fakeProtocol{id: "idle"}
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", a, 1)
		tr.Add("gold", "arbitrum", b, 1)
		tr.Add("legacy", "arbitrum", idle, 1)
	}, strategy.WeightMapping{"gold": 1})
	p := newTestPlanner(t)

	total, balances, err := p.USDBalance(context.Background(), tree, owner)
	require.NoError(t, err)
	assert.InDelta(t, 90, total, 1e-9)
	require.Len(t, balances, 3)

	rewards, err := p.PendingRewards(context.Background(), tree, owner)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "15", rewards[rewardToken].Balance.String())

	bd, err := p.Breakdown(context.Background(), tree, owner)
	require.NoError(t, err)
	assert.InDelta(t, 100, bd.TotalUSD, 1e-9)
	assert.InDelta(t, 10, bd.RewardsUSD, 1e-9)
	require.Len(t, bd.Protocols, 3)

	assert.InDelta(t, 0.72, bd.Protocols[0].CurrentWeight, 1e-9)
	assert.InDelta(t, 0.22, bd.Protocols[0].WeightDiff, 1e-9)
	assert.InDelta(t, 0.22*100/72, bd.Protocols[0].ExitPercentage, 1e-9)
	assert.InDelta(t, -0.32, bd.Protocols[1].WeightDiff, 1e-9)
	assert.Zero(t, bd.Protocols[1].ExitPercentage)
	assert.Equal(t, 1.0, bd.Protocols[2].ExitPercentage)
}

func TestExecute_RecordsMetrics(t *testing.T) {
	reg, err := metrics.NewRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	tree := normalized(t, func(tr *strategy.Tree) {
		tr.Add("gold", "arbitrum", &fakeProtocol{id: "A", loss: 0.4}, 1)
	}, strategy.WeightMapping{"gold": 1})

	p := newTestPlanner(t, WithMetrics(reg))
	_, err = p.Execute(context.Background(), ActionDeposit, tree, Params{
		Owner: owner, Amount: sdkmath.NewInt(1_000_000), InputToken: usdc,
	})
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), ActionDeposit, tree, Params{Owner: owner, InputToken: usdc})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Actions.WithLabelValues("deposit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Actions.WithLabelValues("deposit", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.Transactions.WithLabelValues("deposit")))
	assert.InDelta(t, 0.4, testutil.ToFloat64(reg.TradingLoss.WithLabelValues("deposit")), 1e-9)
}
