package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/metrics"
	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
	"github.com/elys-network/vaultengine/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrCapabilityFailure = errors.New("protocol capability failed")
	ErrMissingPrice      = errors.New("token price is missing")
	ErrInvalidParams     = errors.New("action parameters are invalid")
	ErrUnknownAction     = errors.New("action is unknown")
	ErrInvalidConfig     = errors.New("planner configuration is invalid")
	ErrPriceOracle       = errors.New("price oracle failed")
	ErrInvalidBalance    = errors.New("protocol reported an invalid balance")
)

var plannerLogger = logger.GetForComponent("action_planner")

type Action string

const (
	ActionDeposit   Action = "deposit"
	ActionWithdraw  Action = "withdraw"
	ActionClaim     Action = "claim"
	ActionRebalance Action = "rebalance"
)

// ParseAction maps a name such as "Deposit" onto an Action.
func ParseAction(name string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(name))); a {
	case ActionDeposit, ActionWithdraw, ActionClaim, ActionRebalance:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// ProgressFunc receives advisory progress from every branch of an action. Calls are
// serialized by the planner; their order across protocols is not defined.
type ProgressFunc func(step string, tradingLoss float64)

// Params carries the user intent of one action. Only the fields of the chosen action are read.
type Params struct {
	Owner common.Address

	// Deposit
	Amount     sdkmath.Int
	InputToken types.TokenMeta

	// Withdraw
	Percentage  float64
	OutputToken types.TokenMeta

	// Slippage in percent, e.g. 0.5 for 0.5%.
	Slippage float64

	Progress ProgressFunc
}

// Config is process-wide and fixed once the planner is built.
type Config struct {
	SwapFeeRate        sdkmath.LegacyDec
	ReferralFeeRate    sdkmath.LegacyDec
	Treasury           common.Address
	IntermediateToken  types.TokenMeta
	MinWithdrawUSD     float64
	RebalanceThreshold float64
	MaxConcurrentReads int
}

// DefaultConfig returns the production fee schedule with an unset treasury.
func DefaultConfig() Config {
	return Config{
		SwapFeeRate:        sdkmath.LegacyNewDecWithPrec(299, 5),
		ReferralFeeRate:    sdkmath.LegacyNewDecWithPrec(7, 1),
		MinWithdrawUSD:     1,
		RebalanceThreshold: 0.05,
		MaxConcurrentReads: 8,
		IntermediateToken: types.TokenMeta{
			Symbol:   "usdc",
			Address:  common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
			Decimals: 6,
			Chain:    "arbitrum",
		},
	}
}

// WithParameters returns c with the tunable fields replaced by p.
func (c Config) WithParameters(p types.FeeParameters) Config {
	if !p.SwapFeeRate.IsNil() {
		c.SwapFeeRate = p.SwapFeeRate
	}
	if !p.ReferralFeeRate.IsNil() {
		c.ReferralFeeRate = p.ReferralFeeRate
	}
	c.MinWithdrawUSD = p.MinWithdrawUSD
	c.RebalanceThreshold = p.RebalanceThreshold
	c.MaxConcurrentReads = p.MaxConcurrentReads
	return c
}

// Parameters extracts the tunable fields of c.
func (c Config) Parameters() types.FeeParameters {
	return types.FeeParameters{
		SwapFeeRate:        c.SwapFeeRate,
		ReferralFeeRate:    c.ReferralFeeRate,
		MinWithdrawUSD:     c.MinWithdrawUSD,
		RebalanceThreshold: c.RebalanceThreshold,
		MaxConcurrentReads: c.MaxConcurrentReads,
	}
}

// ReferralResolver looks up who referred owner, if anyone.
type ReferralResolver interface {
	Referrer(ctx context.Context, owner common.Address) (common.Address, bool, error)
}

// Leg is the part of a plan produced by one allocation.
type Leg struct {
	ProtocolID   string      `json:"protocol_id"`
	Category     string      `json:"category"`
	Chain        string      `json:"chain"`
	Transactions int         `json:"transactions"`
	TradingLoss  float64     `json:"trading_loss"`
	AmountIn     sdkmath.Int `json:"amount_in,omitempty"`
	Percentage   float64     `json:"percentage,omitempty"`
	MinOut       sdkmath.Int `json:"min_out,omitempty"`
	USDBalance   float64     `json:"usd_balance,omitempty"`
}

// Plan is the ordered, unsigned result of one action.
type Plan struct {
	Action         Action                         `json:"action"`
	Transactions   []types.TransactionIntent      `json:"transactions"`
	Legs           []Leg                          `json:"legs"`
	TradingLossUSD float64                        `json:"trading_loss_usd"`
	SwapFee        sdkmath.Int                    `json:"swap_fee"`
	SwapFeeUSD     float64                        `json:"swap_fee_usd"`
	WithdrawnUSD   float64                        `json:"withdrawn_usd"`
	RealizedUSD    float64                        `json:"realized_usd"`
	ClaimedRewards map[string]types.RewardBalance `json:"claimed_rewards,omitempty"`
}

// ProtocolIDs lists the protocols that contributed a leg, in plan order.
func (p *Plan) ProtocolIDs() []string {
	ids := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		ids = append(ids, leg.ProtocolID)
	}
	return ids
}

// CapabilityError wraps a failing ProtocolHandle call with the allocation it was made for.
// It matches both ErrCapabilityFailure and the underlying error.
type CapabilityError struct {
	Capability string
	ProtocolID string
	Category   string
	Chain      string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s of %s (category=%s chain=%s): %v",
		ErrCapabilityFailure, e.Capability, e.ProtocolID, e.Category, e.Chain, e.Err)
}

func (e *CapabilityError) Unwrap() []error {
	return []error{ErrCapabilityFailure, e.Err}
}

func capabilityError(capability string, entry strategy.Entry, err error) error {
	return &CapabilityError{
		Capability: capability,
		ProtocolID: entry.ProtocolID(),
		Category:   entry.Category,
		Chain:      entry.Chain,
		Err:        err,
	}
}

// Planner turns one action on a normalized strategy into an ordered transaction list.
type Planner struct {
	cfg       Config
	oracle    types.PriceOracle
	builder   *wallet.TransactionBuilder
	referrals ReferralResolver
	metrics   *metrics.Registry
}

type Option func(*Planner)

func WithReferrals(r ReferralResolver) Option {
	return func(p *Planner) { p.referrals = r }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(p *Planner) { p.metrics = m }
}

// New validates cfg and builds a Planner.
func New(cfg Config, oracle types.PriceOracle, opts ...Option) (*Planner, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("price oracle is nil"))
	}
	builder, err := wallet.NewTransactionBuilder()
	if err != nil {
		return nil, err
	}
	p := &Planner{cfg: cfg, oracle: oracle, builder: builder}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func validateConfig(cfg Config) error {
	if cfg.SwapFeeRate.IsNil() || cfg.SwapFeeRate.IsNegative() || cfg.SwapFeeRate.GTE(sdkmath.LegacyOneDec()) {
		return errors.Join(ErrInvalidConfig, errors.New("swap fee rate must be within [0, 1)"))
	}
	if cfg.ReferralFeeRate.IsNil() || cfg.ReferralFeeRate.IsNegative() || cfg.ReferralFeeRate.GT(sdkmath.LegacyOneDec()) {
		return errors.Join(ErrInvalidConfig, errors.New("referral fee rate must be within [0, 1]"))
	}
	if cfg.Treasury == (common.Address{}) {
		return errors.Join(ErrInvalidConfig, errors.New("treasury address is not set"))
	}
	if cfg.IntermediateToken.Symbol == "" {
		return errors.Join(ErrInvalidConfig, errors.New("intermediate token is not set"))
	}
	if cfg.IntermediateToken.Decimals < 0 || cfg.IntermediateToken.Decimals > utils.MaxPrecision {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("intermediate token decimals %d out of range", cfg.IntermediateToken.Decimals))
	}
	if !isFinite(cfg.MinWithdrawUSD) || cfg.MinWithdrawUSD < 0 {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("minimum withdrawal %f is invalid", cfg.MinWithdrawUSD))
	}
	if !isFinite(cfg.RebalanceThreshold) || cfg.RebalanceThreshold < 0 || cfg.RebalanceThreshold > 1 {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("rebalance threshold %f is invalid", cfg.RebalanceThreshold))
	}
	return nil
}

// Config returns the planner configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Execute plans action on tree. tree must already be normalized. The price table is
// fetched once and shared by every allocation. Any capability failure aborts the action
// and no partial plan is returned.
func (p *Planner) Execute(ctx context.Context, action Action, tree strategy.Tree, params Params) (plan *Plan, err error) {
	started := time.Now()
	defer func() {
		txCount, loss := 0, 0.0
		if plan != nil {
			txCount, loss = len(plan.Transactions), plan.TradingLossUSD
		}
		p.metrics.ObserveAction(string(action), started, txCount, loss, err)
	}()

	if err := validateParams(action, params); err != nil {
		plannerLogger.Error().Err(err).Str("action", string(action)).Msg("Parameter validation failed")
		return nil, err
	}

	prices, err := p.prices(ctx)
	if err != nil {
		return nil, err
	}

	run := &execution{
		planner:  p,
		tree:     tree,
		params:   params,
		prices:   prices,
		progress: &progress{fn: params.Progress},
		plan:     &Plan{Action: action, SwapFee: sdkmath.ZeroInt()},
	}

	plannerLogger.Info().
		Str("action", string(action)).
		Str("owner", params.Owner.Hex()).
		Int("allocations", tree.Len()).
		Msg("Planning action")

	switch action {
	case ActionDeposit:
		err = run.deposit(ctx, params.InputToken, params.Amount)
	case ActionWithdraw:
		err = run.withdraw(ctx)
	case ActionClaim:
		err = run.claim(ctx)
	case ActionRebalance:
		err = run.rebalance(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		plannerLogger.Error().Err(err).Str("action", string(action)).Msg("Action planning failed")
		return nil, err
	}

	plannerLogger.Info().
		Str("action", string(action)).
		Int("transactions", len(run.plan.Transactions)).
		Int("legs", len(run.plan.Legs)).
		Float64("tradingLossUSD", run.plan.TradingLossUSD).
		Float64("swapFeeUSD", run.plan.SwapFeeUSD).
		Msg("Action plan generated")

	return run.plan, nil
}

func validateParams(action Action, params Params) error {
	if params.Owner == (common.Address{}) {
		return errors.Join(ErrInvalidParams, errors.New("owner address is not set"))
	}
	if !isFinite(params.Slippage) || params.Slippage < 0 || params.Slippage > 100 {
		return errors.Join(ErrInvalidParams, fmt.Errorf("slippage %f%% outside [0, 100]", params.Slippage))
	}

	switch action {
	case ActionDeposit:
		if params.Amount.IsNil() || !params.Amount.IsPositive() {
			return errors.Join(ErrInvalidParams, errors.New("deposit amount must be positive"))
		}
		if params.InputToken.Symbol == "" {
			return errors.Join(ErrInvalidParams, errors.New("input token is not set"))
		}
		if params.InputToken.Decimals < 0 || params.InputToken.Decimals > utils.MaxPrecision {
			return errors.Join(ErrInvalidParams, fmt.Errorf("input token decimals %d out of range", params.InputToken.Decimals))
		}
	case ActionWithdraw:
		if !isFinite(params.Percentage) || params.Percentage <= 0 || params.Percentage > 1 {
			return errors.Join(ErrInvalidParams, fmt.Errorf("withdraw percentage %f outside (0, 1]", params.Percentage))
		}
		if params.OutputToken.Symbol == "" {
			return errors.Join(ErrInvalidParams, errors.New("output token is not set"))
		}
		if params.OutputToken.Decimals < 0 || params.OutputToken.Decimals > utils.MaxPrecision {
			return errors.Join(ErrInvalidParams, fmt.Errorf("output token decimals %d out of range", params.OutputToken.Decimals))
		}
	case ActionClaim, ActionRebalance:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}

// progress serializes calls to the caller's ProgressFunc.
type progress struct {
	mu sync.Mutex
	fn ProgressFunc
}

func (p *progress) report(step string, tradingLoss float64) {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn(step, tradingLoss)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
