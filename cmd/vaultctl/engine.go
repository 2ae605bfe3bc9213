package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/config"
	"github.com/elys-network/vaultengine/internal/datafetcher"
	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/metrics"
	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/elys-network/vaultengine/internal/state"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Error definitions for zero-tolerance error handling
var (
	ErrDatabaseDisabled = errors.New("database is not enabled in the configuration")
	ErrNotConnected     = errors.New("protocol adapter is not connected")
	ErrNoStrategyFile   = errors.New("no strategy file configured")
	ErrNoVaultName      = errors.New("no vault name configured")
	ErrInvalidFlag      = errors.New("flag value is invalid")
	ErrPricesDisabled   = errors.New("no price symbols configured")
)

// offlineProtocol stands in for a protocol adapter when a strategy is checked without
// chain access. Every capability fails with ErrNotConnected.
type offlineProtocol struct {
	chain string
	id    string
}

func resolveOffline(chain, id string) (types.ProtocolHandle, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: protocol on %s has no id", config.ErrInvalidStrategyFile, chain)
	}
	return offlineProtocol{chain: chain, id: id}, nil
}

func (o offlineProtocol) UniqueID() string { return o.id }

func (o offlineProtocol) Deposit(context.Context, common.Address, sdkmath.Int, types.TokenMeta, types.PriceTable, float64) ([]types.TransactionIntent, float64, error) {
	return nil, 0, o.notConnected()
}

func (o offlineProtocol) WithdrawAndClaim(context.Context, common.Address, float64, types.TokenMeta, float64, types.PriceTable) (types.WithdrawResult, error) {
	return types.WithdrawResult{}, o.notConnected()
}

func (o offlineProtocol) Claim(context.Context, common.Address, types.PriceTable) ([]types.TransactionIntent, map[string]types.RewardBalance, error) {
	return nil, nil, o.notConnected()
}

func (o offlineProtocol) USDBalanceOf(context.Context, common.Address, types.PriceTable) (float64, error) {
	return 0, o.notConnected()
}

func (o offlineProtocol) PendingRewards(context.Context, common.Address, types.PriceTable) (map[common.Address]types.RewardBalance, error) {
	return nil, o.notConnected()
}

func (o offlineProtocol) notConnected() error {
	return fmt.Errorf("%w: %s on %s", ErrNotConnected, o.id, o.chain)
}

// openStore connects to the journal database and makes sure the schema exists.
func openStore(ctx context.Context, cfg *config.AppConfig) (*state.Store, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, ErrDatabaseDisabled
	}
	db, err := state.Open(cfg.Database.DBConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := state.EnsureSchema(ctx, db); err != nil {
		state.Close(db)
		return nil, nil, err
	}
	return state.NewStore(db), func() { state.Close(db) }, nil
}

// newPriceFetcher builds the CryptoCompare oracle from the prices section.
func newPriceFetcher(cfg *config.AppConfig) (*datafetcher.PriceFetcher, error) {
	if !cfg.Prices.Enabled() {
		return nil, ErrPricesDisabled
	}
	return datafetcher.NewPriceFetcher(datafetcher.Config{
		BaseURL:           cfg.Prices.BaseURL,
		APIKey:            cfg.Prices.APIKey,
		Symbols:           cfg.Prices.Symbols,
		RequestsPerSecond: cfg.Prices.RequestsPerSecond,
		CacheTTL:          time.Duration(cfg.Prices.CacheTTLSeconds) * time.Second,
	})
}

// engine is a fully wired vault: normalized strategy, planner, metrics and, when the
// database is enabled, the plan journal.
type engine struct {
	vault        *vault.Vault
	params       types.FeeParameters
	paramsSource string
	priceSource  string
	store        *state.Store
	metrics      *metrics.Registry
	close        func()
}

// buildEngine loads the strategy at strategyPath (or the configured one) and wires the vault
// around it. Stored fee parameters take precedence over the configuration file.
func buildEngine(ctx context.Context, cfg *config.AppConfig, strategyPath string, reg prometheus.Registerer) (_ *engine, err error) {
	path := strategyPath
	if path == "" {
		path = cfg.Vault.StrategyFile
	}
	if path == "" {
		return nil, ErrNoStrategyFile
	}

	file, err := config.LoadStrategy(path)
	if err != nil {
		return nil, err
	}
	tree, mapping, err := file.Build(resolveOffline)
	if err != nil {
		return nil, err
	}

	cliLogger := logger.GetForComponent("vaultctl")
	eng := &engine{paramsSource: "config", priceSource: "static", close: func() {}}
	defer func() {
		if err != nil {
			eng.close()
		}
	}()

	var (
		store  *state.Store
		stored *types.FeeParameters
	)
	if cfg.Database.Enabled {
		store, eng.close, err = openStore(ctx, cfg)
		if err != nil {
			eng.close = func() {}
			return nil, err
		}
		stored, err = store.LoadActiveFeeParameters(ctx, cfg.Fees.ParametersName)
		switch {
		case errors.Is(err, state.ErrNoActiveParameters):
			cliLogger.Warn().Str("config", cfg.Fees.ParametersName).Msg("No stored fee parameters, using configuration file")
			stored, err = nil, nil
		case err != nil:
			return nil, err
		default:
			eng.paramsSource = "database"
		}
	}

	plannerCfg, err := cfg.PlannerConfig(stored)
	if err != nil {
		return nil, err
	}
	eng.params = plannerCfg.Parameters()

	eng.metrics, err = metrics.NewRegistry(reg)
	if err != nil {
		return nil, err
	}
	var oracle types.PriceOracle = types.StaticOracle{}
	if cfg.Prices.Enabled() {
		fetcher, err := newPriceFetcher(cfg)
		if err != nil {
			return nil, err
		}
		oracle, eng.priceSource = fetcher, "cryptocompare"
	}
	p, err := planner.New(plannerCfg, oracle, planner.WithMetrics(eng.metrics))
	if err != nil {
		return nil, err
	}

	name := cfg.Vault.Name
	if name == "" {
		name = file.Name
	}
	eng.store = store
	var opts []vault.Option
	if store != nil {
		opts = append(opts, vault.WithJournal(store))
	}
	eng.vault, err = vault.New(name, tree, mapping, p, opts...)
	if err != nil {
		return nil, err
	}

	cliLogger.Info().
		Str("vault", name).
		Str("strategy", path).
		Str("parameters", eng.paramsSource).
		Str("prices", eng.priceSource).
		Bool("journal", store != nil).
		Msg("Engine ready")
	return eng, nil
}

// vaultName returns the flag value or, failing that, the configured vault name.
func (c *cli) vaultName(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if c.cfg.Vault.Name != "" {
		return c.cfg.Vault.Name, nil
	}
	return "", ErrNoVaultName
}
