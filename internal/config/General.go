package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig = errors.New("configuration is invalid")
	ErrUnknownToken  = errors.New("token is not known")
)

// AppConfig is the process configuration. It is loaded once at startup by Load and is
// treated as immutable afterwards.
type AppConfig struct {
	Vault    VaultConfig    `yaml:"vault"`
	Fees     FeeConfig      `yaml:"fees"`
	Planner  PlannerConfig  `yaml:"planner"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Prices   PricesConfig   `yaml:"prices"`
	Log      LogConfig      `yaml:"log"`
}

// VaultConfig names the vault and the file its strategy is read from.
type VaultConfig struct {
	Name         string `yaml:"name"`
	StrategyFile string `yaml:"strategy_file"`
}

// FeeConfig holds the swap fee schedule. Rates are decimal strings such as "0.00299".
type FeeConfig struct {
	SwapFeeRate     string `yaml:"swap_fee_rate"`
	ReferralFeeRate string `yaml:"referral_fee_rate"`
	Treasury        string `yaml:"treasury"`
	// ParametersName selects the stored parameter set, if the database is enabled.
	ParametersName string `yaml:"parameters_name"`
}

// PlannerConfig holds the remaining planner knobs.
type PlannerConfig struct {
	IntermediateToken  TokenConfig `yaml:"intermediate_token"`
	MinWithdrawUSD     *float64    `yaml:"min_withdraw_usd"`
	RebalanceThreshold *float64    `yaml:"rebalance_threshold"`
	MaxConcurrentReads int         `yaml:"max_concurrent_reads"`
}

// TokenConfig refers to a known token by chain and symbol, or spells it out in full.
type TokenConfig struct {
	Chain    string `yaml:"chain"`
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals *int   `yaml:"decimals"`
}

// LogConfig controls the log level.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML file at path, loads .env if present, applies environment overrides
// and fills defaults. An empty path skips the file and relies on the environment alone.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found. Relying on OS environment variables.")
	}

	var cfg AppConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	log.Debug().
		Str("vault", cfg.Vault.Name).
		Str("strategyFile", cfg.Vault.StrategyFile).
		Str("swapFeeRate", cfg.Fees.SwapFeeRate).
		Bool("database", cfg.Database.Enabled).
		Msg("Configuration loaded successfully.")

	return &cfg, nil
}

// applyEnvOverrides replaces file values with environment variables when they are set.
func applyEnvOverrides(cfg *AppConfig) error {
	if v, ok := lookupEnv("VAULT_NAME"); ok {
		cfg.Vault.Name = v
	}
	if v, ok := lookupEnv("VAULT_STRATEGY_FILE"); ok {
		cfg.Vault.StrategyFile = v
	}
	if v, ok := lookupEnv("VAULT_TREASURY"); ok {
		cfg.Fees.Treasury = v
	}
	if v, ok := lookupEnv("VAULT_SWAP_FEE_RATE"); ok {
		cfg.Fees.SwapFeeRate = v
	}
	if v, ok := lookupEnv("VAULT_REFERRAL_FEE_RATE"); ok {
		cfg.Fees.ReferralFeeRate = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	return loadEndpointConfig(cfg)
}

func setDefaults(cfg *AppConfig) {
	defaults := DefaultFeeParameters
	if cfg.Fees.SwapFeeRate == "" {
		cfg.Fees.SwapFeeRate = defaults.SwapFeeRate.String()
	}
	if cfg.Fees.ReferralFeeRate == "" {
		cfg.Fees.ReferralFeeRate = defaults.ReferralFeeRate.String()
	}
	if cfg.Fees.ParametersName == "" {
		cfg.Fees.ParametersName = DefaultParametersName
	}
	if cfg.Planner.IntermediateToken.Symbol == "" {
		cfg.Planner.IntermediateToken = TokenConfig{Chain: "arbitrum", Symbol: "usdc"}
	}
	if cfg.Planner.MinWithdrawUSD == nil {
		v := defaults.MinWithdrawUSD
		cfg.Planner.MinWithdrawUSD = &v
	}
	if cfg.Planner.RebalanceThreshold == nil {
		v := defaults.RebalanceThreshold
		cfg.Planner.RebalanceThreshold = &v
	}
	if cfg.Planner.MaxConcurrentReads <= 0 {
		cfg.Planner.MaxConcurrentReads = defaults.MaxConcurrentReads
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// FeeParameters parses the configured fee schedule.
func (c *AppConfig) FeeParameters() (types.FeeParameters, error) {
	swapFee, err := utils.ParseRate(c.Fees.SwapFeeRate)
	if err != nil {
		return types.FeeParameters{}, errors.Join(ErrInvalidConfig, fmt.Errorf("swap_fee_rate: %w", err))
	}
	referralFee, err := utils.ParseRate(c.Fees.ReferralFeeRate)
	if err != nil {
		return types.FeeParameters{}, errors.Join(ErrInvalidConfig, fmt.Errorf("referral_fee_rate: %w", err))
	}
	return types.FeeParameters{
		SwapFeeRate:        swapFee,
		ReferralFeeRate:    referralFee,
		MinWithdrawUSD:     derefOr(c.Planner.MinWithdrawUSD, DefaultFeeParameters.MinWithdrawUSD),
		RebalanceThreshold: derefOr(c.Planner.RebalanceThreshold, DefaultFeeParameters.RebalanceThreshold),
		MaxConcurrentReads: c.Planner.MaxConcurrentReads,
	}, nil
}

// PlannerConfig builds the planner configuration. params, when non-nil, replaces the
// fee schedule of the file (e.g. the active set stored in the database).
func (c *AppConfig) PlannerConfig(params *types.FeeParameters) (planner.Config, error) {
	if !common.IsHexAddress(c.Fees.Treasury) {
		return planner.Config{}, errors.Join(ErrInvalidConfig, fmt.Errorf("treasury %q is not an address", c.Fees.Treasury))
	}
	token, err := c.Planner.IntermediateToken.Resolve()
	if err != nil {
		return planner.Config{}, errors.Join(ErrInvalidConfig, fmt.Errorf("intermediate_token: %w", err))
	}

	p := params
	if p == nil {
		fileParams, err := c.FeeParameters()
		if err != nil {
			return planner.Config{}, err
		}
		p = &fileParams
	}

	cfg := planner.DefaultConfig().WithParameters(*p)
	cfg.Treasury = common.HexToAddress(c.Fees.Treasury)
	cfg.IntermediateToken = token
	return cfg, nil
}

// Resolve looks the token up in KnownTokens unless address and decimals are both given.
func (t TokenConfig) Resolve() (types.TokenMeta, error) {
	if t.Address == "" || t.Decimals == nil {
		return LookupToken(t.Chain, t.Symbol)
	}
	if !common.IsHexAddress(t.Address) {
		return types.TokenMeta{}, fmt.Errorf("%w: address %q", ErrInvalidConfig, t.Address)
	}
	if *t.Decimals < 0 || *t.Decimals > utils.MaxPrecision {
		return types.TokenMeta{}, fmt.Errorf("%w: decimals %d", ErrInvalidConfig, *t.Decimals)
	}
	return types.TokenMeta{
		Symbol:   strings.ToLower(t.Symbol),
		Address:  common.HexToAddress(t.Address),
		Decimals: *t.Decimals,
		Chain:    strings.ToLower(t.Chain),
	}, nil
}

// lookupEnv returns a non-empty environment variable.
func lookupEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if invalid.
func getEnvAsInt(key string) (int, bool, error) {
	valueStr, ok := lookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, false, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, true, nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if invalid.
func getEnvAsBool(key string) (bool, bool, error) {
	valueStr, ok := lookupEnv(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, true, nil
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// splitList splits a comma-separated environment value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
