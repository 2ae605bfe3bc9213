package config

import (
	"github.com/elys-network/vaultengine/internal/state"
	"github.com/rs/zerolog/log"
)

// DatabaseConfig locates the PostgreSQL plan journal. The journal is optional.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"` // "disable", "require", "verify-full", etc.
}

// ServerConfig sets where the read-only HTTP API listens.
type ServerConfig struct {
	Listen string `yaml:"listen"` // e.g., ":8080"
}

// PricesConfig enables the CryptoCompare price oracle. It stays off while Symbols is empty.
type PricesConfig struct {
	Symbols           []string `yaml:"symbols"`
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	CacheTTLSeconds   int      `yaml:"cache_ttl_seconds"`
}

// Enabled reports whether any symbol is configured.
func (p PricesConfig) Enabled() bool {
	return len(p.Symbols) > 0
}

// DBConfig converts the database section into the state package's connection parameters.
func (d DatabaseConfig) DBConfig() state.DBConfig {
	return state.DBConfig{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.Name,
		SSLMode:  d.SSLMode,
	}
}

// loadEndpointConfig applies the endpoint environment variables.
// This function is called by applyEnvOverrides() in General.go.
func loadEndpointConfig(cfg *AppConfig) error {
	if v, ok := lookupEnv("DB_HOST"); ok {
		cfg.Database.Host = v
	}
	port, ok, err := getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}
	if ok {
		cfg.Database.Port = port
	}
	if v, ok := lookupEnv("DB_USER"); ok {
		cfg.Database.User = v
	}
	if v, ok := lookupEnv("DB_PASSWORD"); ok {
		cfg.Database.Password = v
	}
	if v, ok := lookupEnv("DB_NAME"); ok {
		cfg.Database.Name = v
	}
	if v, ok := lookupEnv("DB_SSLMODE"); ok {
		cfg.Database.SSLMode = v
	}
	if v, ok := lookupEnv("SERVER_LISTEN"); ok {
		cfg.Server.Listen = v
	}
	if v, ok := lookupEnv("CRYPTOCOMPARE_API"); ok {
		cfg.Prices.APIKey = v
	}
	if v, ok := lookupEnv("PRICE_SYMBOLS"); ok {
		cfg.Prices.Symbols = splitList(v)
	}
	enabled, ok, err := getEnvAsBool("DB_ENABLED")
	if err != nil {
		return err
	}
	if ok {
		cfg.Database.Enabled = enabled
	}

	log.Debug().
		Str("dbHost", cfg.Database.Host).
		Int("dbPort", cfg.Database.Port).
		Str("dbName", cfg.Database.Name).
		Str("serverListen", cfg.Server.Listen).
		Strs("priceSymbols", cfg.Prices.Symbols).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
