package main

import (
	"context"
	"os"

	"github.com/elys-network/vaultengine/internal/config"
	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/state"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Initialize(logLevel)
	log.Info().Msg("Starting database reset script...")

	// Database settings come from .env and DB_* variables; a config file is optional
	cfg, err := config.Load(os.Getenv("VAULT_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Database.User == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if cfg.Database.Name == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}

	dbCfg := cfg.Database.DBConfig()
	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	db, err := state.Open(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.Close(db)

	ctx := context.Background()

	// Drop all tables - this is the "reset" part
	log.Info().Msg("Connected to database. Attempting to drop all tables...")
	if err := state.DropSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to drop tables")
	}

	// Recreate the schema
	log.Info().Msg("Recreating database schema...")
	if err := state.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate database schema")
	}

	// Seed the default fee schedule so the engine starts from a known active version
	params, err := cfg.FeeParameters()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid fee parameters in configuration")
	}
	if _, _, err := state.NewStore(db).SaveFeeParameters(ctx, cfg.Fees.ParametersName, params, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed fee parameters")
	}

	log.Info().Msg("Database reset complete!")
}
