package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elys-network/vaultengine/internal/config"
	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	cfg        *config.AppConfig
}

// newRootCmd builds the vaultctl command tree.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Portfolio allocation and concentrated-liquidity accounting engine",
		Long: `vaultctl validates vault strategies, runs the concentrated-liquidity math
offline and inspects the plan journal.

Example usage:
  vaultctl validate --config vault.yaml --strategy strategy.yaml
  vaultctl lp size --deposit-usd 1000 --price-x 3000 --price-y 1 --price 3000 --lower 2500 --upper 3500
  vaultctl lp amounts --liquidity 1000000000 --tick-lower -600 --tick-upper 600 --tick 0
  vaultctl journal recent --limit 5
  vaultctl prices
  vaultctl serve --listen :8080`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("VAULT_CONFIG"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")

	root.AddCommand(
		c.validateCmd(),
		c.lpCmd(),
		c.journalCmd(),
		c.paramsCmd(),
		c.pricesCmd(),
		c.serveCmd(),
	)
	return root
}

// setup loads the configuration and initializes logging on stderr, keeping stdout for results.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.Log.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger.InitializeWithWriter(level, zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: "2006-01-02 15:04:05",
	})
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
