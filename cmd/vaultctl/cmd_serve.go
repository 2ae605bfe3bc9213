package main

import (
	"github.com/elys-network/vaultengine/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	var strategyPath, listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API and Prometheus metrics",
		Long: `Wire the engine like validate does and serve it over HTTP until interrupted.

Routes:
  GET /health                 vault and journal health
  GET /metrics                Prometheus metrics
  GET /api/strategy           normalized allocations and category totals
  GET /api/strategy/{name}    one category's exportable chain bucket
  GET /api/parameters         fee parameters in use
  GET /api/plans?limit=N      latest journaled plans
  GET /api/plans/stats        journal aggregated per action`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			eng, err := buildEngine(cmd.Context(), c.cfg, strategyPath, reg)
			if err != nil {
				return err
			}
			defer eng.close()

			addr := listen
			if addr == "" {
				addr = c.cfg.Server.Listen
			}
			cfg := web.Config{
				Addr:     addr,
				Vault:    eng.vault,
				Params:   eng.params,
				Gatherer: reg,
			}
			if eng.store != nil {
				cfg.Journal = eng.store
			}

			server, err := web.NewWebServer(cfg)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&strategyPath, "strategy", "", "Strategy file (defaults to vault.strategy_file)")
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to server.listen)")
	return cmd
}
