package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/elys-network/vaultengine/internal/state"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/spf13/cobra"
)

func (c *cli) journalCmd() *cobra.Command {
	var (
		vaultFlag string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the plan journal",
		Long: `Read the plans a vault has journaled. Requires database.enabled (or DB_ENABLED=true).`,
	}
	cmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Vault name (defaults to vault.name)")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the latest plans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := c.vaultName(vaultFlag)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			plans, err := store.RecentPlans(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), plans)
			}
			return printPlans(cmd.OutOrStdout(), plans)
		},
	}
	recent.Flags().IntVar(&limit, "limit", 10, "Number of plans to list (at most 100)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate the journal per action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := c.vaultName(vaultFlag)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			seq, err := store.CurrentSequence(cmd.Context(), name)
			if err != nil {
				return err
			}
			st, err := store.Stats(cmd.Context(), name)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Sequence int64               `json:"sequence"`
					Actions  []state.ActionStats `json:"actions"`
				}{seq, st})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vault: %s\nsequence: %d\n\n", name, seq)
			return printStats(cmd.OutOrStdout(), st)
		},
	}

	var to int64
	reset := &cobra.Command{
		Use:   "reset-sequence",
		Short: "Restart the plan sequence of a vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := c.vaultName(vaultFlag)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.ResetSequence(cmd.Context(), name, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vault %s: sequence set to %d\n", name, to)
			return nil
		},
	}
	reset.Flags().Int64Var(&to, "to", 0, "Value of the sequence; the next plan gets to+1")

	cmd.AddCommand(recent, stats, reset)
	return cmd
}

func (c *cli) paramsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show or store the fee parameters",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the fee parameters the engine would use",
		Long: `Print the active stored fee parameters when the database is enabled and holds
an active set, otherwise the parameters of the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := c.cfg.FeeParameters()
			if err != nil {
				return err
			}
			source := "config"

			if c.cfg.Database.Enabled {
				store, closeStore, err := openStore(cmd.Context(), c.cfg)
				if err != nil {
					return err
				}
				defer closeStore()

				stored, err := store.LoadActiveFeeParameters(cmd.Context(), c.cfg.Fees.ParametersName)
				switch {
				case errors.Is(err, state.ErrNoActiveParameters):
				case err != nil:
					return err
				default:
					params, source = *stored, "database"
				}
			}
			return printParams(cmd.OutOrStdout(), c.cfg.Fees.ParametersName, source, params)
		},
	}

	var activate bool
	save := &cobra.Command{
		Use:   "save",
		Short: "Store the configured fee parameters as a new version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := c.cfg.FeeParameters()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			id, version, err := store.SaveFeeParameters(cmd.Context(), c.cfg.Fees.ParametersName, params, activate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s version %d (id %d, active %t)\n",
				c.cfg.Fees.ParametersName, version, id, activate)
			return nil
		},
	}
	save.Flags().BoolVar(&activate, "activate", true, "Make the new version the active one")

	cmd.AddCommand(show, save)
	return cmd
}

func printPlans(out io.Writer, plans []state.PlanRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPLANNED\tACTION\tTXS\tLOSS_USD\tFEE_USD\tPROTOCOLS")
	for _, p := range plans {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.4f\t%.4f\t%s\n",
			p.Sequence, p.PlannedAt.Format(time.RFC3339), p.Action, p.TransactionCount,
			p.TradingLossUSD, p.SwapFeeUSD, strings.Join(p.ProtocolIDs, ","))
	}
	return w.Flush()
}

func printStats(out io.Writer, stats []state.ActionStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tPLANS\tTXS\tLOSS_USD\tFEE_USD\tWITHDRAWN_USD\tLAST")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\t%s\n",
			s.Action, s.Plans, s.Transactions, s.TradingLossUSD, s.SwapFeeUSD, s.WithdrawnUSD,
			s.LastPlannedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func printParams(out io.Writer, name, source string, p types.FeeParameters) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "parameters\t%s (%s)\n", name, source)
	fmt.Fprintf(w, "swap_fee_rate\t%s\n", p.SwapFeeRate)
	fmt.Fprintf(w, "referral_fee_rate\t%s\n", p.ReferralFeeRate)
	fmt.Fprintf(w, "min_withdraw_usd\t%s\n", formatFloat(p.MinWithdrawUSD))
	fmt.Fprintf(w, "rebalance_threshold\t%s\n", formatFloat(p.RebalanceThreshold))
	fmt.Fprintf(w, "max_concurrent_reads\t%d\n", p.MaxConcurrentReads)
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
