package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) validateCmd() *cobra.Command {
	var strategyPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Normalize a strategy and print its weights",
		Long: `Load a strategy file, expand its imports and normalize it against the weight
mapping. The command fails with the first violated invariant (negative weight, duplicate
protocol, category without weights, sums off target).

The full engine is wired on the way, so an invalid fee schedule, treasury or
intermediate token is reported as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := buildEngine(cmd.Context(), c.cfg, strategyPath, nil)
			if err != nil {
				return err
			}
			defer eng.close()
			return printEngine(cmd.OutOrStdout(), eng)
		},
	}

	cmd.Flags().StringVar(&strategyPath, "strategy", "", "Strategy file (defaults to vault.strategy_file)")
	return cmd
}

func printEngine(out io.Writer, eng *engine) error {
	v := eng.vault
	tree := v.Strategy()

	fmt.Fprintf(out, "vault: %s\n", v.Name())
	fmt.Fprintf(out, "fees: swap %s, referral %s (%s)\n",
		eng.params.SwapFeeRate, eng.params.ReferralFeeRate, eng.paramsSource)
	fmt.Fprintf(out, "prices: %s\n", eng.priceSource)
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tCHAIN\tPROTOCOL\tWEIGHT")
	for _, e := range tree.Flatten() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6f\n", e.Category, e.Chain, e.ProtocolID(), e.Allocation.Weight)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CATEGORY\tTARGET\tTOTAL\t")
	mapping := v.WeightMapping()
	for _, cat := range tree.Categories {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t\n", cat.Name, mapping[cat.Name], tree.CategoryTotal(cat.Name))
	}
	fmt.Fprintf(w, "total\t\t%.6f\t\n", tree.Total())
	return w.Flush()
}
