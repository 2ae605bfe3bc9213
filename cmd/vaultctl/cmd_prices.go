package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) pricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Fetch the USD price table the planner would use",
		Long: `Query CryptoCompare for every symbol in prices.symbols (or PRICE_SYMBOLS) and
print the validated table. A missing, zero or non-finite price fails the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetcher, err := newPriceFetcher(c.cfg)
			if err != nil {
				return err
			}
			prices, err := fetcher.TokenPrices(cmd.Context())
			if err != nil {
				return err
			}

			symbols := make([]string, 0, len(prices))
			for symbol := range prices {
				symbols = append(symbols, symbol)
			}
			sort.Strings(symbols)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tUSD")
			for _, symbol := range symbols {
				fmt.Fprintf(w, "%s\t%s\n", symbol, formatFloat(prices[symbol]))
			}
			return w.Flush()
		},
	}
}
