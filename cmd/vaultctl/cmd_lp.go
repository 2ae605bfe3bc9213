package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/clmath"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

func (c *cli) lpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lp",
		Short: "Concentrated-liquidity math",
		Long: `Offline concentrated-liquidity calculations: deposit sizing for a price range,
token amounts held by a position, uncollected fees and price conversions.`,
	}
	cmd.AddCommand(lpSizeCmd(), lpAmountsCmd(), lpFeesCmd(), lpPriceCmd())
	return cmd
}

func lpSizeCmd() *cobra.Command {
	var s clmath.DepositSizing

	cmd := &cobra.Command{
		Use:   "size",
		Short: "Split a USD deposit into the two tokens of a price range",
		Long: `Split a USD deposit between token0 and token1 so that it matches the ratio a
position over [lower, upper] holds at the current price. Prices outside the range are
clamped to the nearest bound. With --decimals0 and --decimals1 the amounts are also
printed in base units.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			x, y, err := clmath.SizeDeposit(s.DepositUSD, s.PriceX, s.PriceY, s.Price, s.PriceLower, s.PriceUpper)
			if err != nil {
				return err
			}
			printField(out, "amount0", formatFloat(x))
			printField(out, "amount1", formatFloat(y))

			if !cmd.Flags().Changed("decimals0") && !cmd.Flags().Changed("decimals1") {
				return nil
			}
			units0, units1, err := clmath.SizeDepositUnits(s)
			if err != nil {
				return err
			}
			printField(out, "units0", units0.String())
			printField(out, "units1", units1.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&s.DepositUSD, "deposit-usd", 0, "USD amount to deposit")
	f.Float64Var(&s.PriceX, "price-x", 0, "USD price of token0")
	f.Float64Var(&s.PriceY, "price-y", 0, "USD price of token1")
	f.Float64Var(&s.Price, "price", 0, "Current pool price (token1 per token0)")
	f.Float64Var(&s.PriceLower, "lower", 0, "Lower bound of the price range")
	f.Float64Var(&s.PriceUpper, "upper", 0, "Upper bound of the price range")
	f.Float64Var(&s.Token0Rate, "rate0", 1, "Conversion rate from token0 into the pool token")
	f.Float64Var(&s.Token1Rate, "rate1", 1, "Conversion rate from token1 into the pool token")
	f.IntVar(&s.Token0Decimals, "decimals0", 18, "Decimals of token0")
	f.IntVar(&s.Token1Decimals, "decimals1", 18, "Decimals of token1")
	for _, name := range []string{"deposit-usd", "price-x", "price-y", "price", "lower", "upper"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// positionFlags are the flags describing a position and its valuation.
type positionFlags struct {
	liquidity  string
	tickLower  int
	tickUpper  int
	tick       int
	decimals0  int
	decimals1  int
	price0     float64
	price1     float64
	withPrices bool
}

func (p *positionFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.liquidity, "liquidity", "", "Position liquidity")
	f.IntVar(&p.tickLower, "tick-lower", 0, "Lower tick of the position")
	f.IntVar(&p.tickUpper, "tick-upper", 0, "Upper tick of the position")
	f.IntVar(&p.tick, "tick", 0, "Current pool tick")
	f.IntVar(&p.decimals0, "decimals0", 18, "Decimals of token0")
	f.IntVar(&p.decimals1, "decimals1", 18, "Decimals of token1")
	f.Float64Var(&p.price0, "price0", 0, "USD price of token0, enables the USD valuation")
	f.Float64Var(&p.price1, "price1", 0, "USD price of token1, enables the USD valuation")
	_ = cmd.MarkFlagRequired("liquidity")
}

func (p *positionFlags) position(cmd *cobra.Command) (types.LiquidityPosition, error) {
	p.withPrices = cmd.Flags().Changed("price0") || cmd.Flags().Changed("price1")
	liquidity, ok := sdkmath.NewIntFromString(strings.TrimSpace(p.liquidity))
	if !ok {
		return types.LiquidityPosition{}, fmt.Errorf("%w: liquidity %q", ErrInvalidFlag, p.liquidity)
	}
	return types.LiquidityPosition{
		TickLower: p.tickLower,
		TickUpper: p.tickUpper,
		Liquidity: liquidity,
	}, nil
}

func (p *positionFlags) printValue(out io.Writer, pos types.LiquidityPosition, fees0, fees1 *uint256.Int) error {
	if !p.withPrices {
		return nil
	}
	value, err := clmath.PositionValueUSD(pos, p.tick, fees0, fees1, p.price0, p.price1, p.decimals0, p.decimals1)
	if err != nil {
		return err
	}
	printField(out, "value_usd", formatFloat(value))
	return nil
}

func lpAmountsCmd() *cobra.Command {
	var p positionFlags

	cmd := &cobra.Command{
		Use:   "amounts",
		Short: "Token amounts held by a position at the current tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			pos, err := p.position(cmd)
			if err != nil {
				return err
			}
			amount0, amount1, err := clmath.AmountsFromLiquidity(pos.Liquidity, pos.TickLower, pos.TickUpper, p.tick)
			if err != nil {
				return err
			}
			printField(out, "amount0", amount0.String())
			printField(out, "amount1", amount1.String())
			printField(out, "price_lower", formatFloat(clmath.TickToPrice(pos.TickLower, p.decimals0, p.decimals1)))
			printField(out, "price_upper", formatFloat(clmath.TickToPrice(pos.TickUpper, p.decimals0, p.decimals1)))
			return p.printValue(out, pos, nil, nil)
		},
	}
	p.register(cmd)
	return cmd
}

func lpFeesCmd() *cobra.Command {
	var (
		p       positionFlags
		growth  [10]string
		growthN = [10]string{
			"global0", "global1",
			"lower-outside0", "lower-outside1",
			"upper-outside0", "upper-outside1",
			"inside0-last", "inside1-last",
			"owed0", "owed1",
		}
	)

	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Uncollected fees of a position",
		Long: `Compute the fees owed to a position from the pool's fee growth counters
(Q128.128, decimal or 0x-prefixed hex). Non-zero --owed0/--owed1 are checkpointed
amounts and are returned unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			pos, err := p.position(cmd)
			if err != nil {
				return err
			}
			var v [10]*uint256.Int
			for i, raw := range growth {
				if v[i], err = parseUint256(raw); err != nil {
					return fmt.Errorf("--%s: %w", growthN[i], err)
				}
			}
			pos.FeeGrowthInside0Last, pos.FeeGrowthInside1Last = v[6], v[7]
			pos.TokensOwed0, pos.TokensOwed1 = v[8], v[9]

			fees0, fees1, err := clmath.UncollectedFees(pos, v[0], v[1],
				types.FeeGrowthOutside{Token0: v[2], Token1: v[3]},
				types.FeeGrowthOutside{Token0: v[4], Token1: v[5]},
			)
			if err != nil {
				return err
			}
			printField(out, "fees0", fees0.Dec())
			printField(out, "fees1", fees1.Dec())
			return p.printValue(out, pos, fees0, fees1)
		},
	}
	p.register(cmd)
	for i, name := range growthN {
		cmd.Flags().StringVar(&growth[i], name, "", "Fee growth counter or owed amount")
	}
	return cmd
}

func lpPriceCmd() *cobra.Command {
	var (
		sqrtPrice            string
		decimals0, decimals1 int
	)

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Convert a sqrtPriceX96 into a price and a tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			v, err := parseUint256(sqrtPrice)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("%w: sqrt price is required", ErrInvalidFlag)
			}
			price, err := clmath.SqrtPriceX96ToPrice(v, decimals0, decimals1)
			if err != nil {
				return err
			}
			tick, err := clmath.TickAtSqrtPriceX96(v)
			if err != nil {
				return err
			}
			printField(out, "price", formatFloat(price))
			printField(out, "tick", strconv.Itoa(tick))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&sqrtPrice, "sqrt-price-x96", "", "Pool sqrtPriceX96 (decimal or 0x hex)")
	f.IntVar(&decimals0, "decimals0", 18, "Decimals of token0")
	f.IntVar(&decimals1, "decimals1", 18, "Decimals of token1")
	_ = cmd.MarkFlagRequired("sqrt-price-x96")
	return cmd
}

// parseUint256 parses a decimal or 0x-prefixed hex value. An empty string yields nil.
func parseUint256(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err = uint256.FromHex("0x" + raw[2:])
	} else {
		v, err = uint256.FromDecimal(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidFlag, raw, err)
	}
	return v, nil
}

func printField(out io.Writer, name, value string) {
	fmt.Fprintf(out, "%s: %s\n", name, value)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
