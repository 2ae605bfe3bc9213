package clmath

import (
	"math"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeDeposit_ReconstructsSameLiquidity(t *testing.T) {
	p, pl, pu := 0.0005, 0.0004, 0.0006
	x, y, err := SizeDeposit(1000, 2000, 1, p, pl, pu)
	require.NoError(t, err)
	require.Greater(t, x, 0.0)
	require.Greater(t, y, 0.0)

	fromY := y / (math.Sqrt(p) - math.Sqrt(pl))
	fromX := x / (1/math.Sqrt(p) - 1/math.Sqrt(pu))
	assert.InEpsilon(t, fromX, fromY, 1e-9)

	assert.InDelta(t, 1000, x*2000+y*1, 1e-6)
}

func TestSizeDeposit_ClampsOutOfRangePrice(t *testing.T) {
	x, y, err := SizeDeposit(1000, 2000, 1, 0.0003, 0.0004, 0.0006)
	require.NoError(t, err)
	assert.Equal(t, 0.0, y)
	assert.Greater(t, x, 0.0)
	assert.InDelta(t, 1000, x*2000, 1e-6)

	x, y, err = SizeDeposit(1000, 2000, 1, 0.0009, 0.0004, 0.0006)
	require.NoError(t, err)
	assert.Equal(t, 0.0, x)
	assert.Greater(t, y, 0.0)
	assert.InDelta(t, 1000, y, 1e-6)
}

func TestSizeDeposit_BoundaryIsSingleSided(t *testing.T) {
	x, y, err := SizeDeposit(1000, 2000, 1, 0.0005, 0.0005, 0.0006)
	require.NoError(t, err)
	assert.Equal(t, 0.0, y)
	assert.Greater(t, x, 0.0)

	x, y, err = SizeDeposit(1000, 2000, 1, 0.0006, 0.0005, 0.0006)
	require.NoError(t, err)
	assert.Equal(t, 0.0, x)
	assert.Greater(t, y, 0.0)
}

func TestSizeDeposit_Rejects(t *testing.T) {
	_, _, err := SizeDeposit(1000, 2000, 1, 0.0005, 0.0006, 0.0006)
	assert.ErrorIs(t, err, ErrInvalidPriceRange)

	_, _, err = SizeDeposit(-1, 2000, 1, 0.0005, 0.0004, 0.0006)
	assert.ErrorIs(t, err, ErrInvalidDeposit)

	_, _, err = SizeDeposit(1000, math.NaN(), 1, 0.0005, 0.0004, 0.0006)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, _, err = SizeDeposit(1000, 2000, 0, 0.0005, 0.0004, 0.0006)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestSizeDeposit_ZeroDeposit(t *testing.T) {
	x, y, err := SizeDeposit(0, 2000, 1, 0.0005, 0.0004, 0.0006)
	require.NoError(t, err)
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestSizeDepositUnits_NotionalMatchesDeposit(t *testing.T) {
	amount0, amount1, err := SizeDepositUnits(DepositSizing{
		DepositUSD:     1000,
		PriceX:         2000,
		PriceY:         1,
		Price:          0.0005,
		PriceLower:     0.0004,
		PriceUpper:     0.0006,
		Token0Rate:     1,
		Token1Rate:     1,
		Token0Decimals: 18,
		Token1Decimals: 6,
	})
	require.NoError(t, err)
	require.True(t, amount0.IsPositive())
	require.True(t, amount1.IsPositive())

	x, err := utils.SDKIntToFloat64(amount0, 18)
	require.NoError(t, err)
	y, err := utils.SDKIntToFloat64(amount1, 6)
	require.NoError(t, err)

	notional := x*2000 + y*1
	assert.False(t, math.IsNaN(notional))
	assert.InDelta(t, 1000, notional, 1000*0.005)
}

func TestSizeDepositUnits_RejectsBadRate(t *testing.T) {
	_, _, err := SizeDepositUnits(DepositSizing{
		DepositUSD: 1000, PriceX: 2000, PriceY: 1,
		Price: 0.0005, PriceLower: 0.0004, PriceUpper: 0.0006,
		Token0Rate: 0, Token1Rate: 1, Token0Decimals: 18, Token1Decimals: 6,
	})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestAmountsFromLiquidity_ZeroLiquidity(t *testing.T) {
	a0, a1, err := AmountsFromLiquidity(sdkmath.ZeroInt(), -60000, 60000, 0)
	require.NoError(t, err)
	assert.True(t, a0.IsZero())
	assert.True(t, a1.IsZero())
}

func TestAmountsFromLiquidity_InRange(t *testing.T) {
	l := sdkmath.NewInt(1_000_000_000_000_000_000)
	a0, a1, err := AmountsFromLiquidity(l, -60000, 60000, 0)
	require.NoError(t, err)

	want := 1e18 * (1 - math.Pow(TickBase, -30000))
	assert.InEpsilon(t, want, toFloat(a0), 1e-9)
	assert.InEpsilon(t, want, toFloat(a1), 1e-9)
}

func TestAmountsFromLiquidity_OutOfRange(t *testing.T) {
	l := sdkmath.NewInt(1_000_000)

	a0, a1, err := AmountsFromLiquidity(l, 100, 200, 50)
	require.NoError(t, err)
	assert.True(t, a0.IsPositive())
	assert.True(t, a1.IsZero())

	a0, a1, err = AmountsFromLiquidity(l, 100, 200, 250)
	require.NoError(t, err)
	assert.True(t, a0.IsZero())
	assert.True(t, a1.IsPositive())
}

func TestAmountsFromLiquidity_ContinuousAtBoundaries(t *testing.T) {
	liquidity := sdkmath.NewInt(123_456_789_012_345)
	tickLower, tickUpper := -887, 1234

	l := new(big.Float).SetPrec(bigPrec).SetInt(liquidity.BigInt())
	sqrtLower, sqrtUpper := sqrtAtTick(tickLower), sqrtAtTick(tickUpper)

	low0, low1, err := AmountsFromLiquidity(liquidity, tickLower, tickUpper, tickLower)
	require.NoError(t, err)
	in0, in1 := amountsInRange(l, sqrtLower, sqrtLower, sqrtUpper)
	assert.Equal(t, low0.String(), floorInt(in0).String())
	assert.Equal(t, low1.String(), floorInt(in1).String())

	up0, up1, err := AmountsFromLiquidity(liquidity, tickLower, tickUpper, tickUpper)
	require.NoError(t, err)
	in0, in1 = amountsInRange(l, sqrtLower, sqrtUpper, sqrtUpper)
	assert.Equal(t, up0.String(), floorInt(in0).String())
	assert.Equal(t, up1.String(), floorInt(in1).String())
}

func TestAmountsFromLiquidity_Degenerate(t *testing.T) {
	a0, a1, err := AmountsFromLiquidity(sdkmath.NewInt(1000), MinTick-10, 0, 0)
	require.NoError(t, err)
	assert.True(t, a0.IsZero())
	assert.True(t, a1.IsZero())

	_, _, err = AmountsFromLiquidity(sdkmath.NewInt(1000), 10, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidTickRange)

	_, _, err = AmountsFromLiquidity(sdkmath.NewInt(-1), 0, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidLiquidity)
}

func TestUncollectedFees_ReturnsCheckpointedOwed(t *testing.T) {
	pos := types.LiquidityPosition{
		Liquidity:   sdkmath.NewInt(1000),
		TokensOwed0: uint256.NewInt(7),
		TokensOwed1: uint256.NewInt(0),
	}
	global := shifted(100)

	f0, f1, err := UncollectedFees(pos, global, global, types.FeeGrowthOutside{}, types.FeeGrowthOutside{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f0.Uint64())
	assert.True(t, f1.IsZero())
}

func TestUncollectedFees_FromGrowth(t *testing.T) {
	pos := types.LiquidityPosition{Liquidity: sdkmath.NewInt(1000)}

	f0, f1, err := UncollectedFees(pos, shifted(5), shifted(2), types.FeeGrowthOutside{}, types.FeeGrowthOutside{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), f0.Uint64())
	assert.Equal(t, uint64(2000), f1.Uint64())
}

func TestUncollectedFees_WrapsAcrossOverflow(t *testing.T) {
	zero := new(uint256.Int)
	// last checkpoint sits one unit of 2^128 below the 2^256 wrap point
	last := new(uint256.Int).Sub(zero, q128)
	pos := types.LiquidityPosition{
		Liquidity:            sdkmath.NewInt(1000),
		FeeGrowthInside0Last: last,
		FeeGrowthInside1Last: new(uint256.Int).Sub(zero, shifted(5)),
	}
	lower := types.FeeGrowthOutside{Token0: zero, Token1: shifted(12)}
	upper := types.FeeGrowthOutside{Token0: zero, Token1: zero}

	f0, f1, err := UncollectedFees(pos, q128, shifted(10), lower, upper)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), f0.Uint64())
	assert.Equal(t, uint64(3000), f1.Uint64())
}

func TestUncollectedFees_MonotonicWithoutCheckpoint(t *testing.T) {
	pos := types.LiquidityPosition{
		Liquidity:            sdkmath.NewInt(987_654_321),
		FeeGrowthInside0Last: shifted(3),
		FeeGrowthInside1Last: shifted(1),
	}
	lower := types.FeeGrowthOutside{Token0: shifted(1), Token1: uint256.NewInt(0)}
	upper := types.FeeGrowthOutside{Token0: uint256.NewInt(12345), Token1: uint256.NewInt(0)}

	prev0, prev1 := new(uint256.Int), new(uint256.Int)
	for step := uint64(5); step < 50; step += 7 {
		g0 := new(uint256.Int).Add(shifted(step), uint256.NewInt(step*999))
		g1 := shifted(step)
		f0, f1, err := UncollectedFees(pos, g0, g1, lower, upper)
		require.NoError(t, err)
		assert.True(t, f0.Cmp(prev0) >= 0)
		assert.True(t, f1.Cmp(prev1) >= 0)
		prev0, prev1 = f0, f1
	}
}

func TestUncollectedFees_Overflow(t *testing.T) {
	liquidity := new(big.Int).Lsh(big.NewInt(1), 200)
	pos := types.LiquidityPosition{Liquidity: sdkmath.NewIntFromBigInt(liquidity)}
	global := new(uint256.Int).Lsh(uint256.NewInt(1), 255)

	_, _, err := UncollectedFees(pos, global, global, types.FeeGrowthOutside{}, types.FeeGrowthOutside{})
	assert.ErrorIs(t, err, ErrFeeOverflow)
}

func TestTickToPrice(t *testing.T) {
	assert.InEpsilon(t, 1e12, TickToPrice(0, 18, 6), 1e-12)
	assert.InEpsilon(t, math.Pow(1.0001, 100), TickToPrice(100, 6, 6), 1e-12)
}

func TestSqrtPriceX96(t *testing.T) {
	one := new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	price, err := SqrtPriceX96ToPrice(one, 18, 6)
	require.NoError(t, err)
	assert.InEpsilon(t, 1e12, price, 1e-12)

	tick, err := TickAtSqrtPriceX96(one)
	require.NoError(t, err)
	assert.Equal(t, 0, tick)

	atTick, err := SqrtRatioAtTick(1000)
	require.NoError(t, err)
	tick, err = TickAtSqrtPriceX96(atTick)
	require.NoError(t, err)
	assert.Equal(t, 1000, tick)

	below := new(uint256.Int).SubUint64(atTick, 1)
	tick, err = TickAtSqrtPriceX96(below)
	require.NoError(t, err)
	assert.Equal(t, 999, tick)

	_, err = TickAtSqrtPriceX96(new(uint256.Int))
	assert.ErrorIs(t, err, ErrInvalidSqrtPrice)
}

func TestSqrtRatioAtTick_KnownValues(t *testing.T) {
	cases := map[int]string{
		MinTick: "4295128739",
		-1000:   "75364347830767020784054125655",
		0:       "79228162514264337593543950336",
		1:       "79232123823359799118286999568",
		1000:    "83290069058676223003182343270",
		887271:  "1461373636630004318706518188784493106690254656249",
		MaxTick: "1461446703485210103287273052203988822378723970342",
	}
	for tick, want := range cases {
		got, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		assert.Equal(t, want, got.Dec(), "tick %d", tick)
	}

	_, err := SqrtRatioAtTick(MaxTick + 1)
	assert.ErrorIs(t, err, ErrTickOutOfRange)
	_, err = SqrtRatioAtTick(MinTick - 1)
	assert.ErrorIs(t, err, ErrTickOutOfRange)
}

func TestTickAtSqrtPriceX96_DomainBounds(t *testing.T) {
	minRatio := uint256.MustFromDecimal("4295128739")
	maxRatio := uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	tick, err := TickAtSqrtPriceX96(minRatio)
	require.NoError(t, err)
	assert.Equal(t, MinTick, tick)

	tick, err = TickAtSqrtPriceX96(new(uint256.Int).SubUint64(maxRatio, 1))
	require.NoError(t, err)
	assert.Equal(t, MaxTick-1, tick)

	tick, err = TickAtSqrtPriceX96(maxRatio)
	require.NoError(t, err)
	assert.Equal(t, MaxTick, tick)
}

func TestPowTickBase_ExactBase(t *testing.T) {
	want, _, err := big.ParseFloat("1.0001", 10, bigPrec, big.ToNearestEven)
	require.NoError(t, err)
	assert.Equal(t, 0, powTickBase(1).Cmp(want))

	// 1.0001^-1 * 1.0001 rounds back to one at this precision.
	product := newFloat().Mul(powTickBase(-1), powTickBase(1))
	diff := newFloat().Sub(product, big.NewFloat(1))
	diff.Abs(diff)
	assert.Equal(t, -1, diff.Cmp(big.NewFloat(1e-70)))
}

func TestPositionValueUSD_IncludesFees(t *testing.T) {
	pos := types.LiquidityPosition{Liquidity: sdkmath.ZeroInt(), TickLower: -60, TickUpper: 60}
	fees0 := uint256.NewInt(1_000_000_000_000_000_000)
	fees1 := uint256.NewInt(1_000_000)

	usd, err := PositionValueUSD(pos, 0, fees0, fees1, 2, 1, 18, 6)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, usd, 1e-9)

	_, err = PositionValueUSD(pos, 0, fees0, fees1, math.Inf(1), 1, 18, 6)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func shifted(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), q128)
}

func toFloat(i sdkmath.Int) float64 {
	f, _ := new(big.Float).SetInt(i.BigInt()).Float64()
	return f
}
