/*

Concentrated-liquidity math for Uniswap-V3 style positions: deposit sizing for a price range,
token amounts held by a liquidity position and fees earned since the position's last checkpoint.
Every function here is pure. Callers fetch the pool and position state from a single read.

*/

package clmath

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/utils"
	"github.com/holiman/uint256"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidDeposit    = errors.New("deposit must be finite and non-negative")
	ErrInvalidPrice      = errors.New("price must be finite and positive")
	ErrInvalidPriceRange = errors.New("price range lower bound must be below upper bound")
	ErrInvalidTickRange  = errors.New("tick range lower bound must be below upper bound")
	ErrInvalidLiquidity  = errors.New("liquidity must be non-negative")
	ErrFeeOverflow       = errors.New("fee amount overflows 256 bits")
	ErrInvalidSqrtPrice  = errors.New("sqrt price must be positive")
	ErrTickOutOfRange    = errors.New("tick outside [MinTick, MaxTick]")
)

const (
	MinTick = -887272
	MaxTick = 887272

	// TickBase is the price ratio between two adjacent ticks.
	TickBase = 1.0001

	// bigPrec is the mantissa precision used for tick powers.
	bigPrec = 256
)

// q128 is 2^128, the Q128.128 scale of fee growth counters.
var q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// tickBase holds 1.0001 exactly at bigPrec; the float64 literal is off in the 17th digit,
// which is enough to move the top ticks.
var tickBase, _, _ = big.ParseFloat("1.0001", 10, bigPrec, big.ToNearestEven)

// Q128.128 values of 1/sqrt(1.0001)^(2^i) used by SqrtRatioAtTick, indexed by bit i of |tick|.
var tickRatios = [...]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

// SizeDeposit splits a USD deposit into token amounts for the range [pl, pu] at pool price p
// (token1 per token0). p is clamped into the range so an out-of-range price yields a
// single-sided position: p <= pl gives amountY = 0 and p >= pu gives amountX = 0.
func SizeDeposit(depositUSD, priceX, priceY, p, pl, pu float64) (amountX, amountY float64, err error) {
	if !isFinite(depositUSD) || depositUSD < 0 {
		return 0, 0, fmt.Errorf("%w: %f", ErrInvalidDeposit, depositUSD)
	}
	for _, v := range []float64{priceX, priceY, p, pl, pu} {
		if !isFinite(v) || v <= 0 {
			return 0, 0, fmt.Errorf("%w: %f", ErrInvalidPrice, v)
		}
	}
	if pl >= pu {
		return 0, 0, fmt.Errorf("%w: [%f, %f]", ErrInvalidPriceRange, pl, pu)
	}
	if depositUSD == 0 {
		return 0, 0, nil
	}

	p = math.Min(math.Max(p, pl), pu)
	sqrtP, sqrtPl, sqrtPu := math.Sqrt(p), math.Sqrt(pl), math.Sqrt(pu)

	termY := sqrtP - sqrtPl
	termX := 1/sqrtP - 1/sqrtPu
	if p == pl {
		termY = 0
	}
	if p == pu {
		termX = 0
	}

	denominator := termY*priceY + termX*priceX
	if !isFinite(denominator) || denominator <= 0 {
		return 0, 0, fmt.Errorf("%w: liquidity denominator is %f", ErrInvalidPrice, denominator)
	}

	liquidity := depositUSD / denominator
	return liquidity * termX, liquidity * termY, nil
}

// DepositSizing is the full input of SizeDepositUnits. Token0Rate and Token1Rate convert a
// sized amount into units of the pool token (1 leaves it unchanged).
type DepositSizing struct {
	DepositUSD     float64
	PriceX         float64
	PriceY         float64
	Price          float64
	PriceLower     float64
	PriceUpper     float64
	Token0Rate     float64
	Token1Rate     float64
	Token0Decimals int
	Token1Decimals int
}

// SizeDepositUnits runs SizeDeposit and converts both sides to base units, flooring.
func SizeDepositUnits(s DepositSizing) (amount0, amount1 sdkmath.Int, err error) {
	x, y, err := SizeDeposit(s.DepositUSD, s.PriceX, s.PriceY, s.Price, s.PriceLower, s.PriceUpper)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if !isFinite(s.Token0Rate) || s.Token0Rate <= 0 || !isFinite(s.Token1Rate) || s.Token1Rate <= 0 {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: token rates %f, %f", ErrInvalidPrice, s.Token0Rate, s.Token1Rate)
	}

	amount0, err = utils.Float64ToSDKInt(x*s.Token0Rate, s.Token0Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("token0 amount: %w", err)
	}
	amount1, err = utils.Float64ToSDKInt(y*s.Token1Rate, s.Token1Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("token1 amount: %w", err)
	}
	return amount0, amount1, nil
}

// AmountsFromLiquidity returns the token amounts a position of the given liquidity holds at
// currentTick. A zero liquidity or a range outside [MinTick, MaxTick] is a degenerate
// position and yields (0, 0) without error.
func AmountsFromLiquidity(liquidity sdkmath.Int, tickLower, tickUpper, currentTick int) (amount0, amount1 sdkmath.Int, err error) {
	if liquidity.IsNil() || liquidity.IsNegative() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), ErrInvalidLiquidity
	}
	if liquidity.IsZero() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	if tickLower >= tickUpper {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: [%d, %d]", ErrInvalidTickRange, tickLower, tickUpper)
	}
	if tickLower < MinTick || tickUpper > MaxTick {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}

	l := new(big.Float).SetPrec(bigPrec).SetInt(liquidity.BigInt())
	sqrtLower := sqrtAtTick(tickLower)
	sqrtUpper := sqrtAtTick(tickUpper)

	var a0, a1 *big.Float
	switch {
	case currentTick <= tickLower:
		a0 = amount0Delta(l, sqrtLower, sqrtUpper)
		a1 = newFloat()
	case currentTick >= tickUpper:
		a0 = newFloat()
		a1 = amount1Delta(l, sqrtLower, sqrtUpper)
	default:
		a0, a1 = amountsInRange(l, sqrtLower, sqrtAtTick(currentTick), sqrtUpper)
	}
	return floorInt(a0), floorInt(a1), nil
}

// amountsInRange is the in-range branch: amount0 over [current, upper], amount1 over [lower, current].
func amountsInRange(l, sqrtLower, sqrtCurrent, sqrtUpper *big.Float) (*big.Float, *big.Float) {
	return amount0Delta(l, sqrtCurrent, sqrtUpper), amount1Delta(l, sqrtLower, sqrtCurrent)
}

// amount0Delta = l * (1/sqrtA - 1/sqrtB)
func amount0Delta(l, sqrtA, sqrtB *big.Float) *big.Float {
	invA := newFloat().Quo(big.NewFloat(1), sqrtA)
	invB := newFloat().Quo(big.NewFloat(1), sqrtB)
	return newFloat().Mul(l, newFloat().Sub(invA, invB))
}

// amount1Delta = l * (sqrtB - sqrtA)
func amount1Delta(l, sqrtA, sqrtB *big.Float) *big.Float {
	return newFloat().Mul(l, newFloat().Sub(sqrtB, sqrtA))
}

// sqrtAtTick returns 1.0001^(tick/2).
func sqrtAtTick(tick int) *big.Float {
	return newFloat().Sqrt(powTickBase(tick))
}

// powTickBase returns 1.0001^tick by repeated squaring.
func powTickBase(tick int) *big.Float {
	base := newFloat().Set(tickBase)
	result := newFloat().SetInt64(1)
	n := tick
	if n < 0 {
		n = -n
	}
	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		n >>= 1
	}
	if tick < 0 {
		result.Quo(newFloat().SetInt64(1), result)
	}
	return result
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(bigPrec)
}

func floorInt(f *big.Float) sdkmath.Int {
	if f.Sign() <= 0 {
		return sdkmath.ZeroInt()
	}
	i, _ := f.Int(nil)
	return sdkmath.NewIntFromBigInt(i)
}

// UncollectedFees returns fees owed to a position. Checkpointed tokensOwed values are
// returned as-is; otherwise fees are derived from the fee growth counters with wrapping
// 256-bit subtraction and a 512-bit intermediate product.
func UncollectedFees(
	position types.LiquidityPosition,
	feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int,
	lowerOutside, upperOutside types.FeeGrowthOutside,
) (fees0, fees1 *uint256.Int, err error) {
	owed0, owed1 := orZero(position.TokensOwed0), orZero(position.TokensOwed1)
	if !owed0.IsZero() || !owed1.IsZero() {
		return owed0.Clone(), owed1.Clone(), nil
	}

	if position.Liquidity.IsNil() || position.Liquidity.IsNegative() {
		return nil, nil, ErrInvalidLiquidity
	}
	liquidity, overflow := uint256.FromBig(position.Liquidity.BigInt())
	if overflow {
		return nil, nil, fmt.Errorf("%w: liquidity %s", ErrFeeOverflow, position.Liquidity)
	}

	inside0 := FeeGrowthInside(feeGrowthGlobal0, lowerOutside.Token0, upperOutside.Token0)
	inside1 := FeeGrowthInside(feeGrowthGlobal1, lowerOutside.Token1, upperOutside.Token1)

	fees0, err = feesFromGrowth(liquidity, inside0, orZero(position.FeeGrowthInside0Last))
	if err != nil {
		return nil, nil, fmt.Errorf("token0: %w", err)
	}
	fees1, err = feesFromGrowth(liquidity, inside1, orZero(position.FeeGrowthInside1Last))
	if err != nil {
		return nil, nil, fmt.Errorf("token1: %w", err)
	}
	return fees0, fees1, nil
}

// FeeGrowthInside = global - lowerOutside - upperOutside (mod 2^256).
func FeeGrowthInside(global, lowerOutside, upperOutside *uint256.Int) *uint256.Int {
	inside := new(uint256.Int).Sub(orZero(global), orZero(lowerOutside))
	return inside.Sub(inside, orZero(upperOutside))
}

func feesFromGrowth(liquidity, inside, last *uint256.Int) (*uint256.Int, error) {
	delta := new(uint256.Int).Sub(inside, last)
	fees, overflow := new(uint256.Int).MulDivOverflow(liquidity, delta, q128)
	if overflow {
		return nil, ErrFeeOverflow
	}
	return fees, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// TickToPrice returns the token1-per-token0 price at tick, adjusted for token decimals.
func TickToPrice(tick, decimals0, decimals1 int) float64 {
	return math.Pow(TickBase, float64(tick)) * math.Pow10(decimals0-decimals1)
}

// SqrtPriceX96ToPrice converts a Q64.96 sqrt price into a decimals-adjusted price.
func SqrtPriceX96ToPrice(sqrtPriceX96 *uint256.Int, decimals0, decimals1 int) (float64, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return 0, ErrInvalidSqrtPrice
	}
	ratio := newFloat().SetInt(sqrtPriceX96.ToBig())
	ratio.SetMantExp(ratio, -96)
	price := newFloat().Mul(ratio, ratio)
	f, _ := price.Float64()
	return f * math.Pow10(decimals0-decimals1), nil
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value, rounded up, computed the
// same way the pool contracts do so that tick boundaries match on-chain state bit for bit.
func SqrtRatioAtTick(tick int) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(uint256.Int).Set(q128)
	if absTick&1 != 0 {
		ratio.Set(tickRatios[0])
	}
	for i := 1; i < len(tickRatios); i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, tickRatios[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(new(uint256.Int).SetAllOne(), ratio)
	}

	// Q128.128 to Q64.96, rounding up.
	rounded := new(uint256.Int).Rsh(ratio, 32)
	if new(uint256.Int).And(ratio, uint256.NewInt(0xffffffff)).Sign() != 0 {
		rounded.AddUint64(rounded, 1)
	}
	return rounded, nil
}

// TickAtSqrtPriceX96 returns the greatest tick whose sqrt ratio is <= sqrtPriceX96. Values
// outside the tick domain clamp to MinTick or MaxTick.
func TickAtSqrtPriceX96(sqrtPriceX96 *uint256.Int) (int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return 0, ErrInvalidSqrtPrice
	}
	target := newFloat().SetInt(sqrtPriceX96.ToBig())
	target.SetMantExp(target, -96)

	f, _ := target.Float64()
	tick := int(math.Floor(2 * math.Log(f) / math.Log(TickBase)))
	if tick < MinTick {
		tick = MinTick
	}
	if tick > MaxTick {
		tick = MaxTick
	}

	// The float estimate lands within a tick or two; settle it on exact ratios.
	ratioAt := func(t int) *uint256.Int {
		r, _ := SqrtRatioAtTick(t)
		return r
	}
	for tick < MaxTick && ratioAt(tick+1).Cmp(sqrtPriceX96) <= 0 {
		tick++
	}
	for tick > MinTick && ratioAt(tick).Cmp(sqrtPriceX96) > 0 {
		tick--
	}
	return tick, nil
}

// PositionValueUSD is the USD value of a position at currentTick including uncollected fees.
func PositionValueUSD(
	position types.LiquidityPosition,
	currentTick int,
	fees0, fees1 *uint256.Int,
	price0, price1 float64,
	decimals0, decimals1 int,
) (float64, error) {
	if !isFinite(price0) || price0 < 0 || !isFinite(price1) || price1 < 0 {
		return 0, fmt.Errorf("%w: %f, %f", ErrInvalidPrice, price0, price1)
	}
	liquidity := position.Liquidity
	if liquidity.IsNil() {
		liquidity = sdkmath.ZeroInt()
	}
	amount0, amount1, err := AmountsFromLiquidity(liquidity, position.TickLower, position.TickUpper, currentTick)
	if err != nil {
		return 0, err
	}
	amount0 = amount0.Add(sdkmath.NewIntFromBigInt(orZero(fees0).ToBig()))
	amount1 = amount1.Add(sdkmath.NewIntFromBigInt(orZero(fees1).ToBig()))

	v0, err := utils.SDKIntToFloat64(amount0, decimals0)
	if err != nil {
		return 0, fmt.Errorf("token0 value: %w", err)
	}
	v1, err := utils.SDKIntToFloat64(amount1, decimals1)
	if err != nil {
		return 0, fmt.Errorf("token1 value: %w", err)
	}
	return v0*price0 + v1*price1, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
