/*
This file contains the fixed-point helpers shared by every component: conversion between
USD/price floats and on-chain integer amounts, basis-point truncation and slippage bounds.
All amounts that end up in a transaction go through here.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrInvalidFraction  = errors.New("fraction must be within [0, 1]")
)

// MaxPrecision is the largest decimal scale LegacyDec carries exactly.
const MaxPrecision = 18

// BasisPointsPerUnit is 100%.
const BasisPointsPerUnit = 10000

// bpsTolerance absorbs float representation error such as 0.29*10000 = 2899.9999999999995.
const bpsTolerance = 1e-9

// RoundingMode selects how a scaled value is brought to an integer.
type RoundingMode int

const (
	RoundFloor RoundingMode = iota
	RoundCeil
	RoundHalfEven
)

// Pow10 returns 10^n as an SDK Int.
func Pow10(n int) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > MaxPrecision {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxPrecision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromInt(amount).Quo(sdkmath.LegacyNewDecFromInt(Pow10(precision)))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// Float64ToSDKInt converts a float64 to SDK Int at the given precision, truncating.
func Float64ToSDKInt(amount float64, precision int) (sdkmath.Int, error) {
	return ScaleToInt(amount, precision, RoundFloor)
}

// ScaleToInt multiplies amount by 10^precision and rounds the result with mode.
func ScaleToInt(amount float64, precision int, mode RoundingMode) (sdkmath.Int, error) {
	if precision < 0 || precision > MaxPrecision {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxPrecision)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Use string conversion to avoid floating point precision issues
	amountStr := fmt.Sprintf("%.*f", MaxPrecision, amount)
	decAmount, err := sdkmath.LegacyNewDecFromStr(amountStr)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}

	scaled := decAmount.Mul(sdkmath.LegacyNewDecFromInt(Pow10(precision)))

	var result sdkmath.Int
	switch mode {
	case RoundCeil:
		result = scaled.Ceil().TruncateInt()
	case RoundHalfEven:
		result = scaled.RoundInt()
	default:
		result = scaled.TruncateInt()
	}
	if result.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	return result, nil
}

// BasisPoints truncates a fraction in [0, 1] to whole basis points.
func BasisPoints(fraction float64) (int64, error) {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return 0, fmt.Errorf("%w: fraction is %f", ErrNotFinite, fraction)
	}
	if fraction < 0 || fraction > 1+bpsTolerance {
		return 0, fmt.Errorf("%w: got %f", ErrInvalidFraction, fraction)
	}
	bps := int64(math.Floor(fraction*BasisPointsPerUnit + bpsTolerance))
	if bps > BasisPointsPerUnit {
		bps = BasisPointsPerUnit
	}
	return bps, nil
}

// MulBasisPoints returns amount * floor(fraction*10000) / 10000. The result never
// exceeds amount * fraction.
func MulBasisPoints(amount sdkmath.Int, fraction float64) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	bps, err := BasisPoints(fraction)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amount.MulRaw(bps).QuoRaw(BasisPointsPerUnit), nil
}

// MulDec multiplies an integer amount by a decimal rate and truncates.
func MulDec(amount sdkmath.Int, rate sdkmath.LegacyDec) sdkmath.Int {
	if amount.IsNil() || rate.IsNil() {
		return sdkmath.ZeroInt()
	}
	return sdkmath.LegacyNewDecFromInt(amount).Mul(rate).TruncateInt()
}

// ApplySlippage bounds amount from below by a slippage given in percent (0.5 = 0.5%).
func ApplySlippage(amount sdkmath.Int, slippagePercent float64) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if math.IsNaN(slippagePercent) || math.IsInf(slippagePercent, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: slippage is %f", ErrNotFinite, slippagePercent)
	}
	if slippagePercent < 0 || slippagePercent > 100 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: slippage %f%% outside [0, 100]", ErrInvalidFraction, slippagePercent)
	}
	slippageBps := int64(math.Floor(slippagePercent * 100))
	return amount.MulRaw(BasisPointsPerUnit - slippageBps).QuoRaw(BasisPointsPerUnit), nil
}

// ParseRate parses a decimal string such as "0.00299" into a rate within [0, 1].
func ParseRate(s string) (sdkmath.LegacyDec, error) {
	rate, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %q: %w", ErrConversionFailed, s, err)
	}
	if rate.IsNegative() || rate.GT(sdkmath.LegacyOneDec()) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: rate %s", ErrInvalidFraction, rate)
	}
	return rate, nil
}
