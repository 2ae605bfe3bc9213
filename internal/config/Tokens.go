/*
This file contains the tokens the engine knows by name, keyed by chain and symbol.

The configuration refers to tokens such as the rebalance intermediate asset by chain and symbol.
A token that is not listed here must be given in full (address and decimals) in the config file.
The zero address is the chain's native asset.
*/

package config

import (
	"fmt"
	"strings"

	"github.com/elys-network/vaultengine/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

var (
	KnownTokens = map[string]types.TokenMeta{
		"arbitrum/usdc": {Symbol: "usdc", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6, Chain: "arbitrum"},
		"arbitrum/usdt": {Symbol: "usdt", Address: common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"), Decimals: 6, Chain: "arbitrum"},
		"arbitrum/weth": {Symbol: "weth", Address: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), Decimals: 18, Chain: "arbitrum"},
		"arbitrum/eth":  {Symbol: "eth", Decimals: 18, Chain: "arbitrum"},
		"base/usdc":     {Symbol: "usdc", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6, Chain: "base"},
		"base/weth":     {Symbol: "weth", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18, Chain: "base"},
		"base/eth":      {Symbol: "eth", Decimals: 18, Chain: "base"},
		"op/usdc":       {Symbol: "usdc", Address: common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"), Decimals: 6, Chain: "op"},
		"op/weth":       {Symbol: "weth", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18, Chain: "op"},
	}
)

// LookupToken returns the known token with symbol on chain. Both are matched case-insensitively.
func LookupToken(chain, symbol string) (types.TokenMeta, error) {
	key := strings.ToLower(strings.TrimSpace(chain)) + "/" + strings.ToLower(strings.TrimSpace(symbol))
	token, ok := KnownTokens[key]
	if !ok {
		return types.TokenMeta{}, fmt.Errorf("%w: %s", ErrUnknownToken, key)
	}
	return token, nil
}
