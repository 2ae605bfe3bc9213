/*

This is a custom type for tokens which contains what the engine needs to size amounts and
build transfers: symbol for price lookups, address for calldata and decimals for scaling.

*/

package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type TokenMeta struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`     // e.g., "usdc"
	Address  common.Address `json:"address" yaml:"address"`   // e.g., 0xaf88...5831
	Decimals int            `json:"decimals" yaml:"decimals"` // e.g., 6
	Chain    string         `json:"chain,omitempty" yaml:"chain,omitempty"`
}

// PriceKey is the symbol as used in a PriceTable.
func (t TokenMeta) PriceKey() string {
	return strings.ToLower(t.Symbol)
}

// PriceTable maps a lowercase token symbol to its USD price.
type PriceTable map[string]float64

// Price looks a symbol up case-insensitively.
func (p PriceTable) Price(symbol string) (float64, bool) {
	price, ok := p[strings.ToLower(symbol)]
	return price, ok
}

// Normalized returns a copy keyed by lowercase symbols.
func (p PriceTable) Normalized() PriceTable {
	out := make(PriceTable, len(p))
	for symbol, price := range p {
		out[strings.ToLower(symbol)] = price
	}
	return out
}
