/*

This file reads a vault strategy from YAML. The file declares protocols by id with raw relative
weights; the adapters behind those ids live outside this module and are supplied by a resolver.

	name: all-weather
	weight_mapping: {gold: 0.5, stable: 0.5}
	buckets:
	  eth-stable:
	    - chain: arbitrum
	      protocols: [{id: arb/aave/v3/usdc, weight: 1}]
	categories:
	  - name: gold
	    chains:
	      - chain: arbitrum
	        protocols: [{id: arb/gmx/v2/paxg, weight: 2}]
	  - name: stable
	    imports: [{bucket: eth-stable, weight: 1}]

*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/elys-network/vaultengine/internal/strategy"
	"github.com/elys-network/vaultengine/internal/types"
	"gopkg.in/yaml.v3"
)

var ErrInvalidStrategyFile = errors.New("strategy file is invalid")

type StrategyFile struct {
	Name          string                  `yaml:"name"`
	WeightMapping map[string]float64      `yaml:"weight_mapping"`
	Buckets       map[string][]ChainEntry `yaml:"buckets"`
	Categories    []CategoryEntry         `yaml:"categories"`
}

type CategoryEntry struct {
	Name    string        `yaml:"name"`
	Chains  []ChainEntry  `yaml:"chains"`
	Imports []ImportEntry `yaml:"imports"`
}

type ChainEntry struct {
	Chain     string          `yaml:"chain"`
	Protocols []ProtocolEntry `yaml:"protocols"`
}

type ProtocolEntry struct {
	ID     string  `yaml:"id"`
	Weight float64 `yaml:"weight"`
}

// ImportEntry pulls a named bucket into a category, scaled by Weight.
type ImportEntry struct {
	Bucket string  `yaml:"bucket"`
	Weight float64 `yaml:"weight"`
}

// ProtocolResolver returns the adapter for a declared protocol id on chain.
type ProtocolResolver func(chain, id string) (types.ProtocolHandle, error)

// LoadStrategy reads and parses the strategy file at path.
func LoadStrategy(path string) (*StrategyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadStrategy: read %q: %w", path, err)
	}
	return ParseStrategy(data)
}

// ParseStrategy parses a strategy document. Structural problems are reported here; weight
// invariants are left to strategy.Normalize.
func ParseStrategy(data []byte) (*StrategyFile, error) {
	var f StrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config.ParseStrategy: parse YAML: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidStrategyFile)
	}
	for _, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: category without a name", ErrInvalidStrategyFile)
		}
		for _, imp := range c.Imports {
			if _, ok := f.Buckets[imp.Bucket]; !ok {
				return nil, fmt.Errorf("%w: category %s imports unknown bucket %q", ErrInvalidStrategyFile, c.Name, imp.Bucket)
			}
		}
	}
	return &f, nil
}

// Build resolves every declared protocol and assembles the raw tree and weight mapping.
// The result still has to go through strategy.Normalize.
func (f *StrategyFile) Build(resolve ProtocolResolver) (strategy.Tree, strategy.WeightMapping, error) {
	if resolve == nil {
		return strategy.Tree{}, nil, fmt.Errorf("%w: resolver is nil", ErrInvalidStrategyFile)
	}

	handles := make(map[string]types.ProtocolHandle)
	handle := func(chain, id string) (types.ProtocolHandle, error) {
		key := chain + "|" + id
		if h, ok := handles[key]; ok {
			return h, nil
		}
		h, err := resolve(chain, id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s on %s: %w", id, chain, err)
		}
		handles[key] = h
		return h, nil
	}

	buckets := make(map[string]strategy.ChainBucket, len(f.Buckets))
	for name, chains := range f.Buckets {
		var tmp strategy.Tree
		for _, ch := range chains {
			for _, p := range ch.Protocols {
				h, err := handle(ch.Chain, p.ID)
				if err != nil {
					return strategy.Tree{}, nil, err
				}
				tmp.Add(name, ch.Chain, h, p.Weight)
			}
		}
		buckets[name] = tmp.Bucket(name)
	}

	var tree strategy.Tree
	for _, c := range f.Categories {
		for _, ch := range c.Chains {
			for _, p := range ch.Protocols {
				h, err := handle(ch.Chain, p.ID)
				if err != nil {
					return strategy.Tree{}, nil, err
				}
				tree.Add(c.Name, ch.Chain, h, p.Weight)
			}
		}
		for _, imp := range c.Imports {
			tree.AddImport(c.Name, buckets[imp.Bucket], imp.Weight)
		}
	}

	mapping := make(strategy.WeightMapping, len(f.WeightMapping))
	for name, w := range f.WeightMapping {
		mapping[name] = w
	}
	return tree, mapping, nil
}
