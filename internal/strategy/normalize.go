package strategy

import (
	"math"
	"sort"

	"github.com/elys-network/vaultengine/internal/logger"
	"gonum.org/v1/gonum/floats"
)

// Epsilon is the tolerance of every weight comparison.
const Epsilon = 1e-5

var normLogger = logger.GetForComponent("normalizer")

// Normalize validates raw and returns a tree whose category weights sum to their mapping
// targets. raw is not modified. Steps run in order and the first failure aborts:
//
//  1. imports are expanded into their categories
//  2. the mapping must sum to 1
//  3. no protocol id may repeat inside a category
//  4. every allocation needs a protocol and a finite non-negative weight
//  5. each category is normalized to sum to 1
//  6. each category is scaled by its mapping weight
//  7. each category sum is checked against its target
func Normalize(raw Tree, mapping WeightMapping) (Tree, WeightMapping, error) {
	tree := raw.Clone()

	if err := expandImports(&tree); err != nil {
		return Tree{}, nil, err
	}
	validated, err := validateMapping(mapping)
	if err != nil {
		return Tree{}, nil, err
	}
	if err := checkDuplicates(tree); err != nil {
		return Tree{}, nil, err
	}
	if err := validateRawWeights(tree); err != nil {
		return Tree{}, nil, err
	}

	for i := range tree.Categories {
		if err := normalizeCategory(&tree.Categories[i], validated[tree.Categories[i].Name]); err != nil {
			return Tree{}, nil, err
		}
	}

	if err := scaleCategories(&tree, validated); err != nil {
		return Tree{}, nil, err
	}
	if err := validateSums(tree, validated); err != nil {
		return Tree{}, nil, err
	}

	normLogger.Debug().
		Int("categories", len(tree.Categories)).
		Int("allocations", tree.Len()).
		Msg("Strategy normalized")

	return tree, validated, nil
}

func expandImports(tree *Tree) error {
	for i := range tree.Categories {
		c := &tree.Categories[i]
		for _, imp := range c.Imports {
			if !isFinite(imp.Weight) || imp.Weight < 0 {
				return &WeightError{Kind: ErrInvalidWeight, Category: c.Name, Actual: imp.Weight}
			}
			for _, ch := range imp.Strategy.Scale(imp.Weight) {
				c.Chains = c.Chains.append(ch.Chain, ch.Allocations...)
			}
		}
		c.Imports = nil
	}
	return nil
}

func validateRawWeights(tree Tree) error {
	return tree.Walk(func(e Entry) error {
		if e.Allocation.Protocol == nil {
			return &WeightError{Kind: ErrMissingProtocol, Category: e.Category, Chain: e.Chain, Actual: e.Allocation.Weight}
		}
		if !isFinite(e.Allocation.Weight) || e.Allocation.Weight < 0 {
			return &WeightError{Kind: ErrInvalidWeight, Category: e.Category, Chain: e.Chain, ProtocolID: e.ProtocolID(), Actual: e.Allocation.Weight}
		}
		return nil
	})
}

func validateMapping(mapping WeightMapping) (WeightMapping, error) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	validated := make(WeightMapping, len(mapping))
	values := make([]float64, 0, len(mapping))
	for _, name := range names {
		w := mapping[name]
		if !isFinite(w) || w < 0 {
			return nil, &WeightError{Kind: ErrInvalidWeightMapping, Category: name, Actual: w, Expected: 1}
		}
		validated[name] = w
		values = append(values, w)
	}

	sum := floats.Sum(values)
	if math.Abs(sum-1) >= Epsilon {
		return nil, &WeightError{Kind: ErrInvalidWeightMapping, Actual: sum, Expected: 1}
	}
	return validated, nil
}

func checkDuplicates(tree Tree) error {
	for _, c := range tree.Categories {
		seen := make(map[string]string)
		for _, ch := range c.Chains {
			for _, a := range ch.Allocations {
				if a.Protocol == nil {
					continue
				}
				id := a.Protocol.UniqueID()
				if first, ok := seen[id]; ok {
					normLogger.Error().
						Str("category", c.Name).
						Str("protocol", id).
						Str("first_chain", first).
						Str("second_chain", ch.Chain).
						Msg("Duplicate protocol in category")
					return &WeightError{Kind: ErrDuplicateProtocol, Category: c.Name, Chain: ch.Chain, ProtocolID: id}
				}
				seen[id] = ch.Chain
			}
		}
	}
	return nil
}

func normalizeCategory(c *Category, target float64) error {
	total := sumWeights(c.weights())

	switch {
	case math.Abs(total-1) < Epsilon:
		return nil
	case total == 0:
		if target > Epsilon {
			return &WeightError{Kind: ErrEmptyCategoryWeights, Category: c.Name, Actual: 0, Expected: target}
		}
		setWeights(c, func(float64) float64 { return 0 })
	default:
		setWeights(c, func(w float64) float64 { return w / total })
	}
	return nil
}

func scaleCategories(tree *Tree, mapping WeightMapping) error {
	present := make(map[string]bool, len(tree.Categories))
	for i := range tree.Categories {
		c := &tree.Categories[i]
		present[c.Name] = true
		// categories without a target keep their allocations at zero weight
		factor := mapping[c.Name]
		setWeights(c, func(w float64) float64 { return w * factor })
	}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !present[name] && mapping[name] > Epsilon {
			return &WeightError{Kind: ErrEmptyCategoryWeights, Category: name, Actual: 0, Expected: mapping[name]}
		}
	}
	return nil
}

func validateSums(tree Tree, mapping WeightMapping) error {
	for _, c := range tree.Categories {
		actual := sumWeights(c.weights())
		expected := mapping[c.Name]
		if math.IsNaN(actual) || math.Abs(actual-expected) >= Epsilon {
			return &WeightError{Kind: ErrWeightSumMismatch, Category: c.Name, Actual: actual, Expected: expected}
		}
	}
	return nil
}

func setWeights(c *Category, fn func(float64) float64) {
	for i := range c.Chains {
		for j := range c.Chains[i].Allocations {
			c.Chains[i].Allocations[j].Weight = fn(c.Chains[i].Allocations[j].Weight)
		}
	}
}

func sumWeights(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	return floats.Sum(weights)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
