/*

The strategy tree: category -> chain -> ordered protocol allocations.

Go maps do not keep insertion order, so every level is an ordered slice. Iteration order
(category, then chain, then allocation index) drives the order of generated transactions.

*/

package strategy

import (
	"github.com/elys-network/vaultengine/internal/types"
)

// Allocation is a protocol and the fraction of vault capital it receives.
type Allocation struct {
	Protocol types.ProtocolHandle
	Weight   float64
}

// ChainAllocations is the ordered list of allocations on one chain.
type ChainAllocations struct {
	Chain       string
	Allocations []Allocation
}

// ChainBucket is the ordered set of chains of a category.
type ChainBucket []ChainAllocations

// Import reuses another strategy's bucket inside a category, scaled by Weight.
type Import struct {
	Strategy ChainBucket
	Weight   float64
}

type Category struct {
	Name    string
	Chains  ChainBucket
	Imports []Import
}

// Tree is a vault strategy. It becomes read-only once normalized.
type Tree struct {
	Categories []Category
}

// WeightMapping is the declared target weight of every category.
type WeightMapping map[string]float64

// Entry is one allocation together with its position in the tree.
type Entry struct {
	Category   string
	Chain      string
	Index      int
	Allocation Allocation
}

// ProtocolID returns the unique id of the entry's protocol, or "" when it has none.
func (e Entry) ProtocolID() string {
	if e.Allocation.Protocol == nil {
		return ""
	}
	return e.Allocation.Protocol.UniqueID()
}

// Add appends an allocation, creating the category and chain on first use.
func (t *Tree) Add(category, chain string, protocol types.ProtocolHandle, weight float64) {
	c := t.ensureCategory(category)
	c.Chains = c.Chains.append(chain, Allocation{Protocol: protocol, Weight: weight})
}

// AddImport schedules bucket to be merged into category with its weights scaled by weight.
func (t *Tree) AddImport(category string, bucket ChainBucket, weight float64) {
	c := t.ensureCategory(category)
	c.Imports = append(c.Imports, Import{Strategy: bucket.Clone(), Weight: weight})
}

func (t *Tree) ensureCategory(name string) *Category {
	for i := range t.Categories {
		if t.Categories[i].Name == name {
			return &t.Categories[i]
		}
	}
	t.Categories = append(t.Categories, Category{Name: name})
	return &t.Categories[len(t.Categories)-1]
}

// Category returns a copy of the named category.
func (t Tree) Category(name string) (Category, bool) {
	for _, c := range t.Categories {
		if c.Name == name {
			return c.clone(), true
		}
	}
	return Category{}, false
}

// Walk visits every allocation in category -> chain -> index order and stops at the
// first error.
func (t Tree) Walk(fn func(Entry) error) error {
	for _, c := range t.Categories {
		for _, ch := range c.Chains {
			for i, a := range ch.Allocations {
				if err := fn(Entry{Category: c.Name, Chain: ch.Chain, Index: i, Allocation: a}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Flatten returns every allocation in walk order.
func (t Tree) Flatten() []Entry {
	var entries []Entry
	_ = t.Walk(func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	return entries
}

// CategoryTotal sums the weights of a category across its chains.
func (t Tree) CategoryTotal(name string) float64 {
	c, ok := t.Category(name)
	if !ok {
		return 0
	}
	return sumWeights(c.weights())
}

// Total sums every allocation weight of the tree.
func (t Tree) Total() float64 {
	var weights []float64
	for _, c := range t.Categories {
		weights = append(weights, c.weights()...)
	}
	return sumWeights(weights)
}

// Clone deep-copies the tree structure. Protocol handles are shared.
func (t Tree) Clone() Tree {
	out := Tree{Categories: make([]Category, len(t.Categories))}
	for i, c := range t.Categories {
		out.Categories[i] = c.clone()
	}
	return out
}

// Bucket exports a category's chains so another vault can import them.
func (t Tree) Bucket(category string) ChainBucket {
	c, ok := t.Category(category)
	if !ok {
		return nil
	}
	return c.Chains
}

// Len is the number of allocations in the tree.
func (t Tree) Len() int {
	n := 0
	for _, c := range t.Categories {
		for _, ch := range c.Chains {
			n += len(ch.Allocations)
		}
	}
	return n
}

func (c Category) clone() Category {
	out := Category{Name: c.Name, Chains: c.Chains.Clone()}
	if len(c.Imports) > 0 {
		out.Imports = make([]Import, len(c.Imports))
		for i, imp := range c.Imports {
			out.Imports[i] = Import{Strategy: imp.Strategy.Clone(), Weight: imp.Weight}
		}
	}
	return out
}

func (c Category) weights() []float64 {
	var weights []float64
	for _, ch := range c.Chains {
		for _, a := range ch.Allocations {
			weights = append(weights, a.Weight)
		}
	}
	return weights
}

// Clone copies the bucket.
func (b ChainBucket) Clone() ChainBucket {
	if b == nil {
		return nil
	}
	out := make(ChainBucket, len(b))
	for i, ch := range b {
		out[i] = ChainAllocations{Chain: ch.Chain, Allocations: append([]Allocation(nil), ch.Allocations...)}
	}
	return out
}

// Scale returns a copy of the bucket with every weight multiplied by factor.
func (b ChainBucket) Scale(factor float64) ChainBucket {
	out := b.Clone()
	for i := range out {
		for j := range out[i].Allocations {
			out[i].Allocations[j].Weight *= factor
		}
	}
	return out
}

// append adds allocations to chain, appending the chain when it is new.
func (b ChainBucket) append(chain string, allocations ...Allocation) ChainBucket {
	for i := range b {
		if b[i].Chain == chain {
			b[i].Allocations = append(b[i].Allocations, allocations...)
			return b
		}
	}
	return append(b, ChainAllocations{Chain: chain, Allocations: append([]Allocation(nil), allocations...)})
}
