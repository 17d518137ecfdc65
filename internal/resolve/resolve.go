// Package resolve merges per-adapter collections into the single ordered
// finding list the report is built from.
package resolve

import (
	"fmt"
	"sort"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// Strategy names accepted by New.
const (
	StrategyConcat = "concat"
	StrategyDedupe = "dedupe"
)

// GroupOrder is the adapter order used for grouping. Adapters not listed
// follow in name order.
var GroupOrder = []string{"style", "security", "performance"}

// Resolver combines collections. Implementations must not drop findings
// except by their documented rule, and must not mutate their input.
type Resolver interface {
	Resolve(colls []finding.Collection) []finding.Finding
}

// New returns the resolver for a configured strategy. Empty means concat.
func New(strategy string) (Resolver, error) {
	switch strategy {
	case "", StrategyConcat:
		return Concat{}, nil
	case StrategyDedupe:
		return Dedupe{}, nil
	}
	return nil, fmt.Errorf("unknown resolver strategy %q", strategy)
}

// Concat keeps every finding, grouped by adapter, preserving each
// adapter's internal order. Missing or skipped adapters contribute nothing.
type Concat struct{}

func (Concat) Resolve(colls []finding.Collection) []finding.Finding {
	var out []finding.Finding
	for _, c := range Ordered(colls) {
		out = append(out, c.Findings...)
	}
	return out
}

// Dedupe drops findings that share a file, line and rule class with a more
// severe one, then orders the survivors by severity. Ties keep Concat order.
// Findings without a line number are never merged.
type Dedupe struct{}

func (Dedupe) Resolve(colls []finding.Collection) []finding.Finding {
	all := Concat{}.Resolve(colls)
	best := make(map[string]int, len(all))
	var out []finding.Finding
	for _, f := range all {
		if f.Location.Line <= 0 {
			out = append(out, f)
			continue
		}
		key := f.Key()
		if i, ok := best[key]; ok {
			if f.Severity.Weight() > out[i].Severity.Weight() {
				out[i] = f
			}
			continue
		}
		best[key] = len(out)
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Weight() > out[j].Severity.Weight()
	})
	return out
}

// Ordered returns collections sorted by GroupOrder, then by adapter name. Several
// collections from one adapter keep their relative order.
func Ordered(colls []finding.Collection) []finding.Collection {
	rank := make(map[string]int, len(GroupOrder))
	for i, name := range GroupOrder {
		rank[name] = i
	}
	ordered := append([]finding.Collection(nil), colls...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iok := rank[ordered[i].Adapter]
		rj, jok := rank[ordered[j].Adapter]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return ordered[i].Adapter < ordered[j].Adapter
	})
	return ordered
}
