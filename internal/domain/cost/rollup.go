package cost

import "sort"

// Edge links a run to its parent. An empty ParentID marks a root.
type Edge struct {
	ID       string
	ParentID string
}

// Subtree is the rollup of one run: its own items plus every descendant's.
type Subtree struct {
	TotalCostInUSDCents int64
	Costs               []Breakdown
}

// Rollup computes the subtree totals of every node in edges.
//
// edges must contain the closure of the runs of interest: each requested run
// and all of its descendants. Items whose run is not in edges are ignored. A
// parent that is not in edges is treated as absent, so the child becomes a
// local root. Depth is unbounded; cycles in corrupt data are broken rather
// than followed.
func Rollup(edges []Edge, items []Item) map[string]Subtree {
	parents := make(map[string]string, len(edges))
	for _, e := range edges {
		parents[e.ID] = e.ParentID
	}

	children := make(map[string][]string, len(edges))
	for _, e := range edges {
		if _, ok := parents[e.ParentID]; ok && e.ParentID != "" {
			children[e.ParentID] = append(children[e.ParentID], e.ID)
		}
	}

	own := make(map[string][]Item, len(parents))
	for i := range items {
		if _, ok := parents[items[i].RunID]; ok {
			own[items[i].RunID] = append(own[items[i].RunID], items[i])
		}
	}

	tallies := make(map[string]*tally, len(parents))
	for _, id := range leavesFirst(parents, children) {
		t := newTally()
		for i := range own[id] {
			t.add(own[id][i].CostName, own[id][i].Quantity, own[id][i].TotalCostInUSDCents)
		}
		for _, c := range children[id] {
			// A child without a tally is an ancestor reached through a cycle.
			if ct, ok := tallies[c]; ok {
				t.merge(ct)
			}
		}
		tallies[id] = t
	}

	out := make(map[string]Subtree, len(tallies))
	for id, t := range tallies {
		out[id] = t.subtree()
	}
	return out
}

// leavesFirst returns every node so that each node appears after all of its
// descendants (iterative post-order).
func leavesFirst(parents map[string]string, children map[string][]string) []string {
	ids := make([]string, 0, len(parents))
	for id := range parents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Roots first so traversal follows real tree shape; nodes only reachable
	// through a cycle are picked up by the second pass.
	starts := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := parents[parents[id]]; !ok || parents[id] == "" {
			starts = append(starts, id)
		}
	}
	starts = append(starts, ids...)

	type frame struct {
		id       string
		expanded bool
	}

	seen := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))
	for _, start := range starts {
		if seen[start] {
			continue
		}
		seen[start] = true
		stack := []frame{{id: start}}
		for len(stack) > 0 {
			top := len(stack) - 1
			if stack[top].expanded {
				order = append(order, stack[top].id)
				stack = stack[:top]
				continue
			}
			stack[top].expanded = true
			for _, c := range children[stack[top].id] {
				if !seen[c] {
					seen[c] = true
					stack = append(stack, frame{id: c})
				}
			}
		}
	}
	return order
}

type tally struct {
	total  int64
	byName map[string]*Breakdown
}

func newTally() *tally {
	return &tally{byName: make(map[string]*Breakdown)}
}

func (t *tally) add(name string, quantity, total int64) {
	b, ok := t.byName[name]
	if !ok {
		b = &Breakdown{CostName: name}
		t.byName[name] = b
	}
	b.Quantity += quantity
	b.TotalCostInUSDCents += total
	t.total += total
}

func (t *tally) merge(o *tally) {
	for name, b := range o.byName {
		t.add(name, b.Quantity, b.TotalCostInUSDCents)
	}
}

func (t *tally) subtree() Subtree {
	costs := make([]Breakdown, 0, len(t.byName))
	for _, b := range t.byName {
		costs = append(costs, *b)
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].CostName < costs[j].CostName })
	return Subtree{TotalCostInUSDCents: t.total, Costs: costs}
}
