// Package routing implements the routing scheduler (spec §2 item 7,
// §4.4): a deterministic topological order over channels whose
// ChannelInputProvider plugins read another channel's output, with
// cycle rejection.
//
// Grounded on the teacher's session.Manager dependency bookkeeping
// (map-of-slices adjacency, rebuilt wholesale on every structural
// change rather than incrementally patched) and on the staged-pipeline
// ordering idiom from the pack's stages_advanced.go example.
package routing

import "sort"

// Source describes one channel's routing dependency, as read from its
// ChannelInputProvider plugin (spec §4.4 "a channel's position in the
// schedule is determined by ... the channel(s) it reads from").
type Source struct {
	ChannelID      int
	CreatedAt      int64 // monotonic creation order, used as the tie-break
	DependsOn      []int // channel ids this channel's input providers read from
}

// Result is the computed schedule.
type Result struct {
	Order        []int         // channel ids in processing order
	DroppedEdges []DroppedEdge // edges removed to break a cycle
}

// DroppedEdge records one edge dropped to break a cycle (spec §4.4
// "Cycle handling": "the offending dependency is dropped and a warning
// counter incremented", §7 "routing graph cycles").
type DroppedEdge struct {
	From int // depends on
	To   int // depended-upon channel
}

// Schedule computes a deterministic topological order over sources.
// Ties (channels with no remaining dependency relationship to each
// other) are broken by ascending CreatedAt, then by ChannelID, so the
// order is stable across repeated calls with the same input (spec §4.4
// "Determinism").
func Schedule(sources []Source) Result {
	byID := make(map[int]*Source, len(sources))
	for i := range sources {
		byID[sources[i].ChannelID] = &sources[i]
	}

	// indegree counts how many not-yet-scheduled dependencies remain for
	// each channel; edges pointing at a channel not present in sources
	// are ignored (that source is external / already resolved).
	indegree := make(map[int]int, len(sources))
	dependents := make(map[int][]int, len(sources)) // channel -> channels that depend on it
	for i := range sources {
		s := &sources[i]
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			indegree[s.ChannelID]++
			dependents[dep] = append(dependents[dep], s.ChannelID)
		}
		if _, ok := indegree[s.ChannelID]; !ok {
			indegree[s.ChannelID] = 0
		}
	}

	var ready []int
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortByCreation(ready, byID)

	var order []int
	for len(ready) > 0 {
		sortByCreation(ready, byID)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	dropped := breakCycles(order, sources, byID, indegree)
	if len(dropped) > 0 {
		// Re-run with the offending edges removed so the remaining graph
		// is a DAG (spec §4.4: drop the edge, keep the rest of the
		// schedule usable rather than failing the whole channel set).
		filtered := removeEdges(sources, dropped)
		res := Schedule(filtered)
		res.DroppedEdges = append(dropped, res.DroppedEdges...)
		return res
	}

	return Result{Order: order}
}

func sortByCreation(ids []int, byID map[int]*Source) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ChannelID < b.ChannelID
	})
}

// breakCycles runs when the main Kahn's-algorithm pass leaves channels
// unscheduled and picks a single edge to drop: from the unscheduled
// channel with the numerically smallest id to its smallest-id
// unscheduled dependency, for determinism (spec §4.4 "the
// specific edge chosen for removal is implementation-defined but must
// be deterministic").
func breakCycles(order []int, sources []Source, byID map[int]*Source, indegree map[int]int) []DroppedEdge {
	scheduled := make(map[int]bool, len(order))
	for _, id := range order {
		scheduled[id] = true
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if scheduled[id] {
			continue
		}
		s := byID[id]
		deps := make([]int, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if _, ok := byID[d]; ok && !scheduled[d] {
				deps = append(deps, d)
			}
		}
		sort.Ints(deps)
		if len(deps) > 0 {
			return []DroppedEdge{{From: id, To: deps[0]}}
		}
	}
	return nil
}

func removeEdges(sources []Source, dropped []DroppedEdge) []Source {
	drop := make(map[[2]int]bool, len(dropped))
	for _, d := range dropped {
		drop[[2]int{d.From, d.To}] = true
	}
	out := make([]Source, len(sources))
	for i, s := range sources {
		out[i] = s
		kept := make([]int, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if !drop[[2]int{s.ChannelID, d}] {
				kept = append(kept, d)
			}
		}
		out[i].DependsOn = kept
	}
	return out
}
