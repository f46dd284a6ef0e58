package universe

import (
	"sort"

	"ox-market-maker/internal/market"
)

// Result is one selection pass: the new selection in priority order and the
// subscription delta against the previous selection.
type Result struct {
	Selection []string
	ToAdd     []string
	ToRemove  []string
}

// Select ranks eligible candidates by 24h volume and fills up to maxN slots
// after the pinned instruments. Pinned instruments are always kept, even when
// that takes the selection above maxN.
func Select(candidates []market.Snapshot, pinned, previous []string, maxN int, minSpreadPct float64) Result {
	eligible := make([]market.Snapshot, 0, len(candidates))
	for _, snap := range candidates {
		if !snap.HasSpread || !snap.HasVolume {
			continue
		}
		if snap.SpreadPct > minSpreadPct {
			eligible = append(eligible, snap)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Volume24h > eligible[j].Volume24h
	})

	selection := make([]string, 0, maxN+len(pinned))
	seen := make(map[string]struct{}, maxN+len(pinned))
	for _, inst := range pinned {
		if _, dup := seen[inst]; dup || inst == "" {
			continue
		}
		seen[inst] = struct{}{}
		selection = append(selection, inst)
	}
	for _, snap := range eligible {
		if len(selection) >= maxN {
			break
		}
		if _, dup := seen[snap.Instrument]; dup {
			continue
		}
		seen[snap.Instrument] = struct{}{}
		selection = append(selection, snap.Instrument)
	}

	return Result{
		Selection: selection,
		ToAdd:     difference(selection, previous),
		ToRemove:  difference(previous, selection),
	}
}

// Initial is the start-up selection used before any market data exists:
// pinned instruments plus the first maxN of the universe.
func Initial(universe, pinned []string, maxN int) []string {
	out := make([]string, 0, maxN+len(pinned))
	seen := make(map[string]struct{}, maxN+len(pinned))
	for _, inst := range pinned {
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	added := 0
	for _, inst := range universe {
		if added >= maxN {
			break
		}
		added++
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	return out
}

// difference returns a - b, sorted.
func difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, item := range b {
		exclude[item] = struct{}{}
	}
	var out []string
	for _, item := range a {
		if _, ok := exclude[item]; ok {
			continue
		}
		exclude[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
