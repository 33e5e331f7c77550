// Package ordering holds the pure reordering functions applied to sibling
// units when a container is built or reset. Every function returns a new
// slice and leaves its input untouched.
package ordering

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sort"

	"speriment/internal/logging"
)

var (
	// ErrUnevenGroups is returned by LatinSquare when groups differ in size.
	ErrUnevenGroups = errors.New("latin square groups have uneven sizes")
	// ErrMissingCondition is returned by Pseudorandomize when a unit has no
	// condition label.
	ErrMissingCondition = errors.New("pseudorandomization requires a condition on every unit")
	// ErrImpossibleOrdering is returned by Pseudorandomize when the condition
	// counts make an alternating order unreachable.
	ErrImpossibleOrdering = errors.New("pseudorandomization cannot separate equal conditions")
)

// Shuffle returns a uniformly permuted copy of units.
func Shuffle[T any](rng *rand.Rand, units []T) []T {
	out := slices.Clone(units)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Reverse returns a reversed copy of units.
func Reverse[T any](units []T) []T {
	out := slices.Clone(units)
	slices.Reverse(out)
	return out
}

// LatinSquare picks one unit per group: group i contributes
// groups[i][(i+version) mod k], where k is the common group size.
func LatinSquare[T any](groups [][]T, version int) ([]T, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	k := len(groups[0])
	for i, g := range groups {
		if len(g) != k {
			return nil, fmt.Errorf("%w: group 0 has %d entries, group %d has %d", ErrUnevenGroups, k, i, len(g))
		}
	}
	if k == 0 {
		return nil, fmt.Errorf("%w: groups are empty", ErrUnevenGroups)
	}

	out := make([]T, len(groups))
	for i, g := range groups {
		out[i] = g[mod(i+version, k)]
	}
	return out, nil
}

// SampleGroups picks one unit uniformly at random from every group.
func SampleGroups[T any](rng *rand.Rand, groups [][]T) []T {
	out := make([]T, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		out = append(out, g[rng.Intn(len(g))])
	}
	return out
}

// Pseudorandomize shuffles units so that no two neighbours share a
// condition. condition reports a unit's label and whether it has one.
//
// Units are shuffled, then placed greedily: each step takes the first
// remaining unit whose condition differs from the last placed one. When
// every remaining unit shares that condition, the next one is swapped into
// the earliest slot whose three-wide window does not contain its condition,
// and the displaced unit moves to the end.
func Pseudorandomize[T any](rng *rand.Rand, units []T, condition func(T) (string, bool)) ([]T, error) {
	if len(units) == 0 {
		return nil, nil
	}
	for i, u := range units {
		if _, ok := condition(u); !ok {
			return nil, fmt.Errorf("%w: unit %d", ErrMissingCondition, i)
		}
	}
	cond := func(u T) string {
		c, _ := condition(u)
		return c
	}

	remaining := Shuffle(rng, units)
	placed := []T{remaining[0]}
	remaining = remaining[1:]

	for len(remaining) > 0 {
		last := cond(placed[len(placed)-1])
		idx := slices.IndexFunc(remaining, func(u T) bool { return cond(u) != last })
		if idx >= 0 {
			placed = append(placed, remaining[idx])
			remaining = slices.Delete(remaining, idx, idx+1)
			continue
		}

		next := remaining[0]
		remaining = remaining[1:]
		var err error
		placed, err = swapInto(next, placed, cond)
		if err != nil {
			logging.OrderingWarn("pseudorandomization failed after placing %d of %d units", len(placed), len(units))
			return nil, err
		}
	}

	if i := adjacentConflict(placed, cond); i >= 0 {
		return nil, fmt.Errorf("%w: positions %d and %d share condition %q", ErrImpossibleOrdering, i, i+1, cond(placed[i]))
	}
	return placed, nil
}

func swapInto[T any](next T, placed []T, cond func(T) string) ([]T, error) {
	c := cond(next)
	for i := range placed {
		lo := max(i-1, 0)
		hi := min(i+2, len(placed))
		clash := false
		for _, u := range placed[lo:hi] {
			if cond(u) == c {
				clash = true
				break
			}
		}
		if !clash {
			displaced := placed[i]
			placed[i] = next
			return append(placed, displaced), nil
		}
	}
	return nil, fmt.Errorf("%w: no slot for condition %q", ErrImpossibleOrdering, c)
}

func adjacentConflict[T any](units []T, cond func(T) string) int {
	for i := 0; i+1 < len(units); i++ {
		if cond(units[i]) == cond(units[i+1]) {
			return i
		}
	}
	return -1
}

// Reorder rearranges only the units whose ids appear in ids. Those units
// keep the set of positions they occupied, and are laid into those
// positions in the order produced by arrange(ids). Every other unit stays
// where it was.
func Reorder[T any](units []T, ids []string, id func(T) string, arrange func([]string) []string) []T {
	out := slices.Clone(units)
	if len(ids) == 0 {
		return out
	}

	var positions []int
	var selected []T
	for i, u := range out {
		if slices.Contains(ids, id(u)) {
			positions = append(positions, i)
			selected = append(selected, u)
		}
	}
	if len(positions) == 0 {
		return out
	}

	rank := make(map[string]int, len(ids))
	for i, x := range arrange(slices.Clone(ids)) {
		rank[x] = i
	}
	sort.SliceStable(selected, func(a, b int) bool {
		return rank[id(selected[a])] < rank[id(selected[b])]
	})
	for i, pos := range positions {
		out[pos] = selected[i]
	}
	return out
}

// Exchange shuffles the identities of the exchangeable units among the
// positions they occupy.
func Exchange[T any](rng *rand.Rand, units []T, exchangeable []string, id func(T) string) []T {
	return Reorder(units, exchangeable, id, func(ids []string) []string { return Shuffle(rng, ids) })
}

// Counterbalance lays the counterbalanced units into their positions in
// the order selected by permutation (see Permute).
func Counterbalance[T any](units []T, counterbalance []string, permutation int, id func(T) string) []T {
	return Reorder(units, counterbalance, id, func(ids []string) []string { return Permute(ids, permutation) })
}

// Order applies exchangeable shuffling first and counterbalancing second
// over the same sibling sequence.
func Order[T any](rng *rand.Rand, units []T, exchangeable, counterbalance []string, permutation int, id func(T) string) []T {
	exchanged := Exchange(rng, units, exchangeable, id)
	return Counterbalance(exchanged, counterbalance, permutation, id)
}

// Permute maps permutation to one ordering of ids through the factorial
// number system: ids are sorted, then at each step the id at
// floor(p / (n-1)!) is taken and p becomes p mod (n-1)!. Every p in
// [0, n!) yields a distinct ordering; other values are reduced modulo n!.
func Permute(ids []string, permutation int) []string {
	pool := slices.Clone(ids)
	sort.Strings(pool)
	n := len(pool)
	if n == 0 {
		return nil
	}

	p := mod(permutation, Factorial(n))
	out := make([]string, 0, n)
	for size := n; size > 0; size-- {
		bin := Factorial(size - 1)
		i := p / bin
		out = append(out, pool[i])
		pool = slices.Delete(pool, i, i+1)
		p %= bin
	}
	return out
}

// Factorial returns n! for n >= 0.
func Factorial(n int) int {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
	}
	return f
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
