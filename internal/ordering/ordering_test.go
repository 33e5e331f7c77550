package ordering

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unit struct {
	id   string
	cond string
}

func unitID(u unit) string { return u.id }

func unitCond(u unit) (string, bool) { return u.cond, u.cond != "" }

func ids(units []unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.id
	}
	return out
}

func TestPermute_Example(t *testing.T) {
	got := Permute([]string{"b5", "b3", "b4"}, 1)
	if diff := cmp.Diff([]string{"b3", "b5", "b4"}, got); diff != "" {
		t.Errorf("Permute mismatch (-want +got):\n%s", diff)
	}
}

func TestPermute_IsBijection(t *testing.T) {
	for n := 1; n <= 5; n++ {
		input := make([]string, n)
		for i := range input {
			input[i] = fmt.Sprintf("b%d", i)
		}
		seen := map[string]bool{}
		for p := 0; p < Factorial(n); p++ {
			order := Permute(input, p)
			require.Len(t, order, n)
			sorted := append([]string(nil), order...)
			sort.Strings(sorted)
			require.Equal(t, input, sorted, "permutation %d must contain every id once", p)
			seen[strings.Join(order, ",")] = true
		}
		assert.Len(t, seen, Factorial(n), "n=%d", n)
	}
}

func TestPermute_ReducesOutOfRange(t *testing.T) {
	in := []string{"a", "b", "c"}
	assert.Equal(t, Permute(in, 2), Permute(in, 2+6))
	assert.Equal(t, Permute(in, 5), Permute(in, -1))
}

func TestLatinSquare_RoundRobin(t *testing.T) {
	const k = 3
	groups := make([][]unit, 6)
	for i := range groups {
		for c := 0; c < k; c++ {
			groups[i] = append(groups[i], unit{id: fmt.Sprintf("g%d_c%d", i, c), cond: fmt.Sprintf("c%d", c)})
		}
	}

	perPosition := make([]map[string]bool, len(groups))
	for i := range perPosition {
		perPosition[i] = map[string]bool{}
	}
	for version := 0; version < k; version++ {
		chosen, err := LatinSquare(groups, version)
		require.NoError(t, err)
		require.Len(t, chosen, len(groups))
		for i, u := range chosen {
			assert.True(t, strings.HasPrefix(u.id, fmt.Sprintf("g%d_", i)), "group %d contributes its own unit", i)
			perPosition[i][u.cond] = true
		}
	}
	for i, conds := range perPosition {
		assert.Len(t, conds, k, "group %d must cover every condition across versions", i)
	}
}

func TestLatinSquare_Uneven(t *testing.T) {
	_, err := LatinSquare([][]string{{"a", "b"}, {"c"}}, 0)
	assert.ErrorIs(t, err, ErrUnevenGroups)
}

func TestPseudorandomize_NoAdjacentConditions(t *testing.T) {
	var units []unit
	for i := 0; i < 4; i++ {
		for _, c := range []string{"x", "y", "z"} {
			units = append(units, unit{id: fmt.Sprintf("%s%d", c, i), cond: c})
		}
	}
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		out, err := Pseudorandomize(rng, units, unitCond)
		require.NoError(t, err, "seed %d", seed)
		require.Len(t, out, len(units))
		for i := 0; i+1 < len(out); i++ {
			assert.NotEqual(t, out[i].cond, out[i+1].cond, "seed %d position %d", seed, i)
		}
		assert.ElementsMatch(t, ids(units), ids(out))
	}
}

func TestPseudorandomize_TwoConditions(t *testing.T) {
	units := []unit{{"a1", "a"}, {"a2", "a"}, {"a3", "a"}, {"b1", "b"}, {"b2", "b"}, {"b3", "b"}}
	for seed := int64(0); seed < 200; seed++ {
		out, err := Pseudorandomize(rand.New(rand.NewSource(seed)), units, unitCond)
		require.NoError(t, err, "seed %d", seed)
		for i := 0; i+1 < len(out); i++ {
			require.NotEqual(t, out[i].cond, out[i+1].cond, "seed %d", seed)
		}
	}
}

func TestPseudorandomize_Impossible(t *testing.T) {
	units := []unit{{"a1", "a"}, {"a2", "a"}, {"a3", "a"}, {"b1", "b"}}
	_, err := Pseudorandomize(rand.New(rand.NewSource(1)), units, unitCond)
	assert.ErrorIs(t, err, ErrImpossibleOrdering)
}

func TestPseudorandomize_MissingCondition(t *testing.T) {
	units := []unit{{"a1", "a"}, {"n", ""}}
	_, err := Pseudorandomize(rand.New(rand.NewSource(1)), units, unitCond)
	assert.ErrorIs(t, err, ErrMissingCondition)
}

func TestExchange_OnlyEarmarkedPositionsMove(t *testing.T) {
	units := []unit{{id: "b1"}, {id: "b2"}, {id: "b3"}, {id: "b4"}, {id: "b5"}}
	exchangeable := []string{"b2", "b4", "b5"}

	moved := false
	for seed := int64(0); seed < 100; seed++ {
		out := Exchange(rand.New(rand.NewSource(seed)), units, exchangeable, unitID)
		assert.Equal(t, "b1", out[0].id)
		assert.Equal(t, "b3", out[2].id)
		assert.ElementsMatch(t, exchangeable, []string{out[1].id, out[3].id, out[4].id})
		if out[1].id != "b2" || out[3].id != "b4" || out[4].id != "b5" {
			moved = true
		}
	}
	assert.True(t, moved, "exchangeable units should not always keep their positions")
	assert.Equal(t, []string{"b1", "b2", "b3", "b4", "b5"}, ids(units), "input untouched")
}

func TestCounterbalance_Deterministic(t *testing.T) {
	units := []unit{{id: "b1"}, {id: "b3"}, {id: "b2"}, {id: "b4"}, {id: "b5"}}
	out := Counterbalance(units, []string{"b3", "b4", "b5"}, 1, unitID)
	if diff := cmp.Diff([]string{"b1", "b3", "b2", "b5", "b4"}, ids(out)); diff != "" {
		t.Errorf("Counterbalance mismatch (-want +got):\n%s", diff)
	}
}

func TestOrder_ExchangeThenCounterbalance(t *testing.T) {
	units := []unit{{id: "x"}, {id: "a"}, {id: "b"}, {id: "y"}, {id: "c"}}
	for p := 0; p < 6; p++ {
		out := Order(rand.New(rand.NewSource(int64(p))), units, []string{"x", "y"}, []string{"a", "b", "c"}, p, unitID)
		got := ids(out)
		assert.Equal(t, Permute([]string{"a", "b", "c"}, p), []string{got[1], got[2], got[4]})
		assert.ElementsMatch(t, []string{"x", "y"}, []string{got[0], got[3]})
	}
}

func TestSampleGroups(t *testing.T) {
	groups := [][]string{{"a", "b"}, {"c"}, {"d", "e", "f"}}
	out := SampleGroups(rand.New(rand.NewSource(4)), groups)
	require.Len(t, out, 3)
	assert.Contains(t, groups[0], out[0])
	assert.Equal(t, "c", out[1])
	assert.Contains(t, groups[2], out[2])
}

func TestReverse(t *testing.T) {
	in := []int{1, 2, 3}
	assert.Equal(t, []int{3, 2, 1}, Reverse(in))
	assert.Equal(t, []int{1, 2, 3}, in)
}
