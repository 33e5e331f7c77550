// Package bank implements the per-container content pools that pages and
// options sample text, conditions and resources from.
//
// A container's pools are shuffled once when the container is built (and
// again whenever it is reset). Draws with a fixed variable index enumerate
// the shuffled pool, so sibling pages asking for indices 0,1,2 see three
// distinct rows. Draws with notVariable or no index pick independently each
// time.
package bank

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var (
	// ErrBankNotFound is returned when no container on the ancestor chain
	// owns the requested bank.
	ErrBankNotFound = errors.New("bank not found")
	// ErrBankIndex is returned when a variable index falls outside the pool,
	// or a notVariable draw is made from a pool with fewer than two rows.
	ErrBankIndex = errors.New("bank index out of range")
	// ErrBankField is returned when a field projection cannot be satisfied.
	ErrBankField = errors.New("bank field unavailable")
)

// Row is one entry in a bank: a plain string, or a record of named fields.
type Row struct {
	Text   string
	Fields map[string]string
}

// IsRecord reports whether the row carries named fields.
func (r Row) IsRecord() bool { return r.Fields != nil }

// String returns the scalar value of the row. Records have no scalar value.
func (r Row) String() (string, error) {
	if r.IsRecord() {
		return "", fmt.Errorf("%w: record row sampled without a field", ErrBankField)
	}
	return r.Text, nil
}

// Request describes a single draw.
type Request struct {
	SampleFrom  string
	Variable    *int
	NotVariable *int
	Field       string
}

// Set holds the pools owned by one container.
type Set struct {
	pools map[string][]Row
}

// NewSet copies the given pools and shuffles each one.
func NewSet(pools map[string][]Row, rng *rand.Rand) *Set {
	s := &Set{pools: make(map[string][]Row, len(pools))}
	for name, rows := range pools {
		cp := make([]Row, len(rows))
		copy(cp, rows)
		s.pools[name] = cp
	}
	s.Shuffle(rng)
	return s
}

// Shuffle reorders every pool. Pools are visited in name order so a seeded
// generator gives the same result on every run.
func (s *Set) Shuffle(rng *rand.Rand) {
	if s == nil {
		return
	}
	for _, name := range s.Names() {
		pool := s.pools[name]
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
}

// Has reports whether the set owns a pool with the given name.
func (s *Set) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.pools[name]
	return ok
}

// Names returns the pool names in sorted order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the size of the named pool, or 0 if absent.
func (s *Set) Len(name string) int {
	if s == nil {
		return 0
	}
	return len(s.pools[name])
}

// Sample draws from a local pool. The pool must exist in this set.
func (s *Set) Sample(req Request, rng *rand.Rand) (Row, error) {
	pool, ok := s.pools[req.SampleFrom]
	if !ok {
		return Row{}, fmt.Errorf("%w: %q", ErrBankNotFound, req.SampleFrom)
	}
	if len(pool) == 0 {
		return Row{}, fmt.Errorf("%w: bank %q is empty", ErrBankIndex, req.SampleFrom)
	}

	row, err := pick(pool, req, rng)
	if err != nil {
		return Row{}, fmt.Errorf("bank %q: %w", req.SampleFrom, err)
	}
	if req.Field == "" {
		return row, nil
	}
	if !row.IsRecord() {
		return Row{}, fmt.Errorf("%w: bank %q holds plain strings, cannot project %q", ErrBankField, req.SampleFrom, req.Field)
	}
	v, ok := row.Fields[req.Field]
	if !ok {
		return Row{}, fmt.Errorf("%w: bank %q has no field %q", ErrBankField, req.SampleFrom, req.Field)
	}
	return Row{Text: v}, nil
}

func pick(pool []Row, req Request, rng *rand.Rand) (Row, error) {
	n := len(pool)
	switch {
	case req.Variable != nil:
		i := *req.Variable
		if i < 0 || i >= n {
			return Row{}, fmt.Errorf("%w: variable %d, size %d", ErrBankIndex, i, n)
		}
		return pool[i], nil
	case req.NotVariable != nil:
		excluded := *req.NotVariable
		if n < 2 {
			return Row{}, fmt.Errorf("%w: notVariable needs at least two rows, size %d", ErrBankIndex, n)
		}
		// offset in [1, n-1] never lands back on the excluded index
		offset := rng.Intn(n-1) + 1
		i := ((excluded%n+n)%n + offset) % n
		return pool[i], nil
	default:
		return pool[rng.Intn(n)], nil
	}
}

// Scope is a container that may own banks and may have a parent.
type Scope interface {
	Banks() *Set
	Parent() (Scope, bool)
}

// Resolve draws from the nearest scope on the ancestor chain that owns the
// requested bank.
func Resolve(scope Scope, req Request, rng *rand.Rand) (Row, error) {
	for cur, ok := scope, scope != nil; ok; cur, ok = cur.Parent() {
		if set := cur.Banks(); set.Has(req.SampleFrom) {
			return set.Sample(req, rng)
		}
	}
	return Row{}, fmt.Errorf("%w: %q", ErrBankNotFound, req.SampleFrom)
}
