package definition

import (
	"fmt"
	"slices"
)

// Validate checks the structural rules that do not need a built tree.
// Unknown banks, uneven Latin-square groups and missing conditions are
// found later, when the tree is constructed.
func (e *Experiment) Validate() error {
	if len(e.Blocks) == 0 {
		return fmt.Errorf("%w: experiment has no blocks", ErrDefinition)
	}
	v := &validator{blocks: map[string]bool{}, pages: map[string]bool{}}
	if err := v.siblings("experiment", e.Blocks, e.Exchangeable, e.Counterbalance); err != nil {
		return err
	}
	for i := range e.Blocks {
		if err := v.block(&e.Blocks[i]); err != nil {
			return err
		}
	}
	return nil
}

type validator struct {
	blocks map[string]bool
	pages  map[string]bool
}

func (v *validator) block(b *Block) error {
	if b.ID == "" {
		return fmt.Errorf("%w: block without id", ErrDefinition)
	}
	if v.blocks[b.ID] {
		return fmt.Errorf("%w: duplicate block id %q", ErrDefinition, b.ID)
	}
	v.blocks[b.ID] = true

	kinds := 0
	for _, present := range []bool{len(b.Blocks) > 0, len(b.Pages) > 0, len(b.Groups) > 0, len(b.Items) > 0} {
		if present {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("%w: block %q must have exactly one of blocks, pages, groups or items", ErrDefinition, b.ID)
	}
	if b.Criterion != nil && *b.Criterion <= 0 {
		return fmt.Errorf("%w: block %q criterion must be positive", ErrDefinition, b.ID)
	}
	if b.Cutoff != nil && *b.Cutoff < 1 {
		return fmt.Errorf("%w: block %q cutoff must be at least 1", ErrDefinition, b.ID)
	}

	if b.IsOuter() {
		if b.LatinSquare || b.Pseudorandom {
			return fmt.Errorf("%w: block %q holds blocks and cannot order pages", ErrDefinition, b.ID)
		}
		if err := v.siblings(b.ID, b.Blocks, b.Exchangeable, b.Counterbalance); err != nil {
			return err
		}
		for i := range b.Blocks {
			if err := v.block(&b.Blocks[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if len(b.Exchangeable) > 0 || len(b.Counterbalance) > 0 {
		return fmt.Errorf("%w: block %q holds pages; exchangeable and counterbalance apply to blocks", ErrDefinition, b.ID)
	}
	entries := slices.Concat(b.Pages, b.Items)
	for _, g := range b.Groups {
		if len(g) == 0 {
			return fmt.Errorf("%w: block %q has an empty group", ErrDefinition, b.ID)
		}
		entries = append(entries, g...)
	}
	for _, entry := range entries {
		if err := v.entry(b.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) entry(blockID string, e Entry) error {
	if e.Item != nil && len(e.Item.Pages) == 0 {
		return fmt.Errorf("%w: item %q in block %q has no pages", ErrDefinition, e.Item.ID, blockID)
	}
	for _, p := range e.Pages() {
		if err := v.page(blockID, p); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) page(blockID string, p Page) error {
	if p.ID == "" {
		return fmt.Errorf("%w: page without id in block %q", ErrDefinition, blockID)
	}
	if v.pages[p.ID] {
		return fmt.Errorf("%w: duplicate page id %q", ErrDefinition, p.ID)
	}
	v.pages[p.ID] = true

	options := map[string]bool{}
	for _, o := range p.Options {
		if o.ID == "" {
			return fmt.Errorf("%w: option without id on page %q", ErrDefinition, p.ID)
		}
		if options[o.ID] {
			return fmt.Errorf("%w: duplicate option id %q on page %q", ErrDefinition, o.ID, p.ID)
		}
		options[o.ID] = true
	}
	return nil
}

func (v *validator) siblings(owner string, blocks []Block, exchangeable, counterbalance []string) error {
	ids := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		ids[b.ID] = true
	}
	for _, group := range [][]string{exchangeable, counterbalance} {
		seen := map[string]bool{}
		for _, id := range group {
			if !ids[id] {
				return fmt.Errorf("%w: %q lists %q, which is not one of its blocks", ErrDefinition, owner, id)
			}
			if seen[id] {
				return fmt.Errorf("%w: %q lists %q twice", ErrDefinition, owner, id)
			}
			seen[id] = true
		}
	}
	for _, id := range exchangeable {
		if slices.Contains(counterbalance, id) {
			return fmt.Errorf("%w: %q is both exchangeable and counterbalanced in %q", ErrDefinition, id, owner)
		}
	}
	return nil
}

// CounterbalanceSize returns the length of the longest counterbalance list
// in the definition. A participant permutation ranges over n! orderings of
// that list.
func (e *Experiment) CounterbalanceSize() int {
	n := len(e.Counterbalance)
	var walk func([]Block)
	walk = func(blocks []Block) {
		for _, b := range blocks {
			n = max(n, len(b.Counterbalance))
			walk(b.Blocks)
		}
	}
	walk(e.Blocks)
	return n
}

// Conditions returns the number of Latin-square versions the definition
// distinguishes: the group size of the Latin-square blocks, or 1 when none
// use one.
func (e *Experiment) Conditions() int {
	n := 1
	var walk func([]Block)
	walk = func(blocks []Block) {
		for _, b := range blocks {
			if b.LatinSquare && len(b.Groups) > 0 {
				n = max(n, len(b.Groups[0]))
			}
			walk(b.Blocks)
		}
	}
	walk(e.Blocks)
	return n
}
