package engine

import (
	"errors"
	"fmt"
	"math/rand"

	"speriment/internal/bank"
	"speriment/internal/definition"
	"speriment/internal/logging"
	"speriment/internal/ordering"
	"speriment/internal/runif"
)

type kind uint8

const (
	kindExperiment kind = iota
	kindOuter
	kindInner
	kindItem
	kindPage
)

func (k kind) String() string {
	switch k {
	case kindExperiment:
		return "experiment"
	case kindOuter:
		return "outer block"
	case kindInner:
		return "inner block"
	case kindItem:
		return "item"
	default:
		return "page"
	}
}

// node is one container or page in the arena. Parents are referred to by
// index; the root has parent -1.
type node struct {
	kind   kind
	id     string
	parent int
	runIf  runif.Predicate
	banks  *bank.Set

	// children in build order; contents and oldContents partition them
	// while a pass is in progress
	children    []int
	contents    []int
	oldContents []int

	// blocks
	criterion      *float64
	cutoff         int
	pass           int
	exchangeable   []string
	counterbalance []string
	pseudorandom   bool

	// items
	conditionDef *definition.Value
	tagDefs      map[string]definition.Value
	condition    string
	tags         map[string]string

	page *page
}

type tree struct {
	nodes       []*node
	rng         *rand.Rand
	version     int
	permutation int
}

const rootIndex = 0

// scope adapts a node to the bank lookup chain.
type scope struct {
	t   *tree
	idx int
}

func (s scope) Banks() *bank.Set { return s.t.nodes[s.idx].banks }

func (s scope) Parent() (bank.Scope, bool) {
	p := s.t.nodes[s.idx].parent
	if p < 0 {
		return nil, false
	}
	return scope{t: s.t, idx: p}, true
}

func build(def *definition.Experiment, version, permutation int, rng *rand.Rand) (*tree, error) {
	timer := logging.StartTimer(logging.CategoryTraversal, "tree construction")
	defer timer.Stop()

	t := &tree{rng: rng, version: version, permutation: permutation}
	root := &node{
		kind:           kindExperiment,
		id:             def.Name,
		parent:         -1,
		runIf:          runif.Always{},
		banks:          t.bankSet(def.Banks),
		pass:           1,
		cutoff:         1,
		exchangeable:   def.Exchangeable,
		counterbalance: def.Counterbalance,
	}
	idx := t.add(root)
	for i := range def.Blocks {
		c, err := t.buildBlock(&def.Blocks[i], idx)
		if err != nil {
			return nil, err
		}
		root.children = append(root.children, c)
	}
	root.contents = t.orderBlocks(root, root.children)
	logging.Traversal("built tree: %d nodes, version=%d permutation=%d", len(t.nodes), version, permutation)
	return t, nil
}

func (t *tree) add(n *node) int {
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *tree) idOf(i int) string { return t.nodes[i].id }

func (t *tree) bankSet(pools map[string][]definition.BankRow) *bank.Set {
	if len(pools) == 0 {
		return nil
	}
	converted := make(map[string][]bank.Row, len(pools))
	for name, rows := range pools {
		out := make([]bank.Row, len(rows))
		for i, r := range rows {
			out[i] = bank.Row{Text: r.Text, Fields: r.Fields}
		}
		converted[name] = out
	}
	return bank.NewSet(converted, t.rng)
}

func gate(owner string, r *definition.RunIf) (runif.Predicate, error) {
	pred, err := runif.New(r.Gate())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDefinition, owner, err)
	}
	return pred, nil
}

func (t *tree) buildBlock(b *definition.Block, parent int) (int, error) {
	pred, err := gate("block "+b.ID, b.RunIf)
	if err != nil {
		return -1, err
	}
	n := &node{
		kind:         kindInner,
		id:           b.ID,
		parent:       parent,
		runIf:        pred,
		criterion:    b.Criterion,
		cutoff:       1,
		pass:         1,
		pseudorandom: b.Pseudorandom,
	}
	if b.Cutoff != nil {
		n.cutoff = *b.Cutoff
	} else if b.Criterion != nil {
		logging.DefinitionWarn("block %q has a criterion but no cutoff; it will run once", b.ID)
	}
	idx := t.add(n)
	// banks are shuffled before children sample from them
	n.banks = t.bankSet(b.Banks)

	if b.IsOuter() {
		n.kind = kindOuter
		n.exchangeable, n.counterbalance = b.Exchangeable, b.Counterbalance
		for i := range b.Blocks {
			c, err := t.buildBlock(&b.Blocks[i], idx)
			if err != nil {
				return -1, err
			}
			n.children = append(n.children, c)
		}
		n.contents = t.orderBlocks(n, n.children)
		return idx, nil
	}

	entries, err := t.chooseEntries(b)
	if err != nil {
		return -1, err
	}
	for _, e := range entries {
		it, err := t.buildItem(e, idx)
		if err != nil {
			return -1, fmt.Errorf("block %q: %w", b.ID, err)
		}
		n.children = append(n.children, it)
	}
	n.contents, err = t.orderItems(n, n.children)
	if err != nil {
		return -1, err
	}
	return idx, nil
}

func (t *tree) chooseEntries(b *definition.Block) ([]definition.Entry, error) {
	switch {
	case len(b.Groups) > 0 && b.LatinSquare:
		chosen, err := ordering.LatinSquare(b.Groups, t.version)
		if err != nil {
			return nil, fmt.Errorf("%w: block %q: %w", ErrDefinition, b.ID, err)
		}
		return chosen, nil
	case len(b.Groups) > 0:
		return ordering.SampleGroups(t.rng, b.Groups), nil
	case len(b.Items) > 0:
		return b.Items, nil
	default:
		return b.Pages, nil
	}
}

func (t *tree) orderBlocks(n *node, blocks []int) []int {
	return ordering.Order(t.rng, blocks, n.exchangeable, n.counterbalance, t.permutation, t.idOf)
}

func (t *tree) orderItems(n *node, items []int) ([]int, error) {
	if !n.pseudorandom {
		return ordering.Shuffle(t.rng, items), nil
	}
	out, err := ordering.Pseudorandomize(t.rng, items, t.conditionOf)
	switch {
	case errors.Is(err, ordering.ErrMissingCondition):
		return nil, fmt.Errorf("%w: block %q: %w", ErrDefinition, n.id, err)
	case err != nil:
		return nil, fmt.Errorf("block %q: %w", n.id, err)
	}
	return out, nil
}

func (t *tree) conditionOf(i int) (string, bool) {
	c := t.nodes[i].condition
	return c, c != ""
}

func (t *tree) buildItem(e definition.Entry, parent int) (int, error) {
	var it definition.Item
	switch {
	case e.Item != nil:
		it = *e.Item
	case e.Page != nil:
		it = definition.Item{ID: e.Page.ID, Pages: []definition.Page{*e.Page}}
	default:
		return -1, fmt.Errorf("%w: empty page entry", ErrDefinition)
	}
	if len(it.Pages) == 0 {
		return -1, fmt.Errorf("%w: item %q has no pages", ErrDefinition, it.ID)
	}
	if it.ID == "" {
		it.ID = it.Pages[0].ID
	}

	pred, err := gate("item "+it.ID, it.RunIf)
	if err != nil {
		return -1, err
	}
	n := &node{kind: kindItem, id: it.ID, parent: parent, runIf: pred, conditionDef: it.Condition, tagDefs: it.Tags}
	idx := t.add(n)
	for _, pd := range it.Pages {
		p, err := t.buildPage(pd, idx)
		if err != nil {
			return -1, err
		}
		n.children = append(n.children, p)
	}
	n.contents = append([]int(nil), n.children...)
	if err := t.materializeItem(idx); err != nil {
		return -1, err
	}
	return idx, nil
}

// materializeItem resolves the item's tags and its condition: the explicit
// one, or else the first page that declares one.
func (t *tree) materializeItem(idx int) error {
	n := t.nodes[idx]
	sc := scope{t: t, idx: idx}
	tags, err := t.resolveTags(sc, n.tagDefs)
	if err != nil {
		return fmt.Errorf("item %q: %w", n.id, err)
	}
	n.tags = tags
	n.condition = ""
	if n.conditionDef != nil {
		c, err := t.resolve(sc, *n.conditionDef)
		if err != nil {
			return fmt.Errorf("item %q condition: %w", n.id, err)
		}
		n.condition = c
		return nil
	}
	for _, p := range n.children {
		if c := t.nodes[p].page.condition; c != "" {
			n.condition = c
			break
		}
	}
	return nil
}

// blockIDs returns the ids of the blocks enclosing idx, innermost first.
func (t *tree) blockIDs(idx int) []string {
	var ids []string
	for cur := t.nodes[idx].parent; cur >= 0; cur = t.nodes[cur].parent {
		if k := t.nodes[cur].kind; k == kindInner || k == kindOuter {
			ids = append(ids, t.nodes[cur].id)
		}
	}
	return ids
}
