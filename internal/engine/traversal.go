package engine

import (
	"slices"

	"speriment/internal/logging"
)

// run hands control to the container or page at idx and follows the
// traversal protocol until a page is displayed or the root is exhausted.
//
// At every container: when its gate is closed, or its contents are spent
// and no loop is due, control returns to the parent. When a loop is due
// the container is reset first. Otherwise the next child is popped,
// remembered in oldContents, and run.
func (s *Session) run(idx int) error {
	t := s.tree
	cur := idx
	for {
		n := t.nodes[cur]
		if n.runIf.ShouldRun(s.record) {
			if n.kind == kindPage {
				return s.display(cur)
			}
			if len(n.contents) == 0 && s.shouldLoop(n) {
				if err := t.reset(cur); err != nil {
					return err
				}
				logging.Traversal("%s %q looping, pass %d", n.kind, n.id, n.pass)
			}
			if len(n.contents) > 0 {
				child := n.contents[0]
				n.contents = n.contents[1:]
				n.oldContents = append(n.oldContents, child)
				cur = child
				continue
			}
		} else {
			logging.TraversalDebug("%s %q skipped: %s is false", n.kind, n.id, n.runIf)
		}

		if n.parent < 0 {
			return s.finish()
		}
		cur = n.parent
	}
}

// shouldLoop reports whether a block that has run all its contents must
// run again: it has a criterion, it has not reached its cutoff, and the
// metric over its latest grades is below the criterion. A block with no
// grades has a streak of 0, so it loops under a whole-number criterion.
func (s *Session) shouldLoop(n *node) bool {
	if n.criterion == nil || n.pass >= n.cutoff {
		return false
	}
	grades := s.record.BlockGrades(n.id)
	if len(grades) == 0 && *n.criterion < 1 {
		return false
	}
	m := metric(*n.criterion, grades)
	loop := m < *n.criterion
	logging.Traversal("block %q pass %d/%d: metric %.3f, criterion %.3f, loop=%t",
		n.id, n.pass, n.cutoff, m, *n.criterion, loop)
	return loop
}

// metric is the fraction correct when criterion is below 1, and otherwise
// the number of consecutive correct grades at the end of the list.
func metric(criterion float64, grades []bool) float64 {
	if criterion < 1 {
		correct := 0
		for _, g := range grades {
			if g {
				correct++
			}
		}
		return float64(correct) / float64(len(grades))
	}
	run := 0
	for i := len(grades) - 1; i >= 0 && grades[i]; i-- {
		run++
	}
	return float64(run)
}

// reset makes every child of idx pending again, reshuffles the node's
// banks, redraws sampled page values and reorders inner-block items. Outer
// blocks keep their exchange and counterbalance order. Every reset counts
// a new pass, cascaded ones included, so a nested block's cutoff spans the
// passes of its ancestors.
func (t *tree) reset(idx int) error {
	n := t.nodes[idx]
	// children never popped (their container closed early) stay after
	// the ones that ran, so the restored order is the original one
	n.contents = slices.Concat(n.oldContents, n.contents)
	n.oldContents = nil
	n.pass++
	logging.TraversalDebug("%s %q reset for pass %d", n.kind, n.id, n.pass)
	n.banks.Shuffle(t.rng)

	switch n.kind {
	case kindPage:
		return t.materializePage(idx)
	case kindItem:
		for _, c := range n.contents {
			if err := t.reset(c); err != nil {
				return err
			}
		}
		return t.materializeItem(idx)
	case kindInner:
		for _, c := range n.contents {
			if err := t.reset(c); err != nil {
				return err
			}
		}
		ordered, err := t.orderItems(n, n.contents)
		if err != nil {
			return err
		}
		n.contents = ordered
		return nil
	default:
		for _, c := range n.contents {
			if err := t.reset(c); err != nil {
				return err
			}
		}
		return nil
	}
}
