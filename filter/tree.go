package filter

import (
	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/types"
)

// LeafResolver builds a Cursor (plus an approximate cardinality, used
// for AND/OR subtree reordering) for one leaf of a parsed filter AST.
// Field-type dispatch (string vs numeric vs geo vs reference) and
// Negate handling both live on the resolver's side, since only the
// collection layer knows a field's declared type and owns the
// underlying indices.
type LeafResolver interface {
	ResolveLeaf(leaf *types.FilterNode) (Cursor, int, error)
	MaxSeqID() uint32
}

// Build compiles a parsed filter AST into a Cursor tree, propagating
// approximate cardinality upward (min for AND, max for OR)
// and reordering AND operands so the cheaper side is evaluated first.
// A nil node compiles to a nil Cursor, which callers read as "match
// everything".
func Build(node *types.FilterNode, resolver LeafResolver) (Cursor, int, error) {
	if node == nil {
		return nil, 0, nil
	}
	if node.IsLeaf() {
		return resolver.ResolveLeaf(node)
	}

	left, leftCard, err := Build(node.Left, resolver)
	if err != nil {
		return nil, 0, err
	}
	right, rightCard, err := Build(node.Right, resolver)
	if err != nil {
		return nil, 0, err
	}
	if left == nil || right == nil {
		return nil, 0, cerr.Validation("filter: operator node missing an operand")
	}

	switch node.Op {
	case types.And:
		if rightCard < leftCard {
			left, right = right, left
		}
		card := leftCard
		if rightCard < card {
			card = rightCard
		}
		return NewAnd(left, right), card, nil
	case types.Or:
		card := leftCard
		if rightCard > card {
			card = rightCard
		}
		return NewOr(left, right), card, nil
	default:
		return left, leftCard, nil
	}
}
