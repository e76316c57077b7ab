// pkg/llrb/verify.go
package llrb

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
)

// Invariant violations reported by Check.
var (
	ErrNotBST           = errors.New("llrb: keys not in symmetric order")
	ErrSizeInconsistent = errors.New("llrb: subtree sizes not consistent")
	ErrRankInconsistent = errors.New("llrb: rank and select disagree")
	ErrNot23            = errors.New("llrb: not a 2-3 tree")
	ErrUnbalanced       = errors.New("llrb: black height not balanced")
	ErrBadParent        = errors.New("llrb: parent handle mismatch")
)

// Check verifies every structural invariant and returns all violations found.
// It walks the whole tree and is meant for tests and debugging.
func (t *Tree[K, V]) Check() error {
	var err error
	if !t.IsBST() {
		err = multierr.Append(err, ErrNotBST)
	}
	if !t.IsSizeConsistent() {
		err = multierr.Append(err, ErrSizeInconsistent)
	}
	if !t.IsRankConsistent() {
		err = multierr.Append(err, ErrRankInconsistent)
	}
	if !t.Is23() {
		err = multierr.Append(err, ErrNot23)
	}
	if !t.IsBalanced() {
		err = multierr.Append(err, ErrUnbalanced)
	}
	if !t.parentsConsistent() {
		err = multierr.Append(err, ErrBadParent)
	}
	if n := t.reachable(t.root); n != len(t.nodes) {
		err = multierr.Append(err, fmt.Errorf("llrb: %d nodes reachable, arena holds %d", n, len(t.nodes)))
	}
	return err
}

// IsBST reports whether every left subtree holds smaller keys and every right
// subtree larger ones.
func (t *Tree[K, V]) IsBST() bool {
	return t.isBST(t.root, none, none)
}

func (t *Tree[K, V]) isBST(h, lo, hi int) bool {
	if h == none {
		return true
	}
	key := t.nodes[h].key
	if lo != none && t.compare(key, t.nodes[lo].key) <= 0 {
		return false
	}
	if hi != none && t.compare(key, t.nodes[hi].key) >= 0 {
		return false
	}
	return t.isBST(t.nodes[h].left, lo, h) && t.isBST(t.nodes[h].right, h, hi)
}

// IsSizeConsistent reports whether every subtree size is exact.
func (t *Tree[K, V]) IsSizeConsistent() bool {
	return t.isSizeConsistent(t.root)
}

func (t *Tree[K, V]) isSizeConsistent(h int) bool {
	if h == none {
		return true
	}
	n := t.nodes[h]
	if n.size != 1+t.size(n.left)+t.size(n.right) {
		return false
	}
	return t.isSizeConsistent(n.left) && t.isSizeConsistent(n.right)
}

// IsRankConsistent reports whether Rank and Select are inverse.
func (t *Tree[K, V]) IsRankConsistent() bool {
	for i := 0; i < t.Len(); i++ {
		k, err := t.Select(i)
		if err != nil || t.Rank(k) != i {
			return false
		}
	}
	for k := range t.All() {
		sel, err := t.Select(t.Rank(k))
		if err != nil || t.compare(sel, k) != 0 {
			return false
		}
	}
	return true
}

// Is23 reports whether the root is black, no red link leans right and no two
// red links are consecutive on any path.
func (t *Tree[K, V]) Is23() bool {
	if t.root != none && t.nodes[t.root].red {
		return false
	}
	return t.is23(t.root)
}

func (t *Tree[K, V]) is23(h int) bool {
	if h == none {
		return true
	}
	n := t.nodes[h]
	if t.isRed(n.right) {
		return false
	}
	if h != t.root && n.red && t.isRed(n.left) {
		return false
	}
	return t.is23(n.left) && t.is23(n.right)
}

// IsBalanced reports whether every root-to-leaf path has the same number of
// black links.
func (t *Tree[K, V]) IsBalanced() bool {
	black := 0
	for h := t.root; h != none; h = t.nodes[h].left {
		if !t.nodes[h].red {
			black++
		}
	}
	return t.isBalanced(t.root, black)
}

func (t *Tree[K, V]) isBalanced(h, black int) bool {
	if h == none {
		return black == 0
	}
	if !t.nodes[h].red {
		black--
	}
	return t.isBalanced(t.nodes[h].left, black) && t.isBalanced(t.nodes[h].right, black)
}

func (t *Tree[K, V]) parentsConsistent() bool {
	if t.root != none && t.nodes[t.root].parent != none {
		return false
	}
	for h, n := range t.nodes {
		if n.left != none && t.nodes[n.left].parent != h {
			return false
		}
		if n.right != none && t.nodes[n.right].parent != h {
			return false
		}
	}
	return true
}

func (t *Tree[K, V]) reachable(h int) int {
	if h == none {
		return 0
	}
	return 1 + t.reachable(t.nodes[h].left) + t.reachable(t.nodes[h].right)
}

// Dump writes an indented pre-order listing of every node to w.
func (t *Tree[K, V]) Dump(w io.Writer) error {
	return t.dump(w, t.root, 0)
}

func (t *Tree[K, V]) dump(w io.Writer, h, depth int) error {
	indent := strings.Repeat("    ", depth)
	if h == none {
		_, err := fmt.Fprintf(w, "%s_\n", indent)
		return err
	}
	n := t.nodes[h]
	color := "BLACK"
	if n.red {
		color = "RED"
	}
	if _, err := fmt.Fprintf(w, "%s[%d] %s parent=%s left=%s right=%s key=%v size=%d\n",
		indent, h, color, handle(n.parent), handle(n.left), handle(n.right), n.key, n.size); err != nil {
		return err
	}
	if err := t.dump(w, n.left, depth+1); err != nil {
		return err
	}
	return t.dump(w, n.right, depth+1)
}

func handle(h int) string {
	if h == none {
		return "_"
	}
	return fmt.Sprint(h)
}
