// pkg/llrb/tree.go

// Package llrb implements a left-leaning red-black tree stored in an arena.
//
// Nodes live in a single slice and refer to each other by index (handle), never
// by pointer. Rotations and deletions are index rewrites, and the arena is kept
// dense: removing a node moves the last slot into the hole.
//
// A Tree is not safe for concurrent use.
package llrb

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/zhangyunhao116/fastrand"
)

// ErrRankOutOfRange is returned by Select when rank >= Len().
var ErrRankOutOfRange = errors.New("llrb: rank out of range")

// none is the empty handle.
const none = -1

type node[K, V any] struct {
	key    K
	value  V
	left   int
	right  int
	parent int
	size   int
	red    bool
}

// Tree is an ordered map from K to V.
type Tree[K, V any] struct {
	nodes   []node[K, V]
	root    int
	compare func(a, b K) int

	// detached is the handle unlinked by the last delete pass, compacted
	// out of the arena once the pass returns.
	detached int
}

// New returns an empty tree ordered by compare, which must define a total order.
func New[K, V any](compare func(a, b K) int) *Tree[K, V] {
	return &Tree[K, V]{
		root:     none,
		compare:  compare,
		detached: none,
	}
}

// NewOrdered returns an empty tree over a naturally ordered key type.
func NewOrdered[K cmp.Ordered, V any]() *Tree[K, V] {
	return New[K, V](cmp.Compare[K])
}

func (t *Tree[K, V]) Len() int { return t.size(t.root) }

func (t *Tree[K, V]) IsEmpty() bool { return t.root == none }

func (t *Tree[K, V]) Get(key K) (V, bool) {
	if h := t.find(key); h != none {
		return t.nodes[h].value, true
	}
	var zero V
	return zero, false
}

func (t *Tree[K, V]) Contains(key K) bool { return t.find(key) != none }

func (t *Tree[K, V]) find(key K) int {
	h := t.root
	for h != none {
		switch c := t.compare(key, t.nodes[h].key); {
		case c < 0:
			h = t.nodes[h].left
		case c > 0:
			h = t.nodes[h].right
		default:
			return h
		}
	}
	return none
}

// Insert stores value under key, overwriting any previous value.
func (t *Tree[K, V]) Insert(key K, value V) {
	t.root = t.put(t.root, none, key, value)
	t.nodes[t.root].red = false
	t.nodes[t.root].parent = none
}

func (t *Tree[K, V]) put(h, parent int, key K, value V) int {
	if h == none {
		t.nodes = append(t.nodes, node[K, V]{
			key:    key,
			value:  value,
			left:   none,
			right:  none,
			parent: parent,
			size:   1,
			red:    true,
		})
		return len(t.nodes) - 1
	}

	switch c := t.compare(key, t.nodes[h].key); {
	case c < 0:
		t.setLeft(h, t.put(t.nodes[h].left, h, key, value))
	case c > 0:
		t.setRight(h, t.put(t.nodes[h].right, h, key, value))
	default:
		t.nodes[h].value = value
	}

	if t.isRed(t.nodes[h].right) && !t.isRed(t.nodes[h].left) {
		h = t.rotateLeft(h)
	}
	if t.isRed(t.nodes[h].left) && t.isRed(t.nodes[t.nodes[h].left].left) {
		h = t.rotateRight(h)
	}
	if t.isRed(t.nodes[h].left) && t.isRed(t.nodes[h].right) {
		t.flipColors(h)
	}
	t.resize(h)
	return h
}

// Delete removes key. It is a no-op when key is absent.
func (t *Tree[K, V]) Delete(key K) {
	if !t.Contains(key) {
		return
	}

	root := t.root
	if !t.isRed(t.nodes[root].left) && !t.isRed(t.nodes[root].right) {
		t.nodes[root].red = true
	}
	t.root = t.delete(root, key)
	if t.root != none {
		t.nodes[t.root].red = false
		t.nodes[t.root].parent = none
	}
	t.compact()
}

func (t *Tree[K, V]) delete(h int, key K) int {
	if t.compare(key, t.nodes[h].key) < 0 {
		left := t.nodes[h].left
		if !t.isRed(left) && !t.isRed(t.nodes[left].left) {
			h = t.moveRedLeft(h)
		}
		t.setLeft(h, t.delete(t.nodes[h].left, key))
		return t.balance(h)
	}

	if t.isRed(t.nodes[h].left) {
		h = t.rotateRight(h)
	}
	if t.compare(key, t.nodes[h].key) == 0 && t.nodes[h].right == none {
		t.detach(h)
		return none
	}
	right := t.nodes[h].right
	if !t.isRed(right) && !t.isRed(t.nodes[right].left) {
		h = t.moveRedRight(h)
	}
	if t.compare(key, t.nodes[h].key) == 0 {
		// Pull the successor's entry up into h and unlink the successor node,
		// which has no children.
		succ := t.min(t.nodes[h].right)
		t.nodes[h].key = t.nodes[succ].key
		t.nodes[h].value = t.nodes[succ].value
		t.setRight(h, t.deleteMin(t.nodes[h].right))
	} else {
		t.setRight(h, t.delete(t.nodes[h].right, key))
	}
	return t.balance(h)
}

func (t *Tree[K, V]) deleteMin(h int) int {
	left := t.nodes[h].left
	if left == none {
		t.detach(h)
		return none
	}
	if !t.isRed(left) && !t.isRed(t.nodes[left].left) {
		h = t.moveRedLeft(h)
	}
	t.setLeft(h, t.deleteMin(t.nodes[h].left))
	return t.balance(h)
}

func (t *Tree[K, V]) detach(h int) {
	if t.detached != none {
		panic(fmt.Sprintf("llrb: node %d detached while %d still pending", h, t.detached))
	}
	t.detached = h
}

// compact moves the last arena slot into the hole left by the detached node
// and rewrites every handle that referred to the moved slot.
func (t *Tree[K, V]) compact() {
	hole := t.detached
	if hole == none {
		return
	}
	t.detached = none

	last := len(t.nodes) - 1
	if hole != last {
		moved := t.nodes[last]
		t.nodes[hole] = moved
		if p := moved.parent; p != none {
			if t.nodes[p].left == last {
				t.nodes[p].left = hole
			} else {
				t.nodes[p].right = hole
			}
		} else {
			t.root = hole
		}
		if moved.left != none {
			t.nodes[moved.left].parent = hole
		}
		if moved.right != none {
			t.nodes[moved.right].parent = hole
		}
	}
	t.nodes[last] = node[K, V]{}
	t.nodes = t.nodes[:last]
}

func (t *Tree[K, V]) moveRedLeft(h int) int {
	t.flipColors(h)
	right := t.nodes[h].right
	if t.isRed(t.nodes[right].left) {
		t.setRight(h, t.rotateRight(right))
		h = t.rotateLeft(h)
		t.flipColors(h)
	}
	return h
}

func (t *Tree[K, V]) moveRedRight(h int) int {
	t.flipColors(h)
	if t.isRed(t.nodes[t.nodes[h].left].left) {
		h = t.rotateRight(h)
		t.flipColors(h)
	}
	return h
}

func (t *Tree[K, V]) balance(h int) int {
	if t.isRed(t.nodes[h].right) && !t.isRed(t.nodes[h].left) {
		h = t.rotateLeft(h)
	}
	if t.isRed(t.nodes[h].left) && t.isRed(t.nodes[t.nodes[h].left].left) {
		h = t.rotateRight(h)
	}
	if t.isRed(t.nodes[h].left) && t.isRed(t.nodes[h].right) {
		t.flipColors(h)
	}
	t.resize(h)
	return h
}

func (t *Tree[K, V]) rotateLeft(h int) int {
	x := t.nodes[h].right
	t.setRight(h, t.nodes[x].left)
	t.nodes[x].parent = t.nodes[h].parent
	t.setLeft(x, h)
	t.nodes[x].red = t.nodes[h].red
	t.nodes[h].red = true
	t.nodes[x].size = t.nodes[h].size
	t.resize(h)
	return x
}

func (t *Tree[K, V]) rotateRight(h int) int {
	x := t.nodes[h].left
	t.setLeft(h, t.nodes[x].right)
	t.nodes[x].parent = t.nodes[h].parent
	t.setRight(x, h)
	t.nodes[x].red = t.nodes[h].red
	t.nodes[h].red = true
	t.nodes[x].size = t.nodes[h].size
	t.resize(h)
	return x
}

func (t *Tree[K, V]) flipColors(h int) {
	n := &t.nodes[h]
	n.red = !n.red
	t.nodes[n.left].red = !t.nodes[n.left].red
	t.nodes[n.right].red = !t.nodes[n.right].red
}

func (t *Tree[K, V]) setLeft(h, child int) {
	t.nodes[h].left = child
	if child != none {
		t.nodes[child].parent = h
	}
}

func (t *Tree[K, V]) setRight(h, child int) {
	t.nodes[h].right = child
	if child != none {
		t.nodes[child].parent = h
	}
}

func (t *Tree[K, V]) resize(h int) {
	t.nodes[h].size = 1 + t.size(t.nodes[h].left) + t.size(t.nodes[h].right)
}

func (t *Tree[K, V]) isRed(h int) bool { return h != none && t.nodes[h].red }

func (t *Tree[K, V]) size(h int) int {
	if h == none {
		return 0
	}
	return t.nodes[h].size
}

func (t *Tree[K, V]) min(h int) int {
	for t.nodes[h].left != none {
		h = t.nodes[h].left
	}
	return h
}

func (t *Tree[K, V]) max(h int) int {
	for t.nodes[h].right != none {
		h = t.nodes[h].right
	}
	return h
}

func (t *Tree[K, V]) Min() (K, bool) {
	if t.root == none {
		var zero K
		return zero, false
	}
	return t.nodes[t.min(t.root)].key, true
}

func (t *Tree[K, V]) Max() (K, bool) {
	if t.root == none {
		var zero K
		return zero, false
	}
	return t.nodes[t.max(t.root)].key, true
}

// Rank returns the number of keys strictly less than key.
func (t *Tree[K, V]) Rank(key K) int {
	rank, h := 0, t.root
	for h != none {
		switch c := t.compare(key, t.nodes[h].key); {
		case c < 0:
			h = t.nodes[h].left
		case c > 0:
			rank += 1 + t.size(t.nodes[h].left)
			h = t.nodes[h].right
		default:
			return rank + t.size(t.nodes[h].left)
		}
	}
	return rank
}

// Select returns the key of the given rank (0-based).
func (t *Tree[K, V]) Select(rank int) (K, error) {
	if rank < 0 || rank >= t.Len() {
		var zero K
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrRankOutOfRange, rank, t.Len())
	}
	return t.nodes[t.selectNode(rank)].key, nil
}

func (t *Tree[K, V]) selectNode(rank int) int {
	h := t.root
	for {
		ls := t.size(t.nodes[h].left)
		switch {
		case rank < ls:
			h = t.nodes[h].left
		case rank > ls:
			rank -= ls + 1
			h = t.nodes[h].right
		default:
			return h
		}
	}
}

// Random returns a uniformly chosen entry, or false on an empty tree.
func (t *Tree[K, V]) Random() (K, V, bool) {
	if t.root == none {
		var (
			k K
			v V
		)
		return k, v, false
	}
	n := &t.nodes[t.selectNode(fastrand.Intn(t.Len()))]
	return n.key, n.value, true
}
