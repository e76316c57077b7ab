// pkg/llrb/iterator.go
package llrb

import "iter"

// Iterator walks a tree in ascending key order by following parent handles,
// so it needs no stack. Mutating the tree invalidates every open Iterator.
type Iterator[K, V any] struct {
	tree *Tree[K, V]
	cur  int
}

// Iter returns an iterator positioned before the first entry.
// Call First or Seek to position it.
func (t *Tree[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t, cur: none}
}

// First moves to the smallest key and reports whether one exists.
func (it *Iterator[K, V]) First() bool {
	if it.tree.root == none {
		it.cur = none
		return false
	}
	it.cur = it.tree.min(it.tree.root)
	return true
}

// Seek moves to the first key >= key.
func (it *Iterator[K, V]) Seek(key K) bool {
	t := it.tree
	it.cur = none
	h := t.root
	for h != none {
		if t.compare(key, t.nodes[h].key) <= 0 {
			it.cur = h
			h = t.nodes[h].left
		} else {
			h = t.nodes[h].right
		}
	}
	return it.cur != none
}

func (it *Iterator[K, V]) Valid() bool { return it.cur != none }

// Next advances to the in-order successor.
func (it *Iterator[K, V]) Next() bool {
	if it.cur != none {
		it.cur = it.tree.successor(it.cur)
	}
	return it.cur != none
}

// Key returns the current key. The iterator must be valid.
func (it *Iterator[K, V]) Key() K { return it.tree.nodes[it.cur].key }

// Value returns the current value. The iterator must be valid.
func (it *Iterator[K, V]) Value() V { return it.tree.nodes[it.cur].value }

// successor returns the next handle in key order: the minimum of the right
// subtree when there is one, otherwise the first ancestor reached from its
// left side.
func (t *Tree[K, V]) successor(h int) int {
	if r := t.nodes[h].right; r != none {
		return t.min(r)
	}
	p := t.nodes[h].parent
	for p != none && t.nodes[p].right == h {
		h, p = p, t.nodes[p].parent
	}
	return p
}

// All yields every entry in ascending key order. Each call starts over.
func (t *Tree[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := t.Iter()
		for ok := it.First(); ok; ok = it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}

// Ascend yields the entries with keys >= from in ascending order.
func (t *Tree[K, V]) Ascend(from K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := t.Iter()
		for ok := it.Seek(from); ok; ok = it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}

func (t *Tree[K, V]) Keys() []K {
	keys := make([]K, 0, t.Len())
	for k := range t.All() {
		keys = append(keys, k)
	}
	return keys
}
