// pkg/memtable/memtable.go

// Package memtable buffers the latest write for each key in key order.
//
// A delete is recorded as a tombstone entry rather than a removal, so that a
// flushed memtable can shadow older values stored elsewhere.
package memtable

import (
	"bytes"
	"iter"

	"github.com/imReese/NexusMem/pkg/llrb"
)

// entryOverhead approximates the per-entry bookkeeping cost in bytes
// (arena node handles, size, color and slice headers).
const entryOverhead = 64

// Memtable is an ordered key to Record map. It is not safe for concurrent
// use; callers serialize access.
type Memtable struct {
	tree  *llrb.Tree[[]byte, Record]
	bytes int
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{
		tree: llrb.New[[]byte, Record](bytes.Compare),
	}
}

// Update stores value as the live value of key.
func (m *Memtable) Update(key, value []byte) {
	m.put(key, Record{Value: clone(value)})
}

// Delete records a tombstone for key, whether or not key was ever written.
func (m *Memtable) Delete(key []byte) {
	m.put(key, Record{Tombstone: true})
}

func (m *Memtable) put(key []byte, rec Record) {
	if old, ok := m.tree.Get(key); ok {
		m.bytes += len(rec.Value) - len(old.Value)
		m.tree.Insert(key, rec)
		return
	}
	m.bytes += len(key) + len(rec.Value) + entryOverhead
	m.tree.Insert(clone(key), rec)
}

// Query returns what this memtable knows about key.
func (m *Memtable) Query(key []byte) Result {
	rec, ok := m.tree.Get(key)
	switch {
	case !ok:
		return Result{State: Absent}
	case rec.Tombstone:
		return Result{State: Deleted}
	default:
		return Result{State: Live, Value: rec.Value}
	}
}

func (m *Memtable) Len() int { return m.tree.Len() }

func (m *Memtable) IsEmpty() bool { return m.tree.IsEmpty() }

// SizeBytes returns the approximate memory held by the entries.
func (m *Memtable) SizeBytes() int { return m.bytes }

// All yields every entry in ascending key order. The yielded slices are owned
// by the memtable and must not be modified.
func (m *Memtable) All() iter.Seq2[[]byte, Record] {
	return m.tree.All()
}

// Scan yields the entries with start <= key < end in ascending order.
// A nil end means no upper bound.
func (m *Memtable) Scan(start, end []byte) iter.Seq2[[]byte, Record] {
	return func(yield func([]byte, Record) bool) {
		for k, rec := range m.tree.Ascend(start) {
			if end != nil && bytes.Compare(k, end) >= 0 {
				return
			}
			if !yield(k, rec) {
				return
			}
		}
	}
}

// Entries materializes the memtable in ascending key order.
func (m *Memtable) Entries() []Entry {
	entries := make([]Entry, 0, m.tree.Len())
	for k, rec := range m.tree.All() {
		entries = append(entries, Entry{Key: k, Record: rec})
	}
	return entries
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone(b)
}
