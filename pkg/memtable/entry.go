// pkg/memtable/entry.go
package memtable

import "fmt"

// Record is either a live value or a tombstone.
type Record struct {
	Value     []byte `json:"value,omitempty"`
	Tombstone bool   `json:"tombstone,omitempty"`
}

func (r Record) String() string {
	if r.Tombstone {
		return "Tombstone"
	}
	return fmt.Sprintf("Value(%q)", r.Value)
}

// Entry is a key with its latest record, as handed out for flushing.
type Entry struct {
	Key []byte `json:"key"`
	Record
}

func (e Entry) String() string {
	return fmt.Sprintf("(%q, %s)", e.Key, e.Record)
}

// State is the three-way outcome of a query.
type State uint8

const (
	// Absent means the key was never written to this memtable.
	Absent State = iota
	// Live means the key holds a value.
	Live
	// Deleted means the key holds a tombstone.
	Deleted
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Live:
		return "Value"
	case Deleted:
		return "Tombstone"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Result is the answer to a query. Value is set only when State is Live.
type Result struct {
	State State  `json:"state"`
	Value []byte `json:"value"`
}
