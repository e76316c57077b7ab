// pkg/storage/engine.go
package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/memtable"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage: engine closed")
	// ErrEmptyKey is returned when a write or query names an empty key.
	ErrEmptyKey = errors.New("storage: empty key")
)

// Engine is the write buffer seen by the host: writes and queries go to the
// current memtable, and PrepareFlush / FinalizeFlush / Clear drive the hand-off
// of a frozen memtable to external persistence.
type Engine interface {
	Update(key, value []byte) error
	Delete(key []byte) error
	Query(key []byte) (memtable.Result, error)
	PrepareFlush() (FlushBatch, error)
	FinalizeFlush() error
	Clear() error
	State() FlushState
	Stats() Stats
	Close() error
	Closed() bool
}

// FlushStatus is the outcome of PrepareFlush.
type FlushStatus uint8

const (
	// FlushProceed means the batch entries must now be persisted, then
	// FinalizeFlush called.
	FlushProceed FlushStatus = iota
	// FlushAlreadyInProgress means an earlier batch is still outstanding;
	// the caller retries later.
	FlushAlreadyInProgress
)

func (s FlushStatus) String() string {
	switch s {
	case FlushProceed:
		return "Proceed"
	case FlushAlreadyInProgress:
		return "AlreadyInProgress"
	default:
		return fmt.Sprintf("FlushStatus(%d)", uint8(s))
	}
}

// FlushBatch is the frozen content handed out by PrepareFlush, in ascending
// key order. ID is zero unless Status is FlushProceed.
type FlushBatch struct {
	ID      uuid.UUID        `json:"id"`
	Status  FlushStatus      `json:"status"`
	Entries []memtable.Entry `json:"entries"`
}

// FlushState is the state of the flushing slot.
type FlushState uint8

const (
	// Idle means no flush is outstanding.
	Idle FlushState = iota
	// Flushing means a batch was handed out and awaits FinalizeFlush or Clear.
	Flushing
)

func (s FlushState) String() string {
	if s == Flushing {
		return "Flushing"
	}
	return "Idle"
}

// Stats is a point-in-time view of both memtable slots.
type Stats struct {
	State           FlushState `json:"state"`
	CurrentEntries  int        `json:"current_entries"`
	CurrentBytes    int        `json:"current_bytes"`
	FlushingEntries int        `json:"flushing_entries"`
	FlushingBytes   int        `json:"flushing_bytes"`
	FlushID         uuid.UUID  `json:"flush_id"`
}
