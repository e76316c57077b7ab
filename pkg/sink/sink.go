// pkg/sink/sink.go

// Package sink persists flush batches handed out by the storage coordinator.
//
// Each batch becomes one immutable segment file:
//
//	header  magic(4) version(1) flags(1) reserved(2) count(4) batch_id(16)
//	body    records, optionally zstd compressed as one frame
//	filter  bloom filter over the batch keys
//	footer  body_len(8) filter_len(8) magic(4)
//
// A record is [u32 payload_len][u64 xxhash64(payload)][payload] and the payload
// is kind(1) uvarint(key_len) key uvarint(value_len) value.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/storage"
)

var (
	// ErrCorruptSegment is returned when a segment fails validation on read.
	ErrCorruptSegment = errors.New("sink: corrupt segment")
	// ErrNotProceed is returned when asked to persist a batch whose status is
	// not FlushProceed.
	ErrNotProceed = errors.New("sink: batch status is not Proceed")
)

// Sink persists a prepared batch. A nil error means the batch is durable and
// the caller may finalize the flush.
type Sink interface {
	WriteBatch(ctx context.Context, batch storage.FlushBatch) (Segment, error)
}

// Segment describes a persisted batch.
type Segment struct {
	Seq     uint64    `json:"seq"`
	Path    string    `json:"path"`
	BatchID uuid.UUID `json:"batch_id"`
	Entries int       `json:"entries"`
	Bytes   int64     `json:"bytes"`
}

// Compression selects how segment bodies are encoded.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	if c == CompressionZstd {
		return "zstd"
	}
	return "none"
}

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}
