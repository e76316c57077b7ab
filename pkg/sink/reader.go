// pkg/sink/reader.go
package sink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/klauspost/compress/zstd"
)

// SegmentData is the decoded content of a segment file.
type SegmentData struct {
	BatchID uuid.UUID
	Entries []memtable.Entry
	Filter  *bloom.BloomFilter
}

// MayContain reports whether key may be in the segment. False is definite.
func (d *SegmentData) MayContain(key []byte) bool {
	return d.Filter.Test(key)
}

// ReadSegment loads and validates the segment at path.
func ReadSegment(path string) (*SegmentData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeSegment(data)
}

func decodeSegment(data []byte) (*SegmentData, error) {
	if len(data) < headerSize+footerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorruptSegment, len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != segmentMagic {
		return nil, fmt.Errorf("%w: bad header magic", ErrCorruptSegment)
	}
	if v := data[4]; v != segmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSegment, v)
	}
	flags := data[5]
	count := binary.BigEndian.Uint32(data[8:12])
	id, err := uuid.FromBytes(data[12:28])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}

	ftr := data[len(data)-footerSize:]
	if binary.BigEndian.Uint32(ftr[16:20]) != segmentMagic {
		return nil, fmt.Errorf("%w: bad footer magic", ErrCorruptSegment)
	}
	bodyLen := binary.BigEndian.Uint64(ftr[0:8])
	filterLen := binary.BigEndian.Uint64(ftr[8:16])
	sections := uint64(len(data) - headerSize - footerSize)
	if bodyLen > sections || filterLen != sections-bodyLen {
		return nil, fmt.Errorf("%w: section lengths do not add up", ErrCorruptSegment)
	}
	body := data[headerSize : headerSize+int(bodyLen)]
	filterBytes := data[headerSize+int(bodyLen) : headerSize+int(bodyLen)+int(filterLen)]

	if flags&flagZstd != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		body, err = dec.DecodeAll(body, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
		}
	}

	entries, err := decodeRecords(body, int(count))
	if err != nil {
		return nil, err
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(filterBytes)); err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrCorruptSegment, err)
	}
	return &SegmentData{BatchID: id, Entries: entries, Filter: filter}, nil
}

func decodeRecords(body []byte, count int) ([]memtable.Entry, error) {
	entries := make([]memtable.Entry, 0, min(count, len(body)/recordHeader))
	pos := 0
	for pos < len(body) {
		if pos+recordHeader > len(body) {
			return nil, fmt.Errorf("%w: truncated record header at %d", ErrCorruptSegment, pos)
		}
		n := int(binary.BigEndian.Uint32(body[pos : pos+4]))
		sum := binary.BigEndian.Uint64(body[pos+4 : pos+12])
		pos += recordHeader
		if pos+n > len(body) {
			return nil, fmt.Errorf("%w: truncated record at %d", ErrCorruptSegment, pos)
		}
		payload := body[pos : pos+n]
		if xxhash.Sum64(payload) != sum {
			return nil, fmt.Errorf("%w: checksum mismatch at record %d", ErrCorruptSegment, len(entries))
		}
		e, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		pos += n
	}
	if len(entries) != count {
		return nil, fmt.Errorf("%w: header says %d records, found %d", ErrCorruptSegment, count, len(entries))
	}
	return entries, nil
}

func decodePayload(p []byte) (memtable.Entry, error) {
	var e memtable.Entry
	if len(p) == 0 {
		return e, fmt.Errorf("%w: empty payload", ErrCorruptSegment)
	}
	kind := p[0]
	p = p[1:]

	key, p, ok := readBytes(p)
	if !ok {
		return e, fmt.Errorf("%w: bad key", ErrCorruptSegment)
	}
	value, p, ok := readBytes(p)
	if !ok || len(p) != 0 {
		return e, fmt.Errorf("%w: bad value", ErrCorruptSegment)
	}

	e.Key = key
	switch kind {
	case kindValue:
		e.Value = value
	case kindTombstone:
		e.Tombstone = true
	default:
		return e, fmt.Errorf("%w: unknown record kind %d", ErrCorruptSegment, kind)
	}
	return e, nil
}

func readBytes(p []byte) ([]byte, []byte, bool) {
	n, w := binary.Uvarint(p)
	if w <= 0 || uint64(len(p)-w) < n {
		return nil, nil, false
	}
	p = p[w:]
	return bytes.Clone(p[:n]), p[n:], true
}
