// pkg/sink/file.go
package sink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/storage"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	segmentMagic   = 0x4e4d5347 // "NMSG"
	segmentVersion = 1
	headerSize     = 28
	footerSize     = 20
	recordHeader   = 12

	flagZstd = 1 << 0

	kindValue     = 1
	kindTombstone = 2

	segmentExt = ".nms"

	DefaultBloomFPRate = 0.01
)

// FileSink writes one segment file per batch into a directory.
type FileSink struct {
	mu          sync.Mutex
	dir         string
	compression Compression
	fpRate      float64
	nextSeq     uint64
	logger      *zap.Logger
}

type FileOption func(*FileSink)

func WithCompression(c Compression) FileOption {
	return func(s *FileSink) { s.compression = c }
}

func WithBloomFPRate(rate float64) FileOption {
	return func(s *FileSink) {
		if rate > 0 && rate < 1 {
			s.fpRate = rate
		}
	}
}

// NewFileSink opens dir, creating it if needed, and continues numbering after
// the segments already present.
func NewFileSink(dir string, logger *zap.Logger, opts ...FileOption) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create segment dir failed: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileSink{
		dir:    dir,
		fpRate: DefaultBloomFPRate,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	segs, err := s.List()
	if err != nil {
		return nil, err
	}
	if n := len(segs); n > 0 {
		s.nextSeq = segs[n-1].Seq + 1
	}
	s.logger.Info("Segment sink opened",
		zap.String("dir", dir),
		zap.Int("segments", len(segs)),
		zap.Stringer("compression", s.compression))
	return s, nil
}

// WriteBatch encodes batch into a new segment. The file is written under a
// temporary name, synced, then renamed into place.
func (s *FileSink) WriteBatch(ctx context.Context, batch storage.FlushBatch) (Segment, error) {
	if batch.Status != storage.FlushProceed {
		return Segment{}, ErrNotProceed
	}
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}

	data, err := s.encode(batch)
	if err != nil {
		return Segment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	path := filepath.Join(s.dir, segmentName(seq, batch.ID))
	tmp := path + ".tmp"

	if err := writeFileSync(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return Segment{}, fmt.Errorf("write segment failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return Segment{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Segment{}, fmt.Errorf("rename segment failed: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return Segment{}, fmt.Errorf("fsync segment dir failed: %w", err)
	}
	s.nextSeq++

	seg := Segment{
		Seq:     seq,
		Path:    path,
		BatchID: batch.ID,
		Entries: len(batch.Entries),
		Bytes:   int64(len(data)),
	}
	s.logger.Info("Segment written",
		zap.String("path", path),
		zap.Stringer("batch_id", batch.ID),
		zap.Int("entries", seg.Entries),
		zap.Int64("bytes", seg.Bytes))
	return seg, nil
}

func (s *FileSink) encode(batch storage.FlushBatch) ([]byte, error) {
	var body bytes.Buffer
	var payload []byte
	head := make([]byte, recordHeader)
	filter := bloom.NewWithEstimates(uint(max(len(batch.Entries), 1)), s.fpRate)

	for _, e := range batch.Entries {
		payload = appendPayload(payload[:0], e)
		binary.BigEndian.PutUint32(head[0:4], uint32(len(payload)))
		binary.BigEndian.PutUint64(head[4:12], xxhash.Sum64(payload))
		body.Write(head)
		body.Write(payload)
		filter.Add(e.Key)
	}

	var flags byte
	bodyBytes := body.Bytes()
	if s.compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		bodyBytes = enc.EncodeAll(bodyBytes, nil)
		if err := enc.Close(); err != nil {
			return nil, err
		}
		flags |= flagZstd
	}

	var out bytes.Buffer
	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr[0:4], segmentMagic)
	hdr[4] = segmentVersion
	hdr[5] = flags
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(batch.Entries)))
	copy(hdr[12:28], batch.ID[:])
	out.Write(hdr)
	out.Write(bodyBytes)

	filterLen, err := filter.WriteTo(&out)
	if err != nil {
		return nil, fmt.Errorf("encode bloom filter: %w", err)
	}

	ftr := make([]byte, footerSize)
	binary.BigEndian.PutUint64(ftr[0:8], uint64(len(bodyBytes)))
	binary.BigEndian.PutUint64(ftr[8:16], uint64(filterLen))
	binary.BigEndian.PutUint32(ftr[16:20], segmentMagic)
	out.Write(ftr)
	return out.Bytes(), nil
}

func appendPayload(dst []byte, e memtable.Entry) []byte {
	kind := byte(kindValue)
	if e.Tombstone {
		kind = kindTombstone
	}
	dst = append(dst, kind)
	dst = binary.AppendUvarint(dst, uint64(len(e.Key)))
	dst = append(dst, e.Key...)
	dst = binary.AppendUvarint(dst, uint64(len(e.Value)))
	return append(dst, e.Value...)
}

// List returns the segments in dir ordered by sequence number.
func (s *FileSink) List() ([]Segment, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "seg-*"+segmentExt))
	if err != nil {
		return nil, err
	}
	segs := make([]Segment, 0, len(paths))
	for _, p := range paths {
		seq, id, ok := parseSegmentName(filepath.Base(p))
		if !ok {
			s.logger.Warn("Skipping unrecognized segment file", zap.String("path", p))
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		segs = append(segs, Segment{Seq: seq, Path: p, BatchID: id, Bytes: info.Size()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	return segs, nil
}

func (s *FileSink) Dir() string { return s.dir }

func segmentName(seq uint64, id uuid.UUID) string {
	return fmt.Sprintf("seg-%08d-%s%s", seq, id, segmentExt)
}

func parseSegmentName(name string) (uint64, uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(name, "seg-")
	if !ok {
		return 0, uuid.Nil, false
	}
	rest, ok = strings.CutSuffix(rest, segmentExt)
	if !ok {
		return 0, uuid.Nil, false
	}
	seqStr, idStr, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, uuid.Nil, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, uuid.Nil, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return 0, uuid.Nil, false
	}
	return seq, id, true
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
