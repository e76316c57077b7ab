// cmd/nexusmem/serve_test.go
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/config"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/storage"
	"go.uber.org/zap/zaptest"
)

func TestLoadConfig_MissingFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GRPCAddr != config.Default().GRPCAddr {
		t.Fatalf("GRPCAddr = %q, want default", cfg.GRPCAddr)
	}
}

func TestLoadConfig_InvalidIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("flush:\n  threshold_bytes: -5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, zaptest.NewLogger(t)); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestNewSink(t *testing.T) {
	cfg := config.Default().Sink
	cfg.Dir = t.TempDir()
	cfg.Compression = "zstd"
	if _, err := newSink(cfg, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("newSink: %v", err)
	}

	cfg.Compression = "lz4"
	if _, err := newSink(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("unknown compression accepted")
	}
}

func TestPrintSegment(t *testing.T) {
	fs, err := newSink(config.SinkConfig{Dir: t.TempDir(), Compression: "zstd", BloomFPRate: 0.01}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	batch := storage.FlushBatch{
		ID:     uuid.New(),
		Status: storage.FlushProceed,
		Entries: []memtable.Entry{
			{Key: []byte("a"), Record: memtable.Record{Tombstone: true}},
			{Key: []byte("b"), Record: memtable.Record{Value: []byte("2")}},
		},
	}
	seg, err := fs.WriteBatch(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := printSegment(&out, seg.Path, "b"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`("a", Tombstone)`, `("b", Value("2"))`, `may contain "b": true`} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output lacks %s:\n%s", want, out.String())
		}
	}

	if err := printSegment(&out, filepath.Join(t.TempDir(), "missing.nms"), ""); err == nil {
		t.Fatal("missing segment printed without error")
	}
}
