package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Flush results recorded in FlushesTotal.
const (
	FlushProceed       = "proceed"
	FlushInProgress    = "in_progress"
	FlushFinalized     = "finalized"
	FlushCleared       = "cleared"
	FlushPersistFailed = "persist_failed"
)

// Memtable slots recorded in MemtableEntries and MemtableBytes.
const (
	SlotCurrent  = "current"
	SlotFlushing = "flushing"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusmem_requests_total",
			Help: "Total number of requests",
		},
		[]string{"method"},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusmem_flushes_total",
			Help: "Flush protocol transitions by result",
		},
		[]string{"result"},
	)

	FlushEntries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusmem_flush_entries",
			Help:    "Number of entries handed out per flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusmem_flush_duration_seconds",
			Help:    "Time spent persisting a flush batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	MemtableEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusmem_memtable_entries",
			Help: "Entries held per memtable slot, tombstones included",
		},
		[]string{"slot"},
	)

	MemtableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusmem_memtable_bytes",
			Help: "Approximate bytes held per memtable slot",
		},
		[]string{"slot"},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			FlushesTotal,
			FlushEntries,
			FlushDuration,
			MemtableEntries,
			MemtableBytes,
		)
	})
}
