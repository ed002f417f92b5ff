package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type MemoryMetricEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	HeapAllocBytes float64   `json:"heap_alloc_bytes"`
	HeapInuseBytes float64   `json:"heap_inuse_bytes"`
	HeapSysBytes   float64   `json:"heap_sys_bytes"`
}

// MemoryMonitor samples the heap of this process on an interval while a
// long running command works, e.g. training on a large dataset.
type MemoryMonitor struct {
	interval time.Duration
	path     string
	sink     func(MemoryMetricEntry)

	metrics []MemoryMetricEntry
	mutex   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMemoryMonitor samples every interval and, on Stop, writes the samples
// as JSON to path when it is not empty. sink may be nil.
func NewMemoryMonitor(interval time.Duration, path string, sink func(MemoryMetricEntry)) *MemoryMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MemoryMonitor{interval: interval, path: path, sink: sink}
}

func (m *MemoryMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	log.WithFields(log.Fields{
		"interval": m.interval,
		"file":     m.path,
	}).Info("Starting memory monitoring")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

func (m *MemoryMonitor) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()

	if m.path == "" {
		return nil
	}
	if err := m.writeToFile(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"file":    m.path,
		"entries": len(m.metrics),
	}).Info("Memory metrics written to file")
	return nil
}

// Peak returns the entry with the highest heap allocation seen so far.
func (m *MemoryMonitor) Peak() MemoryMetricEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var peak MemoryMetricEntry
	for _, e := range m.metrics {
		if e.HeapAllocBytes >= peak.HeapAllocBytes {
			peak = e
		}
	}
	return peak
}

// Entries returns a copy of the samples.
func (m *MemoryMonitor) Entries() []MemoryMetricEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]MemoryMetricEntry(nil), m.metrics...)
}

func (m *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.recordMetric()

	for {
		select {
		case <-ctx.Done():
			m.recordMetric()
			return
		case <-ticker.C:
			m.recordMetric()
		}
	}
}

func readMemoryMetrics() MemoryMetricEntry {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryMetricEntry{
		Timestamp:      time.Now(),
		HeapAllocBytes: float64(ms.HeapAlloc),
		HeapInuseBytes: float64(ms.HeapInuse),
		HeapSysBytes:   float64(ms.HeapSys),
	}
}

func (m *MemoryMonitor) recordMetric() {
	entry := readMemoryMetrics()

	m.mutex.Lock()
	m.metrics = append(m.metrics, entry)
	m.mutex.Unlock()

	if m.sink != nil {
		m.sink(entry)
	}

	log.WithFields(log.Fields{
		"heap_alloc_mb": entry.HeapAllocBytes / 1024 / 1024,
		"heap_inuse_mb": entry.HeapInuseBytes / 1024 / 1024,
		"heap_sys_mb":   entry.HeapSysBytes / 1024 / 1024,
	}).Debug("Recorded memory metric")
}

func (m *MemoryMonitor) writeToFile() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create results directory")
	}

	data, err := json.MarshalIndent(m.metrics, "", "    ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal metrics")
	}

	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}
