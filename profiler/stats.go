package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// OperationStats summarizes the timing window of one operation.
type OperationStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg_ns"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	P95   time.Duration `json:"p95_ns"`
}

// MetricStats summarizes the sample window of one custom metric.
type MetricStats struct {
	Count int64   `json:"count"`
	Last  float64 `json:"last"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// MemoryStats is the subset of runtime.MemStats worth reporting.
type MemoryStats struct {
	Alloc      uint64  `json:"alloc"`
	HeapAlloc  uint64  `json:"heap_alloc"`
	HeapSys    uint64  `json:"heap_sys"`
	Sys        uint64  `json:"sys"`
	NumGC      uint32  `json:"gc_cycles"`
	GCFraction float64 `json:"gc_cpu_fraction"`
}

// Stats is a point-in-time snapshot of the profiler.
type Stats struct {
	Uptime     time.Duration             `json:"uptime_ns"`
	Goroutines int                       `json:"goroutines"`
	CgoCalls   int64                     `json:"cgo_calls"`
	Memory     MemoryStats               `json:"memory"`
	Operations map[string]OperationStats `json:"operations"`
	Metrics    map[string]MetricStats    `json:"metrics"`
}

// Snapshot returns the current profiling statistics.
func (rp *RuntimeProfiler) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	stats := Stats{
		Uptime:     time.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		Memory: MemoryStats{
			Alloc:      mem.Alloc,
			HeapAlloc:  mem.HeapAlloc,
			HeapSys:    mem.HeapSys,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
			GCFraction: mem.GCCPUFraction,
		},
		Operations: make(map[string]OperationStats, len(rp.operationTimes)),
		Metrics:    make(map[string]MetricStats, len(rp.customMetrics)),
	}

	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		stats.Operations[name] = OperationStats{
			Count: t.count,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			P95:   percentile(t.durations, 0.95),
		}
	}

	for name, m := range rp.customMetrics {
		if len(m.values) == 0 {
			continue
		}
		stats.Metrics[name] = MetricStats{
			Count: m.count,
			Last:  m.values[len(m.values)-1],
			Avg:   m.sum / float64(len(m.values)),
			Min:   m.min,
			Max:   m.max,
		}
	}
	return stats
}

// percentile returns the nearest-rank percentile of durations.
func percentile(durations []time.Duration, p float64) time.Duration {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.999999) - 1
	rank = min(max(rank, 0), len(sorted)-1)
	return sorted[rank]
}

func sortedKeys(m map[string]OperationStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
