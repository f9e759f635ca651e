// Package profiler tracks per-stage timings and runtime statistics.
package profiler

import (
	"context"
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Reporter receives periodic status lines.
type Reporter interface {
	Info(format string, v ...interface{})
}

// RuntimeProfiler records operation timings and custom metrics over a sliding
// window of samples. It is safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	reporter       Reporter

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 1m).
	ReportInterval time.Duration
	// SampleInterval specifies how often collectors are polled (default: 1s).
	SampleInterval time.Duration
	// MaxSamples specifies how many samples each tracker keeps (default: 1000).
	MaxSamples int
	// Reporter receives status reports. Nil disables reporting.
	Reporter Reporter
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *RuntimeProfiler: A configured profiler. Timings can be recorded
//     without calling Start; Start only enables sampling and reports.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = time.Minute
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1000
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		reporter:       opts.Reporter,
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins polling collectors and emitting reports. Calling Start on a
// running profiler does nothing.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true

	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel

	rp.wg.Add(1)
	go rp.loop(ctx)
}

// Stop stops the background loop and waits for it to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a custom metrics collector to be polled
// every sample interval.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		rp.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// StartOperation begins timing an operation.
//
// Returns:
//   - func() time.Duration: Call it when the operation completes. It records
//     and returns the elapsed time.
func (rp *RuntimeProfiler) StartOperation(name string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		rp.RecordOperation(name, d)
		return d
	}
}

// RecordOperation records the completion time of an operation.
func (rp *RuntimeProfiler) RecordOperation(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{minTime: duration, maxTime: duration}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
	tracker.minTime = min(tracker.minTime, duration)
	tracker.maxTime = max(tracker.maxTime, duration)
}

func (rp *RuntimeProfiler) loop(ctx context.Context) {
	defer rp.wg.Done()

	sample := time.NewTicker(rp.sampleInterval)
	defer sample.Stop()
	report := time.NewTicker(rp.reportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sample.C:
			rp.collect()
		case <-report.C:
			rp.emitStatusReport()
		}
	}
}

func (rp *RuntimeProfiler) collect() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	for _, c := range collectors {
		metrics := c.CollectMetrics()
		rp.mu.Lock()
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
		rp.mu.Unlock()
	}
}

func (rp *RuntimeProfiler) emitStatusReport() {
	if rp.reporter == nil {
		return
	}
	stats := rp.Snapshot()
	rp.reporter.Info("📊 uptime=%v goroutines=%d heap=%s",
		stats.Uptime.Truncate(time.Second), stats.Goroutines, formatBytes(stats.Memory.HeapAlloc))
	for _, name := range sortedKeys(stats.Operations) {
		op := stats.Operations[name]
		rp.reporter.Info("📊 %s: avg=%v p95=%v max=%v count=%d",
			name, op.Avg, op.P95, op.Max, op.Count)
	}
}
