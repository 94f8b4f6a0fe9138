package katana

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressEvent is the public event shape named by spec §6's
// progress_sink contract.
type ProgressEvent struct {
	ProcessedFiles  uint64
	TotalFiles      uint64
	ProcessedBytes  uint64
	TotalBytes      uint64
	CompletedShards uint32
	TotalShards     uint32
	Elapsed         time.Duration
	ETA             time.Duration
	SpeedMBPS       float64
}

// ProgressSink receives progress events. Events may arrive from
// different worker goroutines; the tracker serializes emission so a
// sink only ever sees one event at a time.
type ProgressSink func(ProgressEvent)

// threadMetrics is the per-worker counter pair, translated from
// original_source/src/progress.rs: ThreadMetrics — each worker only
// ever touches its own instance, so there is no contention on the hot
// path, and the tracker sums them on demand when it needs to emit.
type threadMetrics struct {
	filesProcessed atomic.Uint64
	bytesProcessed atomic.Uint64
}

func (m *threadMetrics) recordFile(size uint64) {
	m.filesProcessed.Add(1)
	m.bytesProcessed.Add(size)
}

// ProgressTracker aggregates per-thread metrics into ProgressEvents
// without making the hot path contend on a shared counter, and
// throttles emission to at most once per emitInterval — the Go
// translation of original_source/src/progress.rs: ProgressTracker.
type ProgressTracker struct {
	threads []*threadMetrics

	totalFiles  uint64
	totalBytes  uint64
	totalShards uint32

	completedShards atomic.Uint32

	start         time.Time
	emitInterval  time.Duration
	mu            sync.Mutex
	lastEmit      time.Time
	sink          ProgressSink
}

// NewProgressTracker allocates one threadMetrics per worker. A nil
// sink makes RecordFile/RecordShard/Finish no-ops beyond bookkeeping.
func NewProgressTracker(numWorkers int, totalFiles, totalBytes uint64, totalShards uint32, emitInterval time.Duration, sink ProgressSink) *ProgressTracker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	t := &ProgressTracker{
		threads:      make([]*threadMetrics, numWorkers),
		totalFiles:   totalFiles,
		totalBytes:   totalBytes,
		totalShards:  totalShards,
		start:        time.Now(),
		emitInterval: emitInterval,
		sink:         sink,
	}
	for i := range t.threads {
		t.threads[i] = &threadMetrics{}
	}
	t.lastEmit = t.start
	return t
}

// RecordFile credits worker slot idx with one processed file of size
// bytes. idx must be in [0, numWorkers).
func (t *ProgressTracker) RecordFile(idx int, size uint64) {
	t.threads[idx%len(t.threads)].recordFile(size)
	t.maybeEmit(false)
}

// RecordShard marks one more shard complete and, unconditionally,
// emits — shard boundaries are cancellation/progress checkpoints per
// spec §5, so they bypass the throttle.
func (t *ProgressTracker) RecordShard() {
	t.completedShards.Add(1)
	t.maybeEmit(true)
}

func (t *ProgressTracker) snapshot() ProgressEvent {
	var files, bytesDone uint64
	for _, m := range t.threads {
		files += m.filesProcessed.Load()
		bytesDone += m.bytesProcessed.Load()
	}
	elapsed := time.Since(t.start)
	var speed float64
	if elapsed > 0 {
		speed = (float64(bytesDone) / (1024 * 1024)) / elapsed.Seconds()
	}
	var eta time.Duration
	if speed > 0 && t.totalBytes > bytesDone {
		remainingMB := float64(t.totalBytes-bytesDone) / (1024 * 1024)
		eta = time.Duration(remainingMB / speed * float64(time.Second))
	}
	return ProgressEvent{
		ProcessedFiles:  files,
		TotalFiles:      t.totalFiles,
		ProcessedBytes:  bytesDone,
		TotalBytes:      t.totalBytes,
		CompletedShards: t.completedShards.Load(),
		TotalShards:     t.totalShards,
		Elapsed:         elapsed,
		ETA:             eta,
		SpeedMBPS:       speed,
	}
}

func (t *ProgressTracker) maybeEmit(force bool) {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !force && now.Sub(t.lastEmit) < t.emitInterval {
		return
	}
	t.lastEmit = now
	t.sink(t.snapshot())
}

// Finish delivers a terminal event unconditionally, bypassing the
// throttle, so callers always observe a final, consistent snapshot —
// the monotonic "eventual delivery of a terminal event" spec §9
// requires of the progress contract.
func (t *ProgressTracker) Finish() {
	if t.sink == nil {
		return
	}
	ev := t.snapshot()
	ev.CompletedShards = t.totalShards
	t.sink(ev)
}
