// Package metrics provides application-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds sync-engine metrics using atomic counters for thread safety.
type Metrics struct {
	// Batch executor metrics
	batchesTotal      atomic.Int64
	batchLatencyNanos atomic.Int64

	// Item outcome metrics
	itemsCompleted atomic.Int64
	itemsContinued atomic.Int64
	itemsRetried   atomic.Int64
	itemsFailed    atomic.Int64

	// Websocket metrics
	wsReconnects atomic.Int64
	wsPushEvents atomic.Int64

	// Normalizer metrics
	txnsNormalized atomic.Int64
	txnsSkipped    atomic.Int64
}

// Global is the global metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordBatch records an executed batch call and its duration.
func (m *Metrics) RecordBatch(duration time.Duration) {
	m.batchesTotal.Add(1)
	m.batchLatencyNanos.Add(duration.Nanoseconds())
}

// RecordCompleted records terminally successful items.
func (m *Metrics) RecordCompleted(n int) {
	m.itemsCompleted.Add(int64(n))
}

// RecordContinued records items kept queued with an advanced cursor.
func (m *Metrics) RecordContinued(n int) {
	m.itemsContinued.Add(int64(n))
}

// RecordRetried records items re-queued after a retryable failure.
func (m *Metrics) RecordRetried(n int) {
	m.itemsRetried.Add(int64(n))
}

// RecordFailed records items dropped on fatal failure.
func (m *Metrics) RecordFailed(n int) {
	m.itemsFailed.Add(int64(n))
}

// RecordReconnect records a websocket reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.wsReconnects.Add(1)
}

// RecordPushEvent records a server push notification.
func (m *Metrics) RecordPushEvent() {
	m.wsPushEvents.Add(1)
}

// RecordNormalized records normalized transaction records.
func (m *Metrics) RecordNormalized(n int) {
	m.txnsNormalized.Add(int64(n))
}

// RecordSkipped records raw transactions skipped as malformed.
func (m *Metrics) RecordSkipped(n int) {
	m.txnsSkipped.Add(int64(n))
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	BatchesTotal      int64
	BatchLatencyNanos int64
	ItemsCompleted    int64
	ItemsContinued    int64
	ItemsRetried      int64
	ItemsFailed       int64
	WSReconnects      int64
	WSPushEvents      int64
	TxnsNormalized    int64
	TxnsSkipped       int64
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BatchesTotal:      m.batchesTotal.Load(),
		BatchLatencyNanos: m.batchLatencyNanos.Load(),
		ItemsCompleted:    m.itemsCompleted.Load(),
		ItemsContinued:    m.itemsContinued.Load(),
		ItemsRetried:      m.itemsRetried.Load(),
		ItemsFailed:       m.itemsFailed.Load(),
		WSReconnects:      m.wsReconnects.Load(),
		WSPushEvents:      m.wsPushEvents.Load(),
		TxnsNormalized:    m.txnsNormalized.Load(),
		TxnsSkipped:       m.txnsSkipped.Load(),
	}
}

// BatchLatencyAvgMs returns the average batch latency in milliseconds.
// Returns 0 if no batches have run.
func (m *Metrics) BatchLatencyAvgMs() float64 {
	batches := m.batchesTotal.Load()
	if batches == 0 {
		return 0
	}
	nanos := m.batchLatencyNanos.Load()
	return float64(nanos) / float64(batches) / 1e6
}

// Reset resets all metrics to zero. Useful for testing.
func (m *Metrics) Reset() {
	m.batchesTotal.Store(0)
	m.batchLatencyNanos.Store(0)
	m.itemsCompleted.Store(0)
	m.itemsContinued.Store(0)
	m.itemsRetried.Store(0)
	m.itemsFailed.Store(0)
	m.wsReconnects.Store(0)
	m.wsPushEvents.Store(0)
	m.txnsNormalized.Store(0)
	m.txnsSkipped.Store(0)
}
