package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kwestra/tidesync/internal/metrics"
)

func TestSnapshot(t *testing.T) {
	m := &metrics.Metrics{}

	m.RecordBatch(10 * time.Millisecond)
	m.RecordBatch(20 * time.Millisecond)
	m.RecordCompleted(3)
	m.RecordContinued(1)
	m.RecordRetried(2)
	m.RecordFailed(1)
	m.RecordReconnect()
	m.RecordPushEvent()
	m.RecordNormalized(5)
	m.RecordSkipped(1)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.BatchesTotal)
	assert.Equal(t, int64(3), snap.ItemsCompleted)
	assert.Equal(t, int64(1), snap.ItemsContinued)
	assert.Equal(t, int64(2), snap.ItemsRetried)
	assert.Equal(t, int64(1), snap.ItemsFailed)
	assert.Equal(t, int64(1), snap.WSReconnects)
	assert.Equal(t, int64(1), snap.WSPushEvents)
	assert.Equal(t, int64(5), snap.TxnsNormalized)
	assert.Equal(t, int64(1), snap.TxnsSkipped)
}

func TestBatchLatencyAvgMs(t *testing.T) {
	m := &metrics.Metrics{}
	assert.Zero(t, m.BatchLatencyAvgMs())

	m.RecordBatch(10 * time.Millisecond)
	m.RecordBatch(30 * time.Millisecond)
	assert.InDelta(t, 20.0, m.BatchLatencyAvgMs(), 0.01)
}

func TestReset(t *testing.T) {
	m := &metrics.Metrics{}
	m.RecordCompleted(10)
	m.Reset()
	assert.Equal(t, metrics.Snapshot{}, m.Snapshot())
}

func TestConcurrentAccess(t *testing.T) {
	m := &metrics.Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCompleted(1)
				m.RecordPushEvent()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(1000), snap.ItemsCompleted)
	assert.Equal(t, int64(1000), snap.WSPushEvents)
}
