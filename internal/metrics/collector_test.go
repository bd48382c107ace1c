package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpEmbedding, 10*time.Millisecond)
	c.RecordTiming(OpEmbedding, 30*time.Millisecond)

	snaps, uptime := c.Snapshot()
	require.Contains(t, snaps, OpEmbedding)

	snap := snaps[OpEmbedding]
	assert.Equal(t, int64(2), snap.Count)
	assert.Equal(t, int64(40), snap.TotalTimeMs)
	assert.Equal(t, int64(10), snap.MinTimeMs)
	assert.Equal(t, int64(30), snap.MaxTimeMs)
	assert.Equal(t, 20.0, snap.AvgTimeMs)
	assert.GreaterOrEqual(t, uptime, 0.0)
}

func TestRecordError(t *testing.T) {
	c := NewCollector()

	c.RecordError(OpStoreWrite)
	c.RecordError(OpStoreWrite)

	snaps, _ := c.Snapshot()
	assert.Equal(t, int64(2), snaps[OpStoreWrite].Errors)
	assert.Equal(t, int64(0), snaps[OpStoreWrite].Count)
	assert.Equal(t, int64(0), snaps[OpStoreWrite].MinTimeMs, "no timings recorded yet")
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpAPIRequest, time.Millisecond)
			c.RecordError(OpAPIRequest)
		}()
	}
	wg.Wait()

	snaps, _ := c.Snapshot()
	assert.Equal(t, int64(50), snaps[OpAPIRequest].Count)
	assert.Equal(t, int64(50), snaps[OpAPIRequest].Errors)
}
