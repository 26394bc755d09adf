package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGauge struct {
	mu     sync.Mutex
	values map[string]int64
}

func (g *recordingGauge) QueueLength(list string, n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.values == nil {
		g.values = map[string]int64{}
	}
	g.values[list] = n
}

func TestNewManagerDefaults(t *testing.T) {
	queue := NewQueue(nil, 1)
	manager := NewManager(queue, nil, 0)

	assert.Same(t, queue, manager.GetQueue())
	assert.Equal(t, 30*time.Second, manager.statsInterval)
	assert.False(t, manager.IsRunning())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(NewQueue(nil, 1), nil, time.Second)
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManagerPublishesQueueLengths(t *testing.T) {
	client := newIsolatedRedisClient(t)
	queue := NewQueue(client, 1)
	gauge := &recordingGauge{}
	manager := NewManager(queue, gauge, time.Second)

	ctx := context.Background()
	_, err := queue.EnqueueAdminEmail(ctx, AdminEmailJobPayload{Subject: "s"})
	require.NoError(t, err)
	_, err = queue.EnqueueAdminEmail(ctx, AdminEmailJobPayload{Subject: "t"})
	require.NoError(t, err)

	manager.publishStatsOnce(ctx)

	assert.Equal(t, int64(2), gauge.values["pending"])
	assert.Equal(t, int64(0), gauge.values["processing"])
}

func TestManagerStartStop(t *testing.T) {
	client := newIsolatedRedisClient(t)
	manager := NewManager(NewQueue(client, 1), &recordingGauge{}, 10*time.Millisecond)

	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.True(t, manager.GetQueue().IsRunning())

	manager.Stop()
	assert.False(t, manager.IsRunning())
	assert.False(t, manager.GetQueue().IsRunning())
}
