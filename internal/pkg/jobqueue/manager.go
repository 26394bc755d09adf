package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// QueueGauge receives the queue lengths.
type QueueGauge interface {
	QueueLength(list string, n int64)
}

// Manager runs the job queue together with its periodic background tasks
type Manager struct {
	queue         *Queue
	gauge         QueueGauge
	statsInterval time.Duration
	statsTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

func NewManager(queue *Queue, gauge QueueGauge, statsInterval time.Duration) *Manager {
	if statsInterval <= 0 {
		statsInterval = 30 * time.Second
	}
	return &Manager{
		queue:         queue,
		gauge:         gauge,
		statsInterval: statsInterval,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// New stop channel per start cycle so the manager can be restarted
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.gauge != nil {
		m.statsTicker = time.NewTicker(m.statsInterval)
		m.wg.Add(1)
		go m.statsWorker()
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// statsWorker publishes the queue lengths
func (m *Manager) statsWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.statsTicker.C:
			m.publishStatsOnce(context.Background())
		}
	}
}

func (m *Manager) publishStatsOnce(ctx context.Context) {
	pending, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Queue size error: %v", err)
		return
	}
	processing, err := m.queue.GetProcessingSize(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Processing size error: %v", err)
		return
	}
	m.gauge.QueueLength("pending", pending)
	m.gauge.QueueLength("processing", processing)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
