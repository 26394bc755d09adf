package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	JobKeyPrefix     = "payproxy:job:"
	JobQueueKey      = "payproxy:job_queue"
	JobProcessingKey = "payproxy:job_processing"
	JobRetryKey      = "payproxy:job_retry" // sorted set scored by due time in unix ms
	JobStatsKey      = "payproxy:job_stats"

	DefaultMaxRetries = 3
	DefaultWorkers    = 2
	JobTTL            = 7 * 24 * time.Hour

	maintenanceInterval = 5 * time.Second
	stuckAfter          = 10 * time.Minute
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// JobRecorder counts finished jobs.
type JobRecorder interface {
	JobFinished(jobType, status string)
}

type noopRecorder struct{}

func (noopRecorder) JobFinished(string, string) {}

// Queue runs admin mail and archive uploads off the request path. Jobs live
// in Redis so a restart loses neither pending work nor scheduled retries.
type Queue struct {
	client   *redis.Client
	workers  int
	handlers map[JobType]Handler
	recorder JobRecorder
	backoff  func(attempt int) time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		client:   client,
		workers:  workers,
		handlers: make(map[JobType]Handler),
		recorder: noopRecorder{},
		backoff: func(attempt int) time.Duration {
			return time.Minute * time.Duration(attempt)
		},
	}
}

// Handle registers the handler for a job type. Handlers must be registered
// before Start.
func (q *Queue) Handle(jobType JobType, h Handler) {
	q.handlers[jobType] = h
}

func (q *Queue) WithRecorder(r JobRecorder) *Queue {
	q.recorder = r
	return q
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.maintain()
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}

	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] Workers stopped")
}

func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		job, err := q.next(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}
		q.run(ctx, job)
	}
}

// maintain moves due retries back onto the queue and rescues jobs whose
// worker died mid-run.
func (q *Queue) maintain() {
	defer q.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := q.promoteDueRetries(ctx, now); err != nil {
				log.Errorf("[JobQueue] Retry promotion: %v", err)
			}
			if n, err := q.recoverStuckJobs(ctx, stuckAfter, now); err != nil {
				log.Errorf("[JobQueue] Stuck job recovery: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck job(s)", n)
			}
		}
	}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal %s job: %w", jobType, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	log.Infof("[JobQueue] Enqueued %s job %s", job.Type, job.ID)
	return job, nil
}

// next claims the oldest pending job.
func (q *Queue) next(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.load(ctx, id)
	if err != nil {
		q.release(ctx, id)
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) run(ctx context.Context, job *Job) {
	h, ok := q.handlers[job.Type]
	if !ok {
		// Archive jobs can outlive a config change that disabled the archive.
		job.MarkAsFailed(fmt.Sprintf("no handler for %s jobs", job.Type))
		q.fail(ctx, job)
		return
	}

	job.MarkAsProcessing()
	q.save(ctx, job)

	err := h(ctx, job)
	if err == nil {
		job.MarkAsCompleted()
		q.bumpStat(ctx, JobStatusCompleted)
		q.recorder.JobFinished(string(job.Type), string(JobStatusCompleted))
		if err := q.client.Del(ctx, JobKeyPrefix+job.ID).Err(); err != nil {
			log.Errorf("[JobQueue] Drop completed job %s: %v", job.ID, err)
		}
		q.release(ctx, job.ID)
		return
	}

	log.Errorf("[JobQueue] %s job %s failed: %v", job.Type, job.ID, err)
	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		q.fail(ctx, job)
		return
	}

	job.MarkAsRetrying()
	q.save(ctx, job)
	due := time.Now().Add(q.backoff(job.RetryCount))
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, JobRetryKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Schedule retry of job %s: %v", job.ID, err)
		return
	}
	log.Infof("[JobQueue] Job %s retry %d/%d due at %s", job.ID, job.RetryCount, job.MaxRetries, due.Format(time.RFC3339))
}

// fail keeps the job for inspection until JobTTL runs out.
func (q *Queue) fail(ctx context.Context, job *Job) {
	log.Errorf("[JobQueue] %s job %s given up after %d attempt(s): %s", job.Type, job.ID, job.RetryCount, job.ErrorMsg)
	q.bumpStat(ctx, JobStatusFailed)
	q.recorder.JobFinished(string(job.Type), string(JobStatusFailed))
	q.save(ctx, job)
	q.release(ctx, job.ID)
}

// promoteDueRetries requeues every scheduled retry due at now.
func (q *Queue) promoteDueRetries(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobRetryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		// Another instance may have claimed it first.
		removed, err := q.client.ZRem(ctx, JobRetryKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, fmt.Errorf("requeue job %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

func (q *Queue) recoverStuckJobs(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil || job.Status != JobStatusProcessing {
			q.release(ctx, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		job.Status = JobStatusPending
		job.UpdatedAt = now
		q.save(ctx, job)
		q.release(ctx, id)
		if err := q.client.RPush(ctx, JobQueueKey, id).Err(); err != nil {
			return recovered, fmt.Errorf("requeue job %s: %w", id, err)
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) save(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Save job %s: %v", job.ID, err)
	}
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *Queue) release(ctx context.Context, id string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, id).Err(); err != nil {
		log.Errorf("[JobQueue] Release job %s: %v", id, err)
	}
}

func (q *Queue) bumpStat(ctx context.Context, status JobStatus) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), 1).Err(); err != nil {
		log.Errorf("[JobQueue] Job stats: %v", err)
	}
}

// Stats is a snapshot of the queue for the admin endpoint.
type Stats struct {
	Pending    int64               `json:"pending"`
	Processing int64               `json:"processing"`
	Scheduled  int64               `json:"scheduled"`
	Totals     map[JobStatus]int64 `json:"totals"`
}

// GetStats returns the list lengths and lifetime totals per status.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	raw, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := &Stats{Totals: make(map[JobStatus]int64, len(raw))}
	for status, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats.Totals[JobStatus(status)] = n
		}
	}
	if stats.Pending, err = q.GetQueueSize(ctx); err != nil {
		return nil, err
	}
	if stats.Processing, err = q.GetProcessingSize(ctx); err != nil {
		return nil, err
	}
	if stats.Scheduled, err = q.client.ZCard(ctx, JobRetryKey).Result(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
