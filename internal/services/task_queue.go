package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/pkg/logger"
)

const (
	TaskTypeSync = "reviews:sync"
)

// SyncTask asks a worker to pull external reviews for one branch. The
// payload doubles as the asynq uniqueness key, so it must carry nothing
// that varies between two requests for the same branch.
type SyncTask struct {
	BranchID string `json:"branch_id"`
}

const syncUniqueWindow = 10 * time.Minute

// TaskQueue defines the interface for sync task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SyncTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue picks the Redis-backed queue when Redis is enabled and
// reachable, else the in-process queue.
func NewTaskQueue(cfg *config.RedisConfig) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err != nil {
			logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
			return NewSyncQueue()
		}
		logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
		return queue
	}
	logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	return NewSyncQueue()
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client taskEnqueuer
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	// One pending sync per branch; a duplicate within the window is a no-op.
	t := asynq.NewTask(TaskTypeSync, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(2),
		asynq.Unique(syncUniqueWindow),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Infof("[AsyncQueue] Sync for branch %s already queued, skipped", task.BranchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue sync for branch %s: %w", task.BranchID, err)
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, branch=%s", info.ID, info.Queue, task.BranchID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in-process without Redis. Close waits for running tasks.
type SyncQueue struct {
	processor func(context.Context, *SyncTask) error
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor func(context.Context, *SyncTask) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = processor
}

func (q *SyncQueue) Enqueue(task *SyncTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("sync queue closed")
	}
	if q.processor == nil {
		logger.Infof("[SyncQueue] Warning: no processor set, task for branch %s dropped", task.BranchID)
		return nil
	}

	process := q.processor
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := process(context.Background(), task); err != nil {
			logger.Infof("[SyncQueue] Task processing failed: %v", err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
