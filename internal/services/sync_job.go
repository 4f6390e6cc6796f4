package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

// SyncJob periodically enqueues an external review sync for every active
// branch linked to a place listing.
type SyncJob struct {
	store         store.Store
	queue         TaskQueue
	schedule      string
	minJitter     time.Duration
	maxJitter     time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	cronScheduler *cron.Cron
	cancel        context.CancelFunc
}

func NewSyncJob(s store.Store, queue TaskQueue, cfg config.SyncConfig) *SyncJob {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 */6 * * *"
	}
	return &SyncJob{
		store:     s,
		queue:     queue,
		schedule:  schedule,
		minJitter: time.Duration(cfg.MinJitterMs) * time.Millisecond,
		maxJitter: time.Duration(cfg.MaxJitterMs) * time.Millisecond,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *SyncJob) StartScheduler() error {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.cronScheduler = cron.New()

	if _, err := j.cronScheduler.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			logger.Errorf("[SyncJob] Run failed: %v", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid sync schedule %q: %w", j.schedule, err)
	}

	j.cronScheduler.Start()
	logger.Infof("[SyncJob] Scheduled (cron: %s)", j.schedule)
	return nil
}

func (j *SyncJob) StopScheduler() {
	if j.cancel != nil {
		j.cancel()
	}
	if j.cronScheduler != nil {
		<-j.cronScheduler.Stop().Done()
	}
}

func (j *SyncJob) jitter() time.Duration {
	if j.maxJitter <= j.minJitter {
		return j.minJitter
	}
	return j.minJitter + time.Duration(rand.Int63n(int64(j.maxJitter-j.minJitter)))
}

// RunOnce enqueues one sync task per eligible branch, pausing between
// branches to spread load on the listing API. It returns the count enqueued.
func (j *SyncJob) RunOnce(ctx context.Context) (int, error) {
	branches, err := j.store.QueryBranches(ctx, store.Query{Where: []store.Predicate{
		store.Eq(store.FieldStatus, models.BranchStatusActive),
	}})
	if err != nil {
		return 0, &StoreError{Op: "query branches", Err: err}
	}

	enqueued := 0
	for _, b := range branches {
		if strings.TrimSpace(b.PlaceID) == "" {
			continue
		}
		if enqueued > 0 {
			if err := j.sleep(ctx, j.jitter()); err != nil {
				return enqueued, err
			}
		}
		if err := j.queue.Enqueue(&SyncTask{BranchID: b.ID}); err != nil {
			logger.Errorf("[SyncJob] Failed to enqueue branch %s: %v", b.ID, err)
			continue
		}
		enqueued++
	}
	logger.Infof("[SyncJob] Enqueued %d branch syncs", enqueued)
	return enqueued, nil
}
