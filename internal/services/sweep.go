package services

import (
	"context"
	"sync"
	"time"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

const sweepErrorText = "finalized by pending sweep: classifier result unavailable"

// PendingSweep finalizes reviews whose finalization write never landed. It
// never calls the classifier again: each review gets at most one attempt.
type PendingSweep struct {
	reviews    *ReviewService
	store      store.Store
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int

	// housekeeping runs after every scheduled pass.
	housekeeping []func()

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewPendingSweep(reviews *ReviewService, s store.Store, cfg config.SweepConfig) *PendingSweep {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	staleAfter := time.Duration(cfg.StaleAfterSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &PendingSweep{
		reviews:    reviews,
		store:      s,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batch,
		stop:       make(chan struct{}),
	}
}

// OnTick registers fn to run on the sweep's schedule. Call before Start.
func (p *PendingSweep) OnTick(fn func()) {
	p.housekeeping = append(p.housekeeping, fn)
}

func (p *PendingSweep) tick(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		logger.Error().Err(err).Msg("[Sweep] run failed")
	}
	for _, fn := range p.housekeeping {
		fn()
	}
}

func (p *PendingSweep) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick(context.Background())
			case <-p.stop:
				return
			}
		}
	}()
	logger.Infof("[Sweep] Scheduler started, interval: %v, stale after: %v", p.interval, p.staleAfter)
}

func (p *PendingSweep) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// RunOnce finalizes one batch of stale pending reviews and returns how many
// it finalized.
func (p *PendingSweep) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.reviews.now().UTC().Add(-p.staleAfter)
	stale, err := p.store.QueryReviews(ctx, store.Query{
		Where: []store.Predicate{
			store.Eq(store.FieldStatus, models.ReviewStatusPending),
			store.Eq(store.FieldIsDeleted, false),
		},
		Range: &store.TimeRange{Field: store.FieldCreatedAt, To: &cutoff},
		Limit: p.batchSize,
	})
	if err != nil {
		return 0, &StoreError{Op: "query pending", Err: err}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	logger.Infof("[Sweep] Processing %d stale pending reviews", len(stale))
	finalized := 0
	for i := range stale {
		review := &stale[i]
		if _, ok := p.reviews.finalize(ctx, review, nil, sweepErrorText, 0, models.AuditActorSystemSweep); !ok {
			continue
		}
		finalized++
		metrics.SweepFinalized.Inc()
		p.recordSweep(review)
	}
	return finalized, nil
}

func (p *PendingSweep) recordSweep(review *models.Review) {
	d := p.reviews.dispatcher
	if d == nil || p.reviews.audit == nil {
		return
	}
	pendingFor := p.reviews.now().Sub(review.CreatedAt).Round(time.Second).String()
	d.Dispatch("audit", func(ctx context.Context) error {
		return p.reviews.audit.LogEvent(ctx, AuditEvent{
			ActorUID:   models.AuditActorSystemSweep,
			Action:     models.AuditActionReviewSwept,
			TargetID:   review.ID,
			TargetType: "review",
			BranchID:   review.BranchID,
			Metadata:   map[string]interface{}{"pendingFor": pendingFor},
		})
	})
}
