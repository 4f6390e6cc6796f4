package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
)

type fakeSource struct {
	reviews []ExternalReview
	err     error
}

func (f *fakeSource) FetchReviews(context.Context, string) ([]ExternalReview, error) {
	return f.reviews, f.err
}

func newSyncFixture(t *testing.T, source ReviewSource) (*SyncService, *pipelineFixture) {
	t.Helper()
	f := newMemoryPipeline(t, &fakeClassifier{err: &ClassifierFailure{Reason: FailureMissingCredentials}})
	_ = f.store.SaveBranch(context.Background(), &models.Branch{ID: "b1", Name: "Downtown", PlaceID: "place-1"})
	_ = f.store.SaveBranch(context.Background(), &models.Branch{ID: "b2", Name: "Airport"})
	return NewSyncService(f.store, f.svc, source), f
}

func TestSyncExternalReviews_DeduplicatesAcrossRuns(t *testing.T) {
	published := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	dup := ExternalReview{AuthorName: "Ana", Rating: 1, Text: "cold", PublishedAt: published}
	source := &fakeSource{reviews: []ExternalReview{dup, dup, {AuthorName: "Ben", Rating: 0, Text: "?", PublishedAt: published}}}
	svc, f := newSyncFixture(t, source)

	first, err := svc.SyncExternalReviews(context.Background(), "b1")
	if err != nil {
		t.Fatalf("SyncExternalReviews() error = %v", err)
	}
	want := SyncResult{BranchID: "b1", Fetched: 3, Imported: 1, Duplicates: 1, Failed: 1}
	if *first != want {
		t.Errorf("first sync = %+v, expected %+v", *first, want)
	}

	second, err := svc.SyncExternalReviews(context.Background(), "b1")
	if err != nil {
		t.Fatalf("second SyncExternalReviews() error = %v", err)
	}
	if second.Imported != 0 || second.Duplicates != 2 {
		t.Errorf("second sync = %+v, expected nothing imported", *second)
	}

	stored, _ := f.store.QueryReviews(context.Background(), store.Query{Where: []store.Predicate{store.Eq(store.FieldBranchID, "b1")}})
	if len(stored) != 1 {
		t.Fatalf("stored %d reviews, expected exactly 1", len(stored))
	}
	r := stored[0]
	if r.Source != models.SourceGoogle || r.ExternalReviewID == nil || *r.ExternalReviewID != dup.ExternalKey() {
		t.Errorf("stored review = source %s, external id %v", r.Source, r.ExternalReviewID)
	}
	if !r.IsEscalated {
		t.Error("imported 1-star review should go through escalation")
	}
}

func TestSyncExternalReviews_SkipsUndatedReviews(t *testing.T) {
	undated := ExternalReview{AuthorName: "Cleo", Rating: 4, Text: "fine"}
	svc, f := newSyncFixture(t, &fakeSource{reviews: []ExternalReview{undated}})

	for run := 1; run <= 2; run++ {
		got, err := svc.SyncExternalReviews(context.Background(), "b1")
		if err != nil {
			t.Fatalf("run %d: SyncExternalReviews() error = %v", run, err)
		}
		want := SyncResult{BranchID: "b1", Fetched: 1, Failed: 1}
		if *got != want {
			t.Errorf("run %d = %+v, expected %+v", run, *got, want)
		}
	}

	if n, _ := f.store.CountReviews(context.Background(), store.Query{}); n != 0 {
		t.Errorf("stored %d reviews, expected none", n)
	}
}

func TestSyncExternalReviews_Errors(t *testing.T) {
	svc, _ := newSyncFixture(t, &fakeSource{})

	if _, err := svc.SyncExternalReviews(context.Background(), "nope"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("unknown branch error = %v, expected ErrBranchNotFound", err)
	}
	if _, err := svc.SyncExternalReviews(context.Background(), "b2"); !errors.Is(err, ErrSyncUnavailable) {
		t.Errorf("branch without place error = %v, expected ErrSyncUnavailable", err)
	}

	failing, _ := newSyncFixture(t, &fakeSource{err: errors.New("quota exceeded")})
	if _, err := failing.SyncExternalReviews(context.Background(), "b1"); err == nil {
		t.Error("source failure should be returned")
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []string
}

func (q *recordingQueue) Enqueue(task *SyncTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task.BranchID)
	return nil
}
func (q *recordingQueue) IsAsync() bool { return true }
func (q *recordingQueue) Close() error  { return nil }

func TestSyncJob_RunOnce(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_ = s.SaveBranch(ctx, &models.Branch{ID: "a", PlaceID: "p-a"})
	_ = s.SaveBranch(ctx, &models.Branch{ID: "b"})
	_ = s.SaveBranch(ctx, &models.Branch{ID: "c", PlaceID: "p-c"})
	_ = s.SaveBranch(ctx, &models.Branch{ID: "d", PlaceID: "p-d", Status: "closed"})

	q := &recordingQueue{}
	job := NewSyncJob(s, q, config.SyncConfig{MinJitterMs: 1000, MaxJitterMs: 3000})
	var pauses []time.Duration
	job.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	n, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 2 || len(q.tasks) != 2 || q.tasks[0] != "a" || q.tasks[1] != "c" {
		t.Errorf("enqueued %d: %v, expected [a c]", n, q.tasks)
	}
	if len(pauses) != 1 || pauses[0] < time.Second || pauses[0] >= 3*time.Second {
		t.Errorf("pauses = %v, expected one jitter in [1s, 3s)", pauses)
	}
}

func TestSyncJob_BadSchedule(t *testing.T) {
	job := NewSyncJob(store.NewMemoryStore(), &recordingQueue{}, config.SyncConfig{Schedule: "every day"})
	if err := job.StartScheduler(); err == nil {
		t.Error("StartScheduler() should reject an invalid cron expression")
	}
	job.StopScheduler()
}
