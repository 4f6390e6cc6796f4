package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
)

type fakeClassifier struct {
	result *ClassifierResult
	err    error
	calls  int
	mu     sync.Mutex
}

func (f *fakeClassifier) Classify(context.Context, string) (*ClassifierResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.result, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) NotifyManager(_ context.Context, branch *models.Branch, rating int, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, branch.ID)
	return nil
}

type failingStore struct {
	*store.MemoryStore
	failAdd    bool
	failUpdate bool
}

func (s *failingStore) AddReview(ctx context.Context, r *models.Review) error {
	if s.failAdd {
		return errors.New("disk full")
	}
	return s.MemoryStore.AddReview(ctx, r)
}

func (s *failingStore) UpdateReview(ctx context.Context, id string, p models.ReviewPatch, expect ...store.Predicate) error {
	if s.failUpdate {
		return errors.New("connection reset")
	}
	return s.MemoryStore.UpdateReview(ctx, id, p, expect...)
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	svc        *ReviewService
	store      *store.MemoryStore
	hub        *SSEHub
	notifier   *fakeNotifier
	dispatcher *Dispatcher
}

func newPipeline(t *testing.T, s store.Store, mem *store.MemoryStore, c Classifier) *pipelineFixture {
	t.Helper()
	hub := NewSSEHub()
	notifier := &fakeNotifier{}
	d := NewDispatcher(2, 32, time.Second)
	t.Cleanup(d.Close)

	svc := NewReviewService(s, c, hub, NewAuditService(s), notifier, d)
	svc.now = func() time.Time { return testNow }

	_ = mem.SaveBranch(context.Background(), &models.Branch{ID: "b1", Name: "Downtown", ManagerID: "m1"})
	return &pipelineFixture{svc: svc, store: mem, hub: hub, notifier: notifier, dispatcher: d}
}

func newMemoryPipeline(t *testing.T, c Classifier) *pipelineFixture {
	mem := store.NewMemoryStore()
	return newPipeline(t, mem, mem, c)
}

func validRequest(rating float64) SubmitReviewRequest {
	return SubmitReviewRequest{BranchID: "b1", Source: "internal", Rating: rating, ReviewText: "the soup was cold"}
}

func TestSubmitReview_ClassifierNegativeEscalatesFiveStars(t *testing.T) {
	c := &fakeClassifier{result: &ClassifierResult{
		Sentiment: models.SentimentNegative, SentimentConfidence: 0.9,
		Category: "food", CategoryConfidence: 0.7,
	}}
	f := newMemoryPipeline(t, c)

	res, err := f.svc.SubmitReview(context.Background(), validRequest(5))
	if err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	if !res.IsEscalated || res.EscalationStatus != models.EscalationEscalated {
		t.Errorf("escalation = %v/%s, expected true/escalated", res.IsEscalated, res.EscalationStatus)
	}
	if res.Category != "food" || res.SentimentConfidence != 0.9 || res.CategoryConfidence != 0.7 {
		t.Errorf("result = %+v, expected classifier values", res)
	}

	stored, _ := f.store.GetReview(context.Background(), res.ReviewID)
	if stored.Status != models.ReviewStatusCritical {
		t.Errorf("Status = %s, expected critical", stored.Status)
	}
	if !stored.AIProcessed || stored.AIProcessingError != nil {
		t.Errorf("AIProcessed = %v, error = %v; expected success with no error", stored.AIProcessed, stored.AIProcessingError)
	}
	if stored.SchemaVersion != models.ReviewSchemaVersion {
		t.Errorf("SchemaVersion = %d, expected %d", stored.SchemaVersion, models.ReviewSchemaVersion)
	}
}

func TestSubmitReview_LowRatingPositiveTextStillEscalates(t *testing.T) {
	c := &fakeClassifier{result: &ClassifierResult{Sentiment: models.SentimentPositive, Category: "service"}}
	f := newMemoryPipeline(t, c)

	res, err := f.svc.SubmitReview(context.Background(), validRequest(1))
	if err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	if !res.IsEscalated {
		t.Error("rating 1 should escalate even when the text reads positive")
	}
	if res.Sentiment != models.SentimentPositive {
		t.Errorf("Sentiment = %s, expected the classifier's positive", res.Sentiment)
	}
}

func TestSubmitReview_FallbackOnClassifierFailure(t *testing.T) {
	tests := []struct {
		rating        float64
		wantSentiment models.Sentiment
		wantEscalated bool
	}{
		{1, models.SentimentNegative, true},
		{2, models.SentimentNegative, true},
		{3, models.SentimentNeutral, false},
		{4, models.SentimentPositive, false},
		{5, models.SentimentPositive, false},
	}

	for _, tt := range tests {
		c := &fakeClassifier{err: &ClassifierFailure{Reason: FailureTimeout, Err: errors.New("no response within 5s")}}
		f := newMemoryPipeline(t, c)

		res, err := f.svc.SubmitReview(context.Background(), validRequest(tt.rating))
		if err != nil {
			t.Fatalf("rating %v: SubmitReview() error = %v", tt.rating, err)
		}
		if res.Sentiment != tt.wantSentiment {
			t.Errorf("rating %v: Sentiment = %s, expected %s", tt.rating, res.Sentiment, tt.wantSentiment)
		}
		if res.IsEscalated != tt.wantEscalated {
			t.Errorf("rating %v: IsEscalated = %v, expected %v", tt.rating, res.IsEscalated, tt.wantEscalated)
		}
		if res.SentimentConfidence != 0 || res.CategoryConfidence != 0 {
			t.Errorf("rating %v: confidences = %v/%v, expected 0/0", tt.rating, res.SentimentConfidence, res.CategoryConfidence)
		}
		if res.Category != models.DefaultCategory {
			t.Errorf("rating %v: Category = %q, expected %q", tt.rating, res.Category, models.DefaultCategory)
		}

		stored, _ := f.store.GetReview(context.Background(), res.ReviewID)
		if stored.AIProcessed {
			t.Errorf("rating %v: AIProcessed = true, expected false", tt.rating)
		}
		if stored.AIProcessingError == nil || !strings.Contains(*stored.AIProcessingError, "timeout") {
			t.Errorf("rating %v: AIProcessingError = %v, expected the failure text", tt.rating, stored.AIProcessingError)
		}
		if stored.Status == models.ReviewStatusPending {
			t.Errorf("rating %v: review left pending after fallback", tt.rating)
		}
	}
}

func TestSubmitReview_ValidationListsEveryField(t *testing.T) {
	f := newMemoryPipeline(t, &fakeClassifier{})

	_, err := f.svc.SubmitReview(context.Background(), SubmitReviewRequest{Source: "yelp", Rating: 7, ReviewText: "   "})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("SubmitReview() error = %v, expected *ValidationError", err)
	}

	got := map[string]bool{}
	for _, fe := range vErr.Fields {
		got[fe.Field] = true
	}
	for _, want := range []string{"branchId", "source", "rating", "reviewText"} {
		if !got[want] {
			t.Errorf("missing field error for %q in %+v", want, vErr.Fields)
		}
	}

	reviews, _ := f.store.QueryReviews(context.Background(), store.Query{})
	if len(reviews) != 0 {
		t.Errorf("stored %d reviews after a validation failure, expected 0", len(reviews))
	}
}

func TestSubmitReview_FractionalRatingRejected(t *testing.T) {
	f := newMemoryPipeline(t, &fakeClassifier{})

	_, err := f.svc.SubmitReview(context.Background(), validRequest(3.5))
	var vErr *ValidationError
	if !errors.As(err, &vErr) || len(vErr.Fields) != 1 || vErr.Fields[0].Field != "rating" {
		t.Errorf("SubmitReview() error = %v, expected a single rating error", err)
	}
}

func TestSubmitReview_ProvisionalWriteFailureIsStoreError(t *testing.T) {
	mem := store.NewMemoryStore()
	c := &fakeClassifier{}
	f := newPipeline(t, &failingStore{MemoryStore: mem, failAdd: true}, mem, c)

	_, err := f.svc.SubmitReview(context.Background(), validRequest(4))
	var sErr *StoreError
	if !errors.As(err, &sErr) {
		t.Fatalf("SubmitReview() error = %v, expected *StoreError", err)
	}
	if c.calls != 0 {
		t.Errorf("classifier called %d times, expected 0", c.calls)
	}
}

func TestSubmitReview_FinalizeFailureLeavesPending(t *testing.T) {
	mem := store.NewMemoryStore()
	c := &fakeClassifier{result: &ClassifierResult{Sentiment: models.SentimentNegative, Category: "food"}}
	f := newPipeline(t, &failingStore{MemoryStore: mem, failUpdate: true}, mem, c)

	res, err := f.svc.SubmitReview(context.Background(), validRequest(1))
	if err != nil {
		t.Fatalf("SubmitReview() error = %v, expected success", err)
	}
	f.dispatcher.Close()

	stored, _ := mem.GetReview(context.Background(), res.ReviewID)
	if stored.Status != models.ReviewStatusPending {
		t.Errorf("Status = %s, expected pending", stored.Status)
	}
	if !stored.IsEscalated {
		t.Error("provisional escalation from rating 1 should remain visible")
	}
	if len(f.notifier.calls) != 0 || len(mem.AuditLogs()) != 0 {
		t.Error("side effects should be skipped when finalization fails")
	}
}

func TestSubmitReview_EscalationSideEffects(t *testing.T) {
	c := &fakeClassifier{result: &ClassifierResult{Sentiment: models.SentimentNegative, Category: "staff"}}
	f := newMemoryPipeline(t, c)
	events := f.hub.Subscribe("dash", "b1")

	res, err := f.svc.SubmitReview(context.Background(), validRequest(2))
	if err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	f.dispatcher.Close()

	select {
	case ev := <-events:
		if ev.Type != EventReviewFinalized || ev.Review.ReviewID != res.ReviewID {
			t.Errorf("event = %+v, expected review.finalized for %s", ev, res.ReviewID)
		}
	default:
		t.Error("no real-time event published")
	}

	logs := f.store.AuditLogs()
	if len(logs) != 1 {
		t.Fatalf("audit logs = %d, expected 1", len(logs))
	}
	if logs[0].Action != models.AuditActionReviewEscalated || logs[0].ActorUID != models.AuditActorSystemAI {
		t.Errorf("audit = %s by %s, expected REVIEW_ESCALATED by SYSTEM_AI", logs[0].Action, logs[0].ActorUID)
	}
	if !strings.Contains(logs[0].Metadata, `"sourceRating":2`) {
		t.Errorf("Metadata = %s, expected sourceRating", logs[0].Metadata)
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0] != "b1" {
		t.Errorf("notifier calls = %v, expected [b1]", f.notifier.calls)
	}
}

func TestSubmitReview_NoEscalationNoAlert(t *testing.T) {
	c := &fakeClassifier{result: &ClassifierResult{Sentiment: models.SentimentPositive, Category: "food"}}
	f := newMemoryPipeline(t, c)

	if _, err := f.svc.SubmitReview(context.Background(), validRequest(5)); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	f.dispatcher.Close()

	if len(f.store.AuditLogs()) != 0 || len(f.notifier.calls) != 0 {
		t.Error("non-escalated review should not audit or alert")
	}
}

func TestRecordResponse(t *testing.T) {
	f := newMemoryPipeline(t, &fakeClassifier{err: &ClassifierFailure{Reason: FailureMissingCredentials}})
	res, err := f.svc.SubmitReview(context.Background(), validRequest(2))
	if err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}

	f.svc.now = func() time.Time { return testNow.Add(95*time.Minute + 59*time.Second) }
	resp, err := f.svc.RecordResponse(context.Background(), res.ReviewID, RecordResponseRequest{ResponseText: "Sorry!", RespondedBy: "staff-7"})
	if err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	if resp.ResponseTimeMinutes != 95 {
		t.Errorf("ResponseTimeMinutes = %d, expected 95", resp.ResponseTimeMinutes)
	}

	stored, _ := f.store.GetReview(context.Background(), res.ReviewID)
	if stored.ResponseStatus != models.ResponseResponded || stored.ResponseTimeMinutes == nil || *stored.ResponseTimeMinutes != 95 {
		t.Errorf("stored response fields = %s/%v, expected responded/95", stored.ResponseStatus, stored.ResponseTimeMinutes)
	}
	if stored.Status != models.ReviewStatusCritical {
		t.Errorf("Status = %s, response must not reopen enrichment", stored.Status)
	}

	if _, err := f.svc.RecordResponse(context.Background(), res.ReviewID, RecordResponseRequest{ResponseText: "again"}); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("second RecordResponse() error = %v, expected ErrAlreadyResponded", err)
	}
	if _, err := f.svc.RecordResponse(context.Background(), "missing", RecordResponseRequest{ResponseText: "x"}); !errors.Is(err, ErrReviewNotFound) {
		t.Errorf("RecordResponse(missing) error = %v, expected ErrReviewNotFound", err)
	}

	responses, err := f.svc.ListResponses(context.Background(), res.ReviewID)
	if err != nil || len(responses) != 1 {
		t.Errorf("ListResponses() = %d, %v; expected 1 response", len(responses), err)
	}
}

func TestListReviews_ScopedToBranch(t *testing.T) {
	f := newMemoryPipeline(t, &fakeClassifier{err: &ClassifierFailure{Reason: FailureTransport}})
	for _, branch := range []string{"b1", "b1", "b2"} {
		req := validRequest(4)
		req.BranchID = branch
		if _, err := f.svc.SubmitReview(context.Background(), req); err != nil {
			t.Fatalf("SubmitReview() error = %v", err)
		}
	}

	got, err := f.svc.ListReviews(context.Background(), "b1")
	if err != nil || len(got) != 2 {
		t.Errorf("ListReviews(b1) = %d, %v; expected 2", len(got), err)
	}
	all, _ := f.svc.ListReviews(context.Background(), "")
	if len(all) != 3 {
		t.Errorf("ListReviews(all) = %d, expected 3", len(all))
	}
}
