package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/reviewiq/internal/models"
)

// MemoryStore keeps every document in process memory. It backs the
// "memory" database driver for local runs and is the default test double.
type MemoryStore struct {
	mu        sync.RWMutex
	reviews   map[string]models.Review
	responses map[string]models.ReviewResponse
	branches  map[string]models.Branch
	audit     []models.AuditLog
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews:   make(map[string]models.Review),
		responses: make(map[string]models.ReviewResponse),
		branches:  make(map[string]models.Branch),
		now:       time.Now,
	}
}

func reviewField(r *models.Review, f Field) interface{} {
	switch f {
	case FieldID:
		return r.ID
	case FieldBranchID:
		return r.BranchID
	case FieldSource:
		return string(r.Source)
	case FieldStatus:
		return string(r.Status)
	case FieldResponseStatus:
		return string(r.ResponseStatus)
	case FieldIsDeleted:
		return r.IsDeleted
	case FieldIsEscalated:
		return r.IsEscalated
	case FieldStaffTagged:
		return r.StaffTagged
	case FieldExternalReviewID:
		if r.ExternalReviewID == nil {
			return nil
		}
		return *r.ExternalReviewID
	case FieldCreatedAt:
		return r.CreatedAt
	}
	return nil
}

func responseField(r *models.ReviewResponse, f Field) interface{} {
	switch f {
	case FieldID:
		return r.ID
	case FieldReviewID:
		return r.ReviewID
	case FieldBranchID:
		return r.BranchID
	case FieldRespondedBy:
		return r.RespondedBy
	case FieldRespondedAt:
		return r.RespondedAt
	}
	return nil
}

func branchField(b *models.Branch, f Field) interface{} {
	switch f {
	case FieldID:
		return b.ID
	case FieldStatus:
		return b.Status
	case FieldCreatedAt:
		return b.CreatedAt
	}
	return nil
}

// equal compares loosely so typed string constants match plain strings.
func equal(got, want interface{}) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func matches(get func(Field) interface{}, q Query) bool {
	for _, p := range q.Where {
		if !equal(get(p.Field), p.Value) {
			return false
		}
	}
	if q.Range != nil {
		t, ok := get(q.Range.Field).(time.Time)
		if !ok || !q.Range.contains(t) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) AddReview(_ context.Context, review *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if _, exists := s.reviews[review.ID]; exists {
		return ErrDuplicate
	}
	if review.ExternalReviewID != nil {
		for _, r := range s.reviews {
			if r.BranchID == review.BranchID && r.ExternalReviewID != nil && *r.ExternalReviewID == *review.ExternalReviewID {
				return ErrDuplicate
			}
		}
	}
	now := s.now()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}
	review.UpdatedAt = now
	s.reviews[review.ID] = cloneReview(*review)
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneReview copies r so that no pointer field is shared with the caller.
func cloneReview(r models.Review) models.Review {
	r.ExternalReviewID = clonePtr(r.ExternalReviewID)
	r.ExternalAt = clonePtr(r.ExternalAt)
	r.Sentiment = clonePtr(r.Sentiment)
	r.SentimentConfidence = clonePtr(r.SentimentConfidence)
	r.CategoryConfidence = clonePtr(r.CategoryConfidence)
	r.AIProcessingError = clonePtr(r.AIProcessingError)
	r.AIProcessedAt = clonePtr(r.AIProcessedAt)
	r.ResponseTimeMinutes = clonePtr(r.ResponseTimeMinutes)
	r.RespondedAt = clonePtr(r.RespondedAt)
	return r
}

func (s *MemoryStore) GetReview(_ context.Context, id string) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	r = cloneReview(r)
	return &r, nil
}

func (s *MemoryStore) UpdateReview(_ context.Context, id string, patch models.ReviewPatch, expect ...Predicate) error {
	if err := (Query{Where: expect}).validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok {
		return ErrNotFound
	}
	if !matches(func(f Field) interface{} { return reviewField(&r, f) }, Query{Where: expect}) {
		return ErrPreconditionFailed
	}
	patch.Apply(&r)
	r.UpdatedAt = s.now()
	s.reviews[id] = r
	return nil
}

func (s *MemoryStore) QueryReviews(_ context.Context, q Query) ([]models.Review, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.Review, 0)
	for _, r := range s.reviews {
		r := r
		if matches(func(f Field) interface{} { return reviewField(&r, f) }, q) {
			out = append(out, cloneReview(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountReviews(ctx context.Context, q Query) (int64, error) {
	q.Limit = 0
	reviews, err := s.QueryReviews(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(reviews)), nil
}

func (s *MemoryStore) AddResponse(_ context.Context, resp *models.ReviewResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if _, exists := s.responses[resp.ID]; exists {
		return ErrDuplicate
	}
	s.responses[resp.ID] = *resp
	return nil
}

func (s *MemoryStore) QueryResponses(_ context.Context, q Query) ([]models.ReviewResponse, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.ReviewResponse, 0)
	for _, r := range s.responses {
		r := r
		if matches(func(f Field) interface{} { return responseField(&r, f) }, q) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RespondedAt.Before(out[j].RespondedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AddAuditLog(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.audit = append(s.audit, *entry)
	return nil
}

// AuditLogs returns a copy of every recorded audit entry.
func (s *MemoryStore) AuditLogs() []models.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditLog(nil), s.audit...)
}

func (s *MemoryStore) GetBranch(_ context.Context, id string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) QueryBranches(_ context.Context, q Query) ([]models.Branch, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.Branch, 0)
	for _, b := range s.branches {
		b := b
		if matches(func(f Field) interface{} { return branchField(&b, f) }, q) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveBranch(_ context.Context, branch *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = now
	}
	if branch.Status == "" {
		branch.Status = models.BranchStatusActive
	}
	branch.UpdatedAt = now
	s.branches[branch.ID] = *branch
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
