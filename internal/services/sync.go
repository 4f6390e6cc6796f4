package services

import (
	"context"
	"errors"
	"strings"

	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

type SyncResult struct {
	BranchID   string `json:"branchId"`
	Fetched    int    `json:"fetched"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
}

// SyncService imports external reviews through the regular pipeline.
type SyncService struct {
	store   store.Store
	reviews *ReviewService
	source  ReviewSource
}

func NewSyncService(s store.Store, reviews *ReviewService, source ReviewSource) *SyncService {
	return &SyncService{store: s, reviews: reviews, source: source}
}

// SyncExternalReviews pulls the branch's external reviews and submits only
// those not seen before. Duplicates are skipped and counted.
func (s *SyncService) SyncExternalReviews(ctx context.Context, branchID string) (*SyncResult, error) {
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBranchNotFound
		}
		return nil, &StoreError{Op: "get branch", Err: err}
	}
	if strings.TrimSpace(branch.PlaceID) == "" || s.source == nil {
		return nil, ErrSyncUnavailable
	}

	fetched, err := s.source.FetchReviews(ctx, branch.PlaceID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{BranchID: branchID, Fetched: len(fetched)}
	seen := make(map[string]bool, len(fetched))
	for _, ext := range fetched {
		if ext.PublishedAt.IsZero() {
			result.Failed++
			logger.Warn().Str("branch", branchID).Str("author", ext.AuthorName).Msg("[Sync] review without publish time skipped")
			continue
		}
		key := ext.ExternalKey()
		if seen[key] {
			result.Duplicates++
			continue
		}
		seen[key] = true

		exists, err := s.store.CountReviews(ctx, store.Query{Where: []store.Predicate{
			store.Eq(store.FieldBranchID, branchID),
			store.Eq(store.FieldExternalReviewID, key),
		}})
		if err != nil {
			return result, &StoreError{Op: "check external review", Err: err}
		}
		if exists > 0 {
			result.Duplicates++
			continue
		}

		published := ext.PublishedAt
		_, err = s.reviews.SubmitReview(ctx, SubmitReviewRequest{
			BranchID:         branchID,
			Source:           string(models.SourceGoogle),
			Rating:           float64(ext.Rating),
			ReviewText:       ext.Text,
			AuthorName:       ext.AuthorName,
			ExternalReviewID: key,
			ExternalAt:       &published,
		})
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, store.ErrDuplicate):
			// Lost a race with a concurrent sync of the same branch.
			result.Duplicates++
		default:
			result.Failed++
			logger.Warn().Err(err).Str("branch", branchID).Str("key", key).Msg("[Sync] review import failed")
		}
	}

	metrics.SyncReviews.WithLabelValues("imported").Add(float64(result.Imported))
	metrics.SyncReviews.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	metrics.SyncReviews.WithLabelValues("failed").Add(float64(result.Failed))
	logger.Infof("[Sync] Branch %s: fetched=%d, imported=%d, duplicates=%d, failed=%d",
		branchID, result.Fetched, result.Imported, result.Duplicates, result.Failed)
	return result, nil
}

// ProcessTask adapts SyncExternalReviews to the task queue processor signature.
func (s *SyncService) ProcessTask(ctx context.Context, task *SyncTask) error {
	_, err := s.SyncExternalReviews(ctx, task.BranchID)
	return err
}
