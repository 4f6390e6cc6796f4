package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/reviewiq/internal/models"
	"gorm.io/gorm"
)

// GormStore persists documents in a SQL database through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) apply(tx *gorm.DB, q Query) (*gorm.DB, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	for _, p := range q.Where {
		if p.Value == nil {
			tx = tx.Where(fmt.Sprintf("%s IS NULL", p.Field))
			continue
		}
		tx = tx.Where(fmt.Sprintf("%s = ?", p.Field), p.Value)
	}
	if r := q.Range; r != nil {
		if r.From != nil {
			tx = tx.Where(fmt.Sprintf("%s >= ?", r.Field), *r.From)
		}
		if r.To != nil {
			tx = tx.Where(fmt.Sprintf("%s <= ?", r.Field), *r.To)
		}
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx, nil
}

func (s *GormStore) AddReview(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(review).Error)
}

func (s *GormStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&review).Error; err != nil {
		return nil, translate(err)
	}
	return &review, nil
}

func (s *GormStore) UpdateReview(ctx context.Context, id string, patch models.ReviewPatch, expect ...Predicate) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = time.Now()

	tx, err := s.apply(s.db.WithContext(ctx).Model(&models.Review{}).Where("id = ?", id), Query{Where: expect})
	if err != nil {
		return err
	}
	res := tx.Updates(cols)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Review{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return translate(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}

func (s *GormStore) QueryReviews(ctx context.Context, q Query) ([]models.Review, error) {
	tx, err := s.apply(s.db.WithContext(ctx).Model(&models.Review{}), q)
	if err != nil {
		return nil, err
	}
	var reviews []models.Review
	if err := tx.Order("created_at ASC").Find(&reviews).Error; err != nil {
		return nil, translate(err)
	}
	return reviews, nil
}

func (s *GormStore) CountReviews(ctx context.Context, q Query) (int64, error) {
	q.Limit = 0
	tx, err := s.apply(s.db.WithContext(ctx).Model(&models.Review{}), q)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (s *GormStore) AddResponse(ctx context.Context, resp *models.ReviewResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(resp).Error)
}

func (s *GormStore) QueryResponses(ctx context.Context, q Query) ([]models.ReviewResponse, error) {
	tx, err := s.apply(s.db.WithContext(ctx).Model(&models.ReviewResponse{}), q)
	if err != nil {
		return nil, err
	}
	var responses []models.ReviewResponse
	if err := tx.Order("responded_at ASC").Find(&responses).Error; err != nil {
		return nil, translate(err)
	}
	return responses, nil
}

func (s *GormStore) AddAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return translate(s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	var branch models.Branch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&branch).Error; err != nil {
		return nil, translate(err)
	}
	return &branch, nil
}

func (s *GormStore) QueryBranches(ctx context.Context, q Query) ([]models.Branch, error) {
	tx, err := s.apply(s.db.WithContext(ctx).Model(&models.Branch{}), q)
	if err != nil {
		return nil, err
	}
	var branches []models.Branch
	if err := tx.Order("created_at ASC").Find(&branches).Error; err != nil {
		return nil, translate(err)
	}
	return branches, nil
}

func (s *GormStore) SaveBranch(ctx context.Context, branch *models.Branch) error {
	if branch.Status == "" {
		branch.Status = models.BranchStatusActive
	}
	return translate(s.db.WithContext(ctx).Save(branch).Error)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
