// Package store is the persistence boundary for reviews, responses, branches
// and audit records. Queries are a flat list of equality predicates plus an
// optional inclusive time range; there are no joins or transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/reviewiq/internal/models"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrDuplicate          = errors.New("store: duplicate key")
	ErrPreconditionFailed = errors.New("store: precondition failed")
)

// Field names a queryable column. Only the constants below are accepted.
type Field string

const (
	FieldID               Field = "id"
	FieldBranchID         Field = "branch_id"
	FieldSource           Field = "source"
	FieldStatus           Field = "status"
	FieldResponseStatus   Field = "response_status"
	FieldIsDeleted        Field = "is_deleted"
	FieldIsEscalated      Field = "is_escalated"
	FieldStaffTagged      Field = "staff_tagged"
	FieldExternalReviewID Field = "external_review_id"
	FieldCreatedAt        Field = "created_at"
	FieldReviewID         Field = "review_id"
	FieldRespondedBy      Field = "responded_by"
	FieldRespondedAt      Field = "responded_at"
)

var knownFields = map[Field]bool{
	FieldID: true, FieldBranchID: true, FieldSource: true, FieldStatus: true,
	FieldResponseStatus: true, FieldIsDeleted: true, FieldIsEscalated: true,
	FieldStaffTagged: true, FieldExternalReviewID: true, FieldCreatedAt: true,
	FieldReviewID: true, FieldRespondedBy: true, FieldRespondedAt: true,
}

// Predicate is an equality constraint on one field.
type Predicate struct {
	Field Field
	Value interface{}
}

func Eq(field Field, value interface{}) Predicate {
	return Predicate{Field: field, Value: value}
}

// TimeRange bounds a timestamp field; both ends are inclusive and optional.
type TimeRange struct {
	Field Field
	From  *time.Time
	To    *time.Time
}

func (r *TimeRange) contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// Query selects documents matching every predicate and the optional range.
// Results are ordered by creation time ascending.
type Query struct {
	Where []Predicate
	Range *TimeRange
	Limit int
}

func (q Query) validate() error {
	for _, p := range q.Where {
		if !knownFields[p.Field] {
			return fmt.Errorf("store: unknown field %q", p.Field)
		}
	}
	if q.Range != nil && !knownFields[q.Range.Field] {
		return fmt.Errorf("store: unknown range field %q", q.Range.Field)
	}
	return nil
}

type Store interface {
	AddReview(ctx context.Context, review *models.Review) error
	GetReview(ctx context.Context, id string) (*models.Review, error)
	// UpdateReview applies patch only if every expect predicate holds at write
	// time; otherwise it returns ErrPreconditionFailed and writes nothing.
	UpdateReview(ctx context.Context, id string, patch models.ReviewPatch, expect ...Predicate) error
	QueryReviews(ctx context.Context, q Query) ([]models.Review, error)
	CountReviews(ctx context.Context, q Query) (int64, error)

	AddResponse(ctx context.Context, resp *models.ReviewResponse) error
	QueryResponses(ctx context.Context, q Query) ([]models.ReviewResponse, error)

	AddAuditLog(ctx context.Context, entry *models.AuditLog) error

	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	QueryBranches(ctx context.Context, q Query) ([]models.Branch, error)
	SaveBranch(ctx context.Context, branch *models.Branch) error

	Ping(ctx context.Context) error
}
