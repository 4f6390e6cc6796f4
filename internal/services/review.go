package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

const fallbackErrorText = "AI timeout or failure. Used fallback logic."

// SubmitReviewRequest is the intake payload. Rating is decoded as a number so
// that a fractional value is reported as a field error instead of a decode error.
type SubmitReviewRequest struct {
	BranchID    string  `json:"branchId" validate:"required"`
	Source      string  `json:"source" validate:"required,oneof=internal google zomato swiggy"`
	Rating      float64 `json:"rating" validate:"required,min=1,max=5"`
	ReviewText  string  `json:"reviewText" validate:"required"`
	Category    string  `json:"category" validate:"omitempty,max=100"`
	AuthorName  string  `json:"authorName" validate:"omitempty,max=200"`
	Contact     string  `json:"contact" validate:"omitempty,max=200"`
	StaffTagged string  `json:"staffTagged" validate:"omitempty,max=64"`

	// Set by the external sync only.
	ExternalReviewID string     `json:"-"`
	ExternalAt       *time.Time `json:"-"`
}

// ReviewResult is returned to the submitter and broadcast to the branch.
type ReviewResult struct {
	ReviewID             string                  `json:"reviewId"`
	Rating               int                     `json:"rating"`
	Sentiment            models.Sentiment        `json:"sentiment"`
	SentimentConfidence  float64                 `json:"sentimentConfidence"`
	Category             string                  `json:"category"`
	CategoryConfidence   float64                 `json:"categoryConfidence"`
	IsEscalated          bool                    `json:"isEscalated"`
	EscalationStatus     models.EscalationStatus `json:"escalationStatus"`
	ProcessingDurationMs int64                   `json:"processingDurationMs"`
}

type RecordResponseRequest struct {
	ResponseText string `json:"responseText" validate:"required"`
	RespondedBy  string `json:"-"`
}

// ManagerNotifier alerts a branch's responsible manager.
type ManagerNotifier interface {
	NotifyManager(ctx context.Context, branch *models.Branch, rating int, reviewText string) error
}

// ReviewService runs the enrichment and escalation pipeline.
type ReviewService struct {
	store      store.Store
	classifier Classifier
	hub        *SSEHub
	audit      *AuditService
	notifier   ManagerNotifier
	dispatcher *Dispatcher
	validate   *validator.Validate
	now        func() time.Time
}

func NewReviewService(s store.Store, classifier Classifier, hub *SSEHub, audit *AuditService, notifier ManagerNotifier, dispatcher *Dispatcher) *ReviewService {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &ReviewService{
		store:      s,
		classifier: classifier,
		hub:        hub,
		audit:      audit,
		notifier:   notifier,
		dispatcher: dispatcher,
		validate:   v,
		now:        time.Now,
	}
}

// SubmitReview validates, persists and enriches one review. Only validation
// and the provisional write can fail the call.
func (s *ReviewService) SubmitReview(ctx context.Context, req SubmitReviewRequest) (*ReviewResult, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	rating := int(req.Rating)
	provisional := DecideEscalation(rating, nil)
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = models.DefaultCategory
	}

	review := &models.Review{
		ID:               uuid.NewString(),
		BranchID:         req.BranchID,
		Source:           models.Source(req.Source),
		Rating:           rating,
		ReviewText:       req.ReviewText,
		AuthorName:       req.AuthorName,
		Contact:          req.Contact,
		StaffTagged:      req.StaffTagged,
		ExternalAt:       req.ExternalAt,
		Category:         category,
		IsEscalated:      provisional.Escalated,
		EscalationStatus: provisional.EscalationStatus,
		Status:           models.ReviewStatusPending,
		ResponseStatus:   models.ResponsePending,
		SchemaVersion:    models.ReviewSchemaVersion,
		CreatedAt:        s.now().UTC(),
	}
	if req.ExternalReviewID != "" {
		ext := req.ExternalReviewID
		review.ExternalReviewID = &ext
	}

	// Writes must outlive a disconnected submitter.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.store.AddReview(writeCtx, review); err != nil {
		return nil, &StoreError{Op: "add review", Err: err}
	}
	metrics.ReviewsSubmitted.WithLabelValues(req.Source).Inc()
	logger.Debug().Str("review", review.ID).Str("branch", review.BranchID).Bool("provisional_escalation", provisional.Escalated).Msg("[Review] provisional record written")

	start := time.Now()
	classified, cerr := s.classifier.Classify(ctx, review.ReviewText)
	elapsed := time.Since(start)
	metrics.ClassifierLatency.Observe(elapsed.Seconds())

	errText := ""
	if cerr != nil {
		errText = fmt.Sprintf("%s (%v)", fallbackErrorText, cerr)
		outcome := string(FailureTransport)
		var failure *ClassifierFailure
		if errors.As(cerr, &failure) {
			outcome = string(failure.Reason)
		}
		metrics.ClassifierOutcomes.WithLabelValues(outcome).Inc()
		logger.Warn().Err(cerr).Str("review", review.ID).Dur("duration", elapsed).Msg("[Review] classifier failed, using rating fallback")
	} else {
		metrics.ClassifierOutcomes.WithLabelValues("success").Inc()
		logger.Debug().Str("review", review.ID).Dur("duration", elapsed).Msg("[Review] classified")
	}

	result, _ := s.finalize(writeCtx, review, classified, errText, elapsed.Milliseconds(), models.AuditActorSystemAI)
	return result, nil
}

func (s *ReviewService) validateSubmit(req SubmitReviewRequest) error {
	var fields []FieldError
	failed := map[string]bool{}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Fields: []FieldError{{Field: "body", Message: err.Error()}}}
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
			failed[fe.Field()] = true
		}
	}

	if !failed["rating"] && req.Rating != math.Trunc(req.Rating) {
		fields = append(fields, FieldError{Field: "rating", Message: "must be an integer"})
	}
	if !failed["reviewText"] && strings.TrimSpace(req.ReviewText) == "" {
		fields = append(fields, FieldError{Field: "reviewText", Message: "cannot be empty"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

// finalize writes the enrichment outcome once, guarded by status == pending.
// It reports whether the write happened; side effects run only if it did.
func (s *ReviewService) finalize(ctx context.Context, review *models.Review, classified *ClassifierResult, errText string, durationMs int64, actor string) (*ReviewResult, bool) {
	var sentiment *models.Sentiment
	sentimentConf, categoryConf := 0.0, 0.0
	category := review.Category
	if classified != nil {
		sentiment = &classified.Sentiment
		sentimentConf = classified.SentimentConfidence
		categoryConf = classified.CategoryConfidence
		if classified.Category != "" {
			category = classified.Category
		}
	}
	decision := DecideEscalation(review.Rating, sentiment)

	result := &ReviewResult{
		ReviewID:             review.ID,
		Rating:               review.Rating,
		Sentiment:            decision.EffectiveSentiment,
		SentimentConfidence:  sentimentConf,
		Category:             category,
		CategoryConfidence:   categoryConf,
		IsEscalated:          decision.Escalated,
		EscalationStatus:     decision.EscalationStatus,
		ProcessingDurationMs: durationMs,
	}

	processed := classified != nil
	processedAt := s.now().UTC()
	patch := models.ReviewPatch{
		Sentiment:              &decision.EffectiveSentiment,
		SentimentConfidence:    &sentimentConf,
		Category:               &category,
		CategoryConfidence:     &categoryConf,
		AIProcessed:            &processed,
		AIProcessedAt:          &processedAt,
		AIProcessingDurationMs: &durationMs,
		IsEscalated:            &decision.Escalated,
		EscalationStatus:       &decision.EscalationStatus,
		Status:                 &decision.FinalizedStatus,
	}
	if !processed {
		if errText == "" {
			errText = fallbackErrorText
		}
		patch.AIProcessingError = &errText
	}

	err := s.store.UpdateReview(ctx, review.ID, patch, store.Eq(store.FieldStatus, models.ReviewStatusPending))
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			logger.Info().Str("review", review.ID).Msg("[Review] already finalized, skipping")
		} else {
			metrics.FinalizeFailures.Inc()
			logger.Error().Err(err).Str("review", review.ID).Msg("[Review] finalize write failed, review stays pending")
		}
		return result, false
	}

	if decision.Escalated {
		metrics.Escalations.Inc()
	}
	logger.Info().
		Str("review", review.ID).
		Str("branch", review.BranchID).
		Str("sentiment", string(decision.EffectiveSentiment)).
		Bool("escalated", decision.Escalated).
		Bool("ai_processed", processed).
		Msg("[Review] finalized")

	s.dispatchSideEffects(review, result, actor)
	return result, true
}

// dispatchSideEffects schedules the best-effort work for a finalized review.
// Nothing here may fail or delay the submitter.
func (s *ReviewService) dispatchSideEffects(review *models.Review, result *ReviewResult, actor string) {
	if s.dispatcher == nil {
		return
	}

	event := ReviewEvent{
		Type:      EventReviewFinalized,
		BranchID:  review.BranchID,
		Review:    result,
		Timestamp: s.now().UTC(),
	}
	s.dispatcher.Dispatch("broadcast", func(context.Context) error {
		if s.hub == nil {
			return nil
		}
		if dropped := s.hub.Publish(event); dropped > 0 {
			return fmt.Errorf("%d slow subscribers missed review %s", dropped, review.ID)
		}
		return nil
	})

	if !result.IsEscalated {
		return
	}

	s.dispatcher.Dispatch("audit", func(ctx context.Context) error {
		if s.audit == nil {
			return nil
		}
		return s.audit.LogEvent(ctx, AuditEvent{
			ActorUID:   actor,
			Action:     models.AuditActionReviewEscalated,
			TargetID:   review.ID,
			TargetType: "review",
			BranchID:   review.BranchID,
			Metadata: map[string]interface{}{
				"aiSentiment":  result.Sentiment,
				"sourceRating": review.Rating,
			},
		})
	})

	s.dispatcher.Dispatch("notify", func(ctx context.Context) error {
		if s.notifier == nil {
			return nil
		}
		branch, err := s.store.GetBranch(ctx, review.BranchID)
		if err != nil {
			return fmt.Errorf("load branch %s: %w", review.BranchID, err)
		}
		return s.notifier.NotifyManager(ctx, branch, review.Rating, review.ReviewText)
	})
}

// RecordResponse attaches a staff reply and stamps the write-time SLA latency.
func (s *ReviewService) RecordResponse(ctx context.Context, reviewID string, req RecordResponseRequest) (*models.ReviewResponse, error) {
	if strings.TrimSpace(req.ResponseText) == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "responseText", Message: "cannot be empty"}}}
	}

	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, &StoreError{Op: "get review", Err: err}
	}
	if review.IsDeleted {
		return nil, ErrReviewNotFound
	}
	if review.ResponseStatus == models.ResponseResponded {
		return nil, ErrAlreadyResponded
	}

	now := s.now().UTC()
	minutes := int(math.Floor(now.Sub(review.CreatedAt).Minutes()))
	if minutes < 0 {
		minutes = 0
	}

	// Claim the review first so concurrent replies cannot both succeed.
	responded := models.ResponseResponded
	patch := models.ReviewPatch{
		ResponseStatus:      &responded,
		RespondedAt:         &now,
		ResponseTimeMinutes: &minutes,
	}
	writeCtx := context.WithoutCancel(ctx)
	if err := s.store.UpdateReview(writeCtx, reviewID, patch, store.Eq(store.FieldResponseStatus, models.ResponsePending)); err != nil {
		switch {
		case errors.Is(err, store.ErrPreconditionFailed):
			return nil, ErrAlreadyResponded
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrReviewNotFound
		}
		return nil, &StoreError{Op: "mark responded", Err: err}
	}

	resp := &models.ReviewResponse{
		ID:                  uuid.NewString(),
		ReviewID:            reviewID,
		BranchID:            review.BranchID,
		ResponseText:        req.ResponseText,
		RespondedBy:         req.RespondedBy,
		RespondedAt:         now,
		ResponseTimeMinutes: minutes,
	}
	if err := s.store.AddResponse(writeCtx, resp); err != nil {
		return nil, &StoreError{Op: "add response", Err: err}
	}

	logger.Info().Str("review", reviewID).Str("by", req.RespondedBy).Int("minutes", minutes).Msg("[Review] response recorded")
	return resp, nil
}

func (s *ReviewService) GetReview(ctx context.Context, id string) (*models.Review, error) {
	review, err := s.store.GetReview(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, &StoreError{Op: "get review", Err: err}
	}
	if review.IsDeleted {
		return nil, ErrReviewNotFound
	}
	return review, nil
}

// ListReviews returns non-deleted reviews, optionally for one branch.
func (s *ReviewService) ListReviews(ctx context.Context, branchID string) ([]models.Review, error) {
	where := []store.Predicate{store.Eq(store.FieldIsDeleted, false)}
	if branchID != "" {
		where = append(where, store.Eq(store.FieldBranchID, branchID))
	}
	reviews, err := s.store.QueryReviews(ctx, store.Query{Where: where})
	if err != nil {
		return nil, &StoreError{Op: "list reviews", Err: err}
	}
	return reviews, nil
}

// ListBranches returns every branch, active or not.
func (s *ReviewService) ListBranches(ctx context.Context) ([]models.Branch, error) {
	branches, err := s.store.QueryBranches(ctx, store.Query{})
	if err != nil {
		return nil, &StoreError{Op: "list branches", Err: err}
	}
	return branches, nil
}

func (s *ReviewService) ListResponses(ctx context.Context, reviewID string) ([]models.ReviewResponse, error) {
	if _, err := s.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}
	responses, err := s.store.QueryResponses(ctx, store.Query{Where: []store.Predicate{store.Eq(store.FieldReviewID, reviewID)}})
	if err != nil {
		return nil, &StoreError{Op: "list responses", Err: err}
	}
	return responses, nil
}
