package models

import "time"

type Source string

const (
	SourceInternal Source = "internal"
	SourceGoogle   Source = "google"
	SourceZomato   Source = "zomato"
	SourceSwiggy   Source = "swiggy"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the three known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusNormal   ReviewStatus = "normal"
	ReviewStatusCritical ReviewStatus = "critical"
)

type EscalationStatus string

const (
	EscalationNone      EscalationStatus = "none"
	EscalationEscalated EscalationStatus = "escalated"
)

type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseResponded ResponseStatus = "responded"
)

const (
	ReviewSchemaVersion = 2
	DefaultCategory     = "uncategorized"
)

// Review is one piece of customer feedback for a branch.
// Input fields are immutable after creation; enrichment fields are written
// once by the pipeline when the review leaves the pending state.
type Review struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	BranchID         string     `gorm:"size:64;not null;index;uniqueIndex:idx_reviews_branch_external" json:"branchId"`
	Source           Source     `gorm:"size:20;not null" json:"source"`
	Rating           int        `gorm:"not null" json:"rating"`
	ReviewText       string     `gorm:"type:text;not null" json:"reviewText"`
	AuthorName       string     `gorm:"size:200" json:"authorName,omitempty"`
	Contact          string     `gorm:"size:200" json:"contact,omitempty"`
	StaffTagged      string     `gorm:"size:64;index" json:"staffTagged,omitempty"`
	ExternalReviewID *string    `gorm:"size:255;uniqueIndex:idx_reviews_branch_external" json:"externalReviewId,omitempty"`
	ExternalAt       *time.Time `json:"externalTimestamp,omitempty"`

	Sentiment              *Sentiment `gorm:"size:20" json:"sentiment"`
	SentimentConfidence    *float64   `json:"sentimentConfidence"`
	Category               string     `gorm:"size:100" json:"category"`
	CategoryConfidence     *float64   `json:"categoryConfidence"`
	AIProcessed            bool       `gorm:"column:ai_processed" json:"aiProcessed"`
	AIProcessingError      *string    `gorm:"column:ai_processing_error;type:text" json:"aiProcessingError,omitempty"`
	AIProcessedAt          *time.Time `gorm:"column:ai_processed_at" json:"aiProcessedAt,omitempty"`
	AIProcessingDurationMs int64      `gorm:"column:ai_processing_duration_ms" json:"aiProcessingDurationMs"`

	IsEscalated      bool             `gorm:"index" json:"isEscalated"`
	EscalationStatus EscalationStatus `gorm:"size:20" json:"escalationStatus"`
	Status           ReviewStatus     `gorm:"size:20;index" json:"status"`

	ResponseStatus      ResponseStatus `gorm:"size:20;index" json:"responseStatus"`
	ResponseTimeMinutes *int           `json:"responseTimeMinutes,omitempty"`
	RespondedAt         *time.Time     `json:"respondedAt,omitempty"`

	IsDeleted     bool      `gorm:"index" json:"isDeleted"`
	SchemaVersion int       `json:"schemaVersion"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Review) TableName() string { return "reviews" }

// ReviewPatch is a partial update. Nil fields are left untouched.
type ReviewPatch struct {
	Sentiment              *Sentiment
	SentimentConfidence    *float64
	Category               *string
	CategoryConfidence     *float64
	AIProcessed            *bool
	AIProcessingError      *string
	AIProcessedAt          *time.Time
	AIProcessingDurationMs *int64
	IsEscalated            *bool
	EscalationStatus       *EscalationStatus
	Status                 *ReviewStatus
	ResponseStatus         *ResponseStatus
	ResponseTimeMinutes    *int
	RespondedAt            *time.Time
	IsDeleted              *bool
}

// Columns returns the patch as a column map for gorm Updates.
func (p ReviewPatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if p.Sentiment != nil {
		cols["sentiment"] = *p.Sentiment
	}
	if p.SentimentConfidence != nil {
		cols["sentiment_confidence"] = *p.SentimentConfidence
	}
	if p.Category != nil {
		cols["category"] = *p.Category
	}
	if p.CategoryConfidence != nil {
		cols["category_confidence"] = *p.CategoryConfidence
	}
	if p.AIProcessed != nil {
		cols["ai_processed"] = *p.AIProcessed
	}
	if p.AIProcessingError != nil {
		cols["ai_processing_error"] = *p.AIProcessingError
	}
	if p.AIProcessedAt != nil {
		cols["ai_processed_at"] = *p.AIProcessedAt
	}
	if p.AIProcessingDurationMs != nil {
		cols["ai_processing_duration_ms"] = *p.AIProcessingDurationMs
	}
	if p.IsEscalated != nil {
		cols["is_escalated"] = *p.IsEscalated
	}
	if p.EscalationStatus != nil {
		cols["escalation_status"] = *p.EscalationStatus
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.ResponseStatus != nil {
		cols["response_status"] = *p.ResponseStatus
	}
	if p.ResponseTimeMinutes != nil {
		cols["response_time_minutes"] = *p.ResponseTimeMinutes
	}
	if p.RespondedAt != nil {
		cols["responded_at"] = *p.RespondedAt
	}
	if p.IsDeleted != nil {
		cols["is_deleted"] = *p.IsDeleted
	}
	return cols
}

// Apply copies the non-nil patch fields onto r.
func (p ReviewPatch) Apply(r *Review) {
	if p.Sentiment != nil {
		s := *p.Sentiment
		r.Sentiment = &s
	}
	if p.SentimentConfidence != nil {
		v := *p.SentimentConfidence
		r.SentimentConfidence = &v
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.CategoryConfidence != nil {
		v := *p.CategoryConfidence
		r.CategoryConfidence = &v
	}
	if p.AIProcessed != nil {
		r.AIProcessed = *p.AIProcessed
	}
	if p.AIProcessingError != nil {
		v := *p.AIProcessingError
		r.AIProcessingError = &v
	}
	if p.AIProcessedAt != nil {
		v := *p.AIProcessedAt
		r.AIProcessedAt = &v
	}
	if p.AIProcessingDurationMs != nil {
		r.AIProcessingDurationMs = *p.AIProcessingDurationMs
	}
	if p.IsEscalated != nil {
		r.IsEscalated = *p.IsEscalated
	}
	if p.EscalationStatus != nil {
		r.EscalationStatus = *p.EscalationStatus
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ResponseStatus != nil {
		r.ResponseStatus = *p.ResponseStatus
	}
	if p.ResponseTimeMinutes != nil {
		v := *p.ResponseTimeMinutes
		r.ResponseTimeMinutes = &v
	}
	if p.RespondedAt != nil {
		v := *p.RespondedAt
		r.RespondedAt = &v
	}
	if p.IsDeleted != nil {
		r.IsDeleted = *p.IsDeleted
	}
}
