package models

import "time"

const BranchStatusActive = "active"

// Branch is read-only from the pipeline's point of view.
type Branch struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	ManagerID string    `gorm:"size:64" json:"managerId"`
	PlaceID   string    `gorm:"size:255" json:"placeId,omitempty"` // Google Places id, enables external sync
	AlertURL  string    `gorm:"size:500" json:"-"`                 // shoutrrr URL for the manager
	Status    string    `gorm:"size:20;default:active;index" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Branch) TableName() string { return "branches" }

// ReviewResponse is a staff reply to a review. Only its timestamp matters for SLA math.
type ReviewResponse struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	ReviewID            string    `gorm:"size:36;not null;index" json:"reviewId"`
	BranchID            string    `gorm:"size:64;index" json:"branchId"`
	ResponseText        string    `gorm:"type:text" json:"responseText"`
	RespondedBy         string    `gorm:"size:64;index" json:"respondedBy"`
	RespondedAt         time.Time `gorm:"index" json:"respondedAt"`
	ResponseTimeMinutes int       `json:"responseTimeMinutes"`
}

func (ReviewResponse) TableName() string { return "responses" }
