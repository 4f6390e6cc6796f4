package models

import "time"

const (
	AuditActionReviewEscalated = "REVIEW_ESCALATED"
	AuditActionReviewSwept     = "REVIEW_SWEPT"
	AuditActionRequest         = "HTTP_REQUEST"

	AuditActorSystemAI    = "SYSTEM_AI"
	AuditActorSystemSweep = "SYSTEM_SWEEP"
)

// AuditLog is an append-only record of a notable action.
type AuditLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ActorUID   string    `gorm:"size:64;index" json:"actorUid"`
	Action     string    `gorm:"size:100;index" json:"action"`
	TargetID   string    `gorm:"size:64;index" json:"targetId"`
	TargetType string    `gorm:"size:50" json:"targetType"`
	BranchID   string    `gorm:"size:64;index" json:"branchId,omitempty"`
	Metadata   string    `gorm:"type:text" json:"metadata"` // JSON
	IP         string    `gorm:"size:50" json:"ip,omitempty"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

func (AuditLog) TableName() string { return "audit_logs" }
