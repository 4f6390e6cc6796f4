package services

import (
	"context"
	"encoding/json"

	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

// AuditEvent describes one audit record to write.
type AuditEvent struct {
	ActorUID   string
	Action     string
	TargetID   string
	TargetType string
	BranchID   string
	IP         string
	Metadata   map[string]interface{}
}

type AuditService struct {
	store store.Store
}

func NewAuditService(s store.Store) *AuditService {
	return &AuditService{store: s}
}

// LogEvent writes an audit record. Failures are logged and returned for
// counting; callers must not let them affect their own outcome.
func (s *AuditService) LogEvent(ctx context.Context, ev AuditEvent) error {
	meta := "{}"
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			meta = string(b)
		}
	}

	entry := &models.AuditLog{
		ActorUID:   ev.ActorUID,
		Action:     ev.Action,
		TargetID:   ev.TargetID,
		TargetType: ev.TargetType,
		BranchID:   ev.BranchID,
		IP:         ev.IP,
		Metadata:   meta,
	}
	if err := s.store.AddAuditLog(ctx, entry); err != nil {
		logger.Error().Err(err).Str("action", ev.Action).Str("target", ev.TargetID).Msg("[Audit] write failed")
		return err
	}

	logger.Info().
		Str("action", ev.Action).
		Str("actor", ev.ActorUID).
		Str("target", ev.TargetType+":"+ev.TargetID).
		Msg("[Audit] recorded")
	return nil
}
