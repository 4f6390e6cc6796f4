package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/pkg/logger"
)

// ManagerAlert is the urgent message sent to a branch manager when a review
// escalates.
type ManagerAlert struct {
	BranchID   string
	BranchName string
	ManagerID  string
	Rating     int
	ReviewText string
}

func (a ManagerAlert) Title() string {
	return fmt.Sprintf("URGENT: New critical review at %s", a.BranchName)
}

func (a ManagerAlert) Body() string {
	return fmt.Sprintf(
		"URGENT: New %d-Star Critical Review at %s. Customer says: '%s' Please respond immediately to mitigate.",
		a.Rating, a.BranchName, a.ReviewText,
	)
}

type sendFunc func(ctx context.Context, urls []string, title, body string) error

type NotificationService struct {
	urls    []string
	timeout time.Duration
	send    sendFunc
}

func NewNotificationService(cfg config.NotificationConfig) *NotificationService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &NotificationService{
		urls:    cfg.URLs,
		timeout: timeout,
	}
	s.send = s.shoutrrrSend
	return s
}

// NotifyManager alerts the manager of branch. The branch's own alert URL
// takes precedence over the configured defaults.
func (s *NotificationService) NotifyManager(ctx context.Context, branch *models.Branch, rating int, reviewText string) error {
	alert := ManagerAlert{
		BranchID:   branch.ID,
		BranchName: branchDisplayName(branch),
		ManagerID:  branch.ManagerID,
		Rating:     rating,
		ReviewText: reviewText,
	}

	urls := s.urls
	if strings.TrimSpace(branch.AlertURL) != "" {
		urls = []string{branch.AlertURL}
	}
	if len(urls) == 0 {
		logger.Warn().Str("branch", branch.ID).Msg("[Notification] no alert destination configured, skipping")
		return nil
	}

	if err := s.send(ctx, urls, alert.Title(), alert.Body()); err != nil {
		return fmt.Errorf("notify manager of branch %s: %w", branch.ID, err)
	}
	logger.Info().Str("branch", branch.ID).Str("manager", branch.ManagerID).Msg("[Notification] manager alerted")
	return nil
}

func (s *NotificationService) shoutrrrSend(_ context.Context, urls []string, title, body string) error {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return fmt.Errorf("create sender: %w", err)
	}
	sender.Timeout = s.timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	params := stypes.Params{}
	params.SetTitle(title)
	for _, e := range sender.Send(body, &params) {
		if e != nil {
			return e
		}
	}
	return nil
}

func branchDisplayName(b *models.Branch) string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}
