package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
)

// MessageService exposes a campaign's per-recipient messages
type MessageService interface {
	GetByID(ctx context.Context, userID, id int64) (*models.CampaignMessage, error)
	ListByCampaign(ctx context.Context, userID int64, filter models.CampaignMessageFilter) (*MessageListResult, error)
}

type messageService struct {
	messageRepo  repository.CampaignMessageRepository
	campaignRepo repository.CampaignRepository
	logger       *slog.Logger
}

// NewMessageService creates a new message service
func NewMessageService(
	messageRepo repository.CampaignMessageRepository,
	campaignRepo repository.CampaignRepository,
	logger *slog.Logger,
) MessageService {
	return &messageService{
		messageRepo:  messageRepo,
		campaignRepo: campaignRepo,
		logger:       logger,
	}
}

// GetByID retrieves a message the user owns
func (s *messageService) GetByID(ctx context.Context, userID, id int64) (*models.CampaignMessage, error) {
	message, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := ownedCampaign(ctx, s.campaignRepo, userID, message.CampaignID); err != nil {
		return nil, err
	}

	return message, nil
}

// ListByCampaign lists a campaign's messages with pagination
func (s *messageService) ListByCampaign(ctx context.Context, userID int64, filter models.CampaignMessageFilter) (*MessageListResult, error) {
	if filter.Status != "" && !models.IsValidMessageStatus(filter.Status) {
		return nil, models.ErrInvalidInput(fmt.Sprintf("invalid status: %s", filter.Status))
	}

	if _, err := ownedCampaign(ctx, s.campaignRepo, userID, filter.CampaignID); err != nil {
		return nil, err
	}

	models.NormalizePage(&filter.Page, &filter.PageSize)

	messages, totalCount, err := s.messageRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list campaign messages",
			slog.Int64("campaign_id", filter.CampaignID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &MessageListResult{
		Data:       messages,
		Pagination: models.NewPaginationResult(filter.Page, filter.PageSize, totalCount),
	}, nil
}

// ownedCampaign loads a campaign and hides it from other users
func ownedCampaign(ctx context.Context, repo repository.CampaignRepository, userID, id int64) (*models.Campaign, error) {
	campaign, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.UserID != userID {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign %d not found", id))
	}
	return campaign, nil
}
