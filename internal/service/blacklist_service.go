package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
)

// BlacklistService manages numbers that must never receive messages
type BlacklistService interface {
	Add(ctx context.Context, userID int64, req *BlacklistRequest) (*BlacklistResult, error)
}

type blacklistService struct {
	blacklistRepo      repository.BlacklistRepository
	defaultCountryCode string
	logger             *slog.Logger
}

// NewBlacklistService creates a new blacklist service
func NewBlacklistService(blacklistRepo repository.BlacklistRepository, defaultCountryCode string, logger *slog.Logger) BlacklistService {
	return &blacklistService{
		blacklistRepo:      blacklistRepo,
		defaultCountryCode: defaultCountryCode,
		logger:             logger,
	}
}

// Add normalises and stores phones. Invalid entries are reported back.
func (s *blacklistService) Add(ctx context.Context, userID int64, req *BlacklistRequest) (*BlacklistResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &BlacklistResult{}
	phones := make([]string, 0, len(req.Phones))
	for _, raw := range req.Phones {
		phone, ok := models.NormalizePhone(raw, s.defaultCountryCode)
		if !ok {
			result.Invalid = append(result.Invalid, raw)
			continue
		}
		phones = append(phones, phone)
	}

	if len(phones) == 0 {
		return nil, models.ErrInvalidInput("no valid phone numbers")
	}

	added, err := s.blacklistRepo.Add(ctx, userID, phones)
	if err != nil {
		return nil, fmt.Errorf("failed to add to blacklist: %w", err)
	}
	result.Added = added

	s.logger.Info("blacklist updated",
		slog.Int64("user_id", userID),
		slog.Int64("added", added),
		slog.Int("invalid", len(result.Invalid)),
	)

	return result, nil
}
