package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/gateway"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
)

// DeviceService reads WhatsApp connections and syncs their status
type DeviceService interface {
	List(ctx context.Context, userID int64) ([]*models.Device, error)
	Refresh(ctx context.Context, userID, id int64) (*models.Device, error)
}

type deviceService struct {
	deviceRepo repository.DeviceRepository
	gateway    gateway.Client
	logger     *slog.Logger
}

// NewDeviceService creates a new device service
func NewDeviceService(deviceRepo repository.DeviceRepository, gw gateway.Client, logger *slog.Logger) DeviceService {
	return &deviceService{
		deviceRepo: deviceRepo,
		gateway:    gw,
		logger:     logger,
	}
}

// List returns the user's devices
func (s *deviceService) List(ctx context.Context, userID int64) ([]*models.Device, error) {
	devices, err := s.deviceRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// Refresh asks the gateway for the session status and stores it
func (s *deviceService) Refresh(ctx context.Context, userID, id int64) (*models.Device, error) {
	device, err := s.deviceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.UserID != userID {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("device %d not found", id))
	}

	session, err := s.gateway.GetSession(ctx, device.SessionName)
	if err != nil {
		s.logger.Warn("failed to read gateway session",
			slog.Int64("device_id", id),
			slog.String("session", device.SessionName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	status := session.Status
	phone := device.Phone
	if session.Phone != "" {
		phone = session.Phone
	}

	if status != device.Status || phone != device.Phone {
		if err := s.deviceRepo.UpdateStatus(ctx, id, status, phone); err != nil {
			return nil, err
		}
		s.logger.Info("device status changed",
			slog.Int64("device_id", id),
			slog.String("from", device.Status),
			slog.String("to", status),
		)
	}

	device.Status = status
	device.Phone = phone
	return device, nil
}
