package handler

import (
	"log/slog"
	"net/http"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/service"
)

// DeviceHandler exposes the caller's WhatsApp devices
type DeviceHandler struct {
	deviceService    service.DeviceService
	blacklistService service.BlacklistService
	logger           *slog.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService service.DeviceService, blacklistService service.BlacklistService, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService:    deviceService,
		blacklistService: blacklistService,
		logger:           logger,
	}
}

// ListDevices handles GET /devices
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	devices, err := h.deviceService.List(r.Context(), userID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, map[string]interface{}{"data": devices})
}

// RefreshDevice handles POST /devices/{id}/refresh
func (h *DeviceHandler) RefreshDevice(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := userAndID(w, r)
	if !ok {
		return
	}

	device, err := h.deviceService.Refresh(r.Context(), userID, id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, device)
}

// AddToBlacklist handles POST /blacklist
func (h *DeviceHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.BlacklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.blacklistService.Add(r.Context(), userID, &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, result)
}
