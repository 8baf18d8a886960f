package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// handleError maps service errors to HTTP responses
func handleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		status := mapErrorCodeToHTTPStatus(appErr.Code)
		if status == http.StatusInternalServerError {
			logger.Error("internal server error",
				slog.String("code", appErr.Code),
				slog.String("error", err.Error()),
			)
		}
		respondErrorWithDetails(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())

	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())

	case errors.Is(err, models.ErrDeviceBusy):
		respondError(w, http.StatusConflict, "DEVICE_BUSY", err.Error())

	case errors.Is(err, models.ErrNoDeviceAvailable):
		respondError(w, http.StatusConflict, "NO_DEVICE_AVAILABLE", models.NoDeviceMessage)

	case errors.Is(err, models.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())

	default:
		// Log internal errors but don't expose details to client
		logger.Error("internal server error",
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

// mapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func mapErrorCodeToHTTPStatus(code string) int {
	switch code {
	case "INVALID_INPUT":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT", "DEVICE_BUSY", "NO_DEVICE_AVAILABLE":
		return http.StatusConflict
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
