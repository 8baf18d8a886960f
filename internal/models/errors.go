package models

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrConflict          = errors.New("operation conflicts with current state")
	ErrDeviceBusy        = errors.New("device is used by another running campaign")
	ErrNoDeviceAvailable = errors.New("no connected device available")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrUnauthorized      = errors.New("unauthorized")
)

// AppError represents an application-level error with context
type AppError struct {
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrInvalidInput creates a validation error
func ErrInvalidInput(message string) error {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
	}
}

// ErrNotFoundWithMsg creates a not found error with custom message
func ErrNotFoundWithMsg(message string) error {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Err:     ErrNotFound,
	}
}

// ErrConflictWithMsg creates a conflict error with custom message
func ErrConflictWithMsg(message string) error {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Err:     ErrConflict,
	}
}

// ErrDeviceBusyWithMsg creates a device-busy conflict. When canSaveAsDraft is
// set the client may resubmit the request with save_as_draft.
func ErrDeviceBusyWithMsg(message string, busy *BusyCampaign, canSaveAsDraft bool) error {
	details := map[string]interface{}{
		"can_save_as_draft": canSaveAsDraft,
	}
	if busy != nil {
		details["device_id"] = busy.DeviceID
		details["busy_campaign_id"] = busy.CampaignID
		details["busy_campaign_name"] = busy.CampaignName
	}
	return &AppError{
		Code:    "DEVICE_BUSY",
		Message: message,
		Details: details,
		Err:     ErrDeviceBusy,
	}
}

// ErrNoDeviceWithMsg creates an unavailable-device error
func ErrNoDeviceWithMsg(message string) error {
	return &AppError{
		Code:    "NO_DEVICE_AVAILABLE",
		Message: message,
		Err:     ErrNoDeviceAvailable,
	}
}

// ErrUnauthorizedWithMsg creates an authentication error
func ErrUnauthorizedWithMsg(message string) error {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Err:     ErrUnauthorized,
	}
}

// DeviceBusyMessage is the user-facing text shown when a device is held by
// another running campaign.
func DeviceBusyMessage(deviceLabel, campaignName string) string {
	return fmt.Sprintf("המכשיר %s תפוס כרגע על ידי הקמפיין \"%s\". יש להמתין לסיום הקמפיין או להשהות אותו.", deviceLabel, campaignName)
}

// NoDeviceMessage is the user-facing text shown when no device can send.
const NoDeviceMessage = "אין מכשיר מחובר וזמין לשליחה"
