package models

import "time"

// Device connection statuses reported by the gateway
const (
	DeviceStatusConnected    = "connected"
	DeviceStatusDisconnected = "disconnected"
	DeviceStatusConnecting   = "connecting"
	DeviceStatusQRPending    = "qr_pending"
)

// Device is a WhatsApp account connected through the gateway
type Device struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	SessionName string    `json:"session_name"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsConnected reports whether the device can send
func (d *Device) IsConnected() bool {
	return d.Status == DeviceStatusConnected
}

// Label returns a human-readable name for messages
func (d *Device) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	if d.Phone != "" {
		return d.Phone
	}
	return d.SessionName
}
